package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/chargectl/chargectl/pkg/client"
	"github.com/chargectl/chargectl/pkg/version"
)

var (
	logLevel         = "info"
	unixSocketPath   = "/var/run/chargectl.sock"
	helperSocketPath = "/var/run/chargectl-helper.sock"
	configPath       = "/etc/chargectl.json"
	dbPath           = "/var/lib/chargectl/state.db"
)

var apiClient *client.Client

var (
	gBasic        = "Basic:"
	gAdvanced     = "Advanced:"
	commandGroups = []string{
		gBasic,
		gAdvanced,
	}
)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

func handleCmdError(err error) {
	if errors.Is(err, client.ErrDaemonNotRunning) {
		fmt.Fprintln(os.Stderr, "\nError: chargectl daemon is not running")
		fmt.Fprintln(os.Stderr, "Is the daemon running? Start it with 'chargectl daemon'.")
	} else if errors.Is(err, client.ErrPermissionDenied) {
		fmt.Fprintln(os.Stderr, "\nError: Permission Denied")
		fmt.Fprintln(os.Stderr, "  - Try running the command again with 'sudo'")
		fmt.Fprintln(os.Stderr, "  - Or run the daemon with '--always-allow-non-root-access' to grant permissions to your user")
	}
}

func main() {
	// chargectl does not need many CPUs.
	if os.Getenv("GOMAXPROCS") == "" {
		runtime.GOMAXPROCS(2)
	}

	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chargectl",
		Short: "chargectl keeps laptop battery charge within configurable limits",
		Long: `chargectl keeps laptop battery charge within configurable limits.

It runs as a daemon that periodically evaluates the charging mode (normal,
top-up, sailing, discharge, calibration) and writes the charging control
registers, either directly or through a privileged helper.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			err := setupLogger()
			if err != nil {
				return err
			}

			apiClient = client.NewClient(unixSocketPath)

			// The daemon and the helper do not talk to a daemon.
			if cmd.Annotations["standalone"] != "" {
				return nil
			}

			if clientVersion, daemonVersion, err := getVersion(); err == nil {
				if daemonVersion != clientVersion {
					logrus.WithFields(logrus.Fields{
						"clientVersion": clientVersion,
						"daemonVersion": daemonVersion,
					}).Warn("Version mismatch between client and daemon. chargectl may not work as expected.")
				}
			} else if errors.Is(err, client.ErrNotFound) {
				logrus.Error("chargectl daemon is too old to report its version.")
			}

			return nil
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path, TOML if it ends with .toml")
	globalFlags.StringVar(&unixSocketPath, "daemon-socket", unixSocketPath, "chargectl daemon unix socket path")
	globalFlags.StringVar(&helperSocketPath, "helper-socket", helperSocketPath, "privileged helper unix socket path, empty to disable the helper")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewDaemonCommand(),
		NewHelperCommand(),
		NewVersionCommand(),
		NewStatusCommand(),
		NewLimitCommand(),
		NewModeCommand(),
		NewDisableCommand(),
		NewSailingCommand(),
		NewHeatProtectionCommand(),
		NewSetPreventSleepCommand(),
		NewSetControlMagSafeLEDCommand(),
		NewCalibrationCommand(),
		NewScheduleCommand(),
		NewReconnectCommand(),
		NewCapabilitiesCommand(),
		NewLogsCommand(),
		NewEventsCommand(),
	)

	return cmd
}

func getVersion() (clientVersion, daemonVersion string, err error) {
	clientVersion = version.Version
	daemonVersion, err = apiClient.GetVersion()
	return clientVersion, daemonVersion, err
}
