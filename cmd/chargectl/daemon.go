package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/chargectl/chargectl/pkg/daemon"
	"github.com/chargectl/chargectl/pkg/hardware"
	"github.com/chargectl/chargectl/pkg/helper"
	"github.com/chargectl/chargectl/pkg/smc"
	"github.com/chargectl/chargectl/pkg/version"
)

var (
	// alwaysAllowNonRootAccess indicates whether to always allow non-root users to access the chargectl daemon.
	alwaysAllowNonRootAccess = false
)

// NewDaemonCommand .
func NewDaemonCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "daemon",
		Hidden:      true,
		Short:       "Run chargectl daemon in the foreground",
		GroupID:     gAdvanced,
		Annotations: map[string]string{"standalone": "true"},
		RunE: func(_ *cobra.Command, _ []string) error {
			logrus.WithFields(logrus.Fields{
				"version": version.Version,
				"commit":  version.GitCommit,
			}).Info("chargectl daemon starting")
			return daemon.Run(daemon.Options{
				ConfigPath:       configPath,
				SocketPath:       unixSocketPath,
				HelperSocketPath: helperSocketPath,
				DBPath:           dbPath,
				AllowNonRoot:     alwaysAllowNonRootAccess,
			})
		},
	}

	f := cmd.Flags()

	f.BoolVar(&alwaysAllowNonRootAccess, "always-allow-non-root-access", false,
		"Always allow non-root users to access the daemon.")
	f.StringVar(&dbPath, "db", dbPath, "state database path (schedules and calibration progress)")

	return cmd
}

// NewHelperCommand runs the privileged helper that owns the SMC connection
// for an unprivileged daemon.
func NewHelperCommand() *cobra.Command {
	var allowNonRoot bool

	cmd := &cobra.Command{
		Use:         "helper",
		Hidden:      true,
		Short:       "Run the privileged register helper in the foreground",
		GroupID:     gAdvanced,
		Annotations: map[string]string{"standalone": "true"},
		RunE: func(_ *cobra.Command, _ []string) error {
			if helperSocketPath == "" {
				return fmt.Errorf("--helper-socket must not be empty")
			}

			conn := smc.New()
			if err := conn.Open(); err != nil {
				return fmt.Errorf("failed to open SMC: %w", err)
			}
			defer func() {
				logrus.Info("closing smc connection")
				if err := conn.Close(); err != nil {
					logrus.WithError(err).Error("failed to close smc connection")
				}
			}()

			local := hardware.NewLocal(conn, version.Version)
			caps, _ := local.Capabilities(context.Background())
			logrus.WithFields(caps.LogrusFields()).Info("hardware capabilities detected")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return helper.NewServer(local).Serve(ctx, helperSocketPath, allowNonRoot)
		},
	}

	cmd.Flags().BoolVar(&allowNonRoot, "allow-non-root-access", false,
		"Allow non-root daemons to reach the helper socket.")

	return cmd
}
