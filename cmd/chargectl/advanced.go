package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func NewSetPreventSleepCommand() *cobra.Command {
	return newEnableDisableCommand(
		"prevent-sleep",
		"Set whether to prevent idle sleep while charging",
		`Set whether to prevent idle sleep while charging.

chargectl cannot stop charging while the computer sleeps. With this option
idle sleep is prevented while a charging session is in progress, so charging
can be stopped at the limit. The assertion is released as soon as charging
stops.`,
		func() (string, error) { return apiClient.SetPreventSleep(true) },
		func() (string, error) { return apiClient.SetPreventSleep(false) },
	)
}

func NewSetControlMagSafeLEDCommand() *cobra.Command {
	return newEnableDisableCommand(
		"magsafe-led",
		"Control MagSafe LED according to battery charging status",
		`This option can make the MagSafe LED on your MacBook change color according to the charging status. For example:

- Green: Charge limit is reached and charging is stopped.
- Orange: Charging is in progress.

Note that you must have a MagSafe LED on your MacBook to use this feature.`,
		func() (string, error) { return apiClient.SetControlMagSafeLED(true) },
		func() (string, error) { return apiClient.SetControlMagSafeLED(false) },
	)
}

func NewSailingCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "sailing [low] [high]",
		Short:   "Set the sailing range",
		GroupID: gAdvanced,
		Long: `Set the sailing range.

In sailing mode the battery is not charged while its charge is between low
and high. Below low charging resumes; above high the battery is discharged
even when plugged in.`,
		Args: cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			low, err := parseIntArg(args[:1], "low")
			if err != nil {
				return err
			}
			high, err := parseIntArg(args[1:], "high")
			if err != nil {
				return err
			}

			ret, err := apiClient.SetSailing(low, high)
			if err != nil {
				return fmt.Errorf("failed to set sailing range: %v", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}

			return nil
		},
	}
}

func NewHeatProtectionCommand() *cobra.Command {
	var threshold float64

	set := func(enabled bool) error {
		ret, err := apiClient.SetHeatProtection(enabled, threshold)
		if err != nil {
			return fmt.Errorf("failed to set heat protection: %v", err)
		}
		if ret != "" {
			logrus.Infof("daemon responded: %s", ret)
		}
		return nil
	}

	cmd := &cobra.Command{
		Use:     "heat-protection",
		Short:   "Stop charging while the battery is too hot",
		GroupID: gAdvanced,
		Long: `Stop charging while the battery is too hot.

When enabled and the hottest battery sensor is above the threshold, charging
is disabled and the mode switches to heatProtection until you pick another
mode.`,
	}

	cmd.PersistentFlags().Float64Var(&threshold, "threshold", 0, "temperature threshold in °C, 0 keeps the current one")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "enable",
			Short: "Enable heat protection",
			RunE:  func(_ *cobra.Command, _ []string) error { return set(true) },
		},
		&cobra.Command{
			Use:   "disable",
			Short: "Disable heat protection",
			RunE:  func(_ *cobra.Command, _ []string) error { return set(false) },
		},
	)

	return cmd
}

func NewReconnectCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "reconnect",
		Short:   "Retry connecting to the privileged helper",
		GroupID: gAdvanced,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := apiClient.Reconnect()
			if err != nil {
				return err
			}
			if conn.Proxied {
				cmd.Println("Connected to the privileged helper.")
			} else {
				cmd.Println("Privileged helper not reachable, using direct access.")
			}
			return nil
		},
	}
}

func NewCapabilitiesCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "capabilities",
		Aliases: []string{"caps"},
		Short:   "Show which control registers this hardware has",
		GroupID: gAdvanced,
		RunE: func(cmd *cobra.Command, _ []string) error {
			caps, err := apiClient.GetCapabilities()
			if err != nil {
				return err
			}

			cmd.Printf("  Charging (CH0B/CH0C): %s/%s\n", bool2Text(caps.ChargingLegacy1), bool2Text(caps.ChargingLegacy2))
			cmd.Printf("  Charging (CHTE): %s\n", bool2Text(caps.ChargingCombined))
			cmd.Printf("  Inhibit (CH0I): %s\n", bool2Text(caps.InhibitLegacy))
			cmd.Printf("  Inhibit (CHIE): %s\n", bool2Text(caps.InhibitModern))
			cmd.Printf("  Charge ceiling (BCLM): %s\n", bool2Text(caps.ChargeCeiling))
			cmd.Printf("  Force charging (BFCL): %s\n", bool2Text(caps.ForceCharging))
			cmd.Printf("  Charge level (BUIC): %s\n", bool2Text(caps.ChargeLevel))
			cmd.Printf("  MagSafe LED (ACLC): %s\n", bool2Text(caps.MagSafeLED))
			for i, ok := range caps.Temperature {
				cmd.Printf("  Temperature sensor %d: %s\n", i, bool2Text(ok))
			}
			return nil
		},
	}
}

func NewLogsCommand() *cobra.Command {
	var clearEntries bool

	cmd := &cobra.Command{
		Use:     "logs",
		Short:   "Show recent daemon log entries",
		GroupID: gAdvanced,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if clearEntries {
				return apiClient.ClearLogs()
			}

			entries, err := apiClient.GetLogs()
			if err != nil {
				return err
			}

			for _, e := range entries {
				level := e.Level
				switch level {
				case "error", "fatal", "panic":
					level = color.RedString(level)
				case "warning":
					level = color.YellowString(level)
				}
				line := fmt.Sprintf("%s %s %s", e.Time.Local().Format("15:04:05"), level, e.Message)
				for k, v := range e.Fields {
					line += fmt.Sprintf(" %s=%v", k, v)
				}
				cmd.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&clearEntries, "clear", false, "clear the buffered entries")

	return cmd
}

func NewEventsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "events",
		Short:   "Follow daemon events",
		GroupID: gAdvanced,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ch, err := apiClient.Events(ctx)
			if err != nil {
				return err
			}

			for ev := range ch {
				cmd.Printf("%s %s %s\n", ev.Time.Format("15:04:05"), bold("%s", ev.Name), string(ev.Data))
			}
			return nil
		},
	}
}
