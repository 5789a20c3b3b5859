package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chargectl/chargectl/pkg/engine"
	"github.com/chargectl/chargectl/pkg/powerinfo"
	"github.com/chargectl/chargectl/pkg/types"
)

func NewStatusCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of chargectl",
		Long:    `Get chargectl status, battery info, and configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := apiClient.GetStatus()
			if err != nil {
				return err
			}

			if asJSON {
				b, err := json.MarshalIndent(s, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal status: %w", err)
				}
				cmd.Println(string(b))
				return nil
			}

			printStatus(cmd, s)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw status as JSON")

	return cmd
}

func printStatus(cmd *cobra.Command, s *types.Status) {
	// Charging status.
	cmd.Println(bold("Charging status:"))
	cmd.Printf("  Mode: %s\n", bold("%s", s.Mode))
	if s.EffectiveLimit != s.ConfiguredLimit {
		cmd.Printf("  Charge limit: %s (configured %d%%, overridden by schedule %s)\n",
			bold("%d%%", s.EffectiveLimit), s.ConfiguredLimit, s.ActiveSchedule)
	} else {
		cmd.Printf("  Charge limit: %s\n", bold("%d%%", s.EffectiveLimit))
	}
	if s.Mode == engine.ModeSailing {
		cmd.Printf("  Sailing range: %s\n", bold("%d%%-%d%%", s.SailingLow, s.SailingHigh))
	}
	if ev := s.LastEvaluation; ev != nil {
		cmd.Printf("  Last action: %s (%s ago)\n", bold("%s", ev.Decision), time.Since(ev.At).Round(time.Second))
		if ev.Error != "" {
			cmd.Printf("    %s\n", color.RedString(ev.Error))
		}
	}
	cmd.Printf("  Sleep prevented: %s\n", bool2Text(s.SleepPrevented))

	cmd.Println()

	// Battery Info.
	cmd.Println(bold("Battery status:"))
	if b := s.Battery; b != nil {
		cmd.Printf("  Current charge: %s\n", bold("%d%%", b.Level))

		state := b.State.String()
		switch b.State {
		case powerinfo.Charging:
			state = color.GreenString(state)
		case powerinfo.Discharging:
			if b.ChargeRate != 0 {
				state = color.RedString(state)
			}
		}
		cmd.Printf("  State: %s\n", bold("%s", state))
		cmd.Printf("  Plugged in: %s\n", bool2Text(b.PluggedIn))

		// Show charge rate in Watts with sign (+ charging, - discharging) and bright color (bold)
		watts := b.ChargeRate / 1e3
		var rateStr string
		switch {
		case watts > 0:
			rateStr = color.New(color.Bold, color.FgGreen).Sprintf("%+.1f W", watts)
		case watts < 0:
			rateStr = color.New(color.Bold, color.FgRed).Sprintf("%+.1f W", watts)
		default:
			rateStr = bold("%+.1f W", watts)
		}
		cmd.Printf("  Charge rate: %s\n", rateStr)
		if h := b.Health(); h > 0 {
			cmd.Printf("  Health: %s\n", bold("%d%%", h))
		}
	} else {
		cmd.Println("  No battery reading yet.")
	}
	if s.Temperature > 0 {
		cmd.Printf("  Temperature: %s\n", bold("%.1f°C", s.Temperature))
	}

	cmd.Println()

	cmd.Println(bold("Calibration:"))
	cmd.Printf("  %s\n", s.Calibration.Message)
	if !s.Calibration.NextRun.IsZero() {
		cmd.Printf("  Next scheduled run: %s\n", s.Calibration.NextRun.Local().Format(time.DateTime))
	}

	if len(s.Schedules) > 0 {
		cmd.Println()
		cmd.Println(bold("Schedules:"))
		for _, sch := range s.Schedules {
			printSchedule(cmd, sch)
		}
	}

	cmd.Println()

	// Config.
	cmd.Println(bold("Configuration:"))
	cmd.Printf("  Heat protection: %s (threshold %.1f°C)\n", bool2Text(s.HeatProtection), s.HeatThreshold)
	if s.Connection.Proxied {
		cmd.Printf("  Register access: %s\n", bold("privileged helper"))
	} else {
		cmd.Printf("  Register access: %s\n", bold("direct"))
	}
	if s.Connection.Disconnected {
		cmd.Printf("    %s\n", color.YellowString("helper disconnected, reconnecting on next action"))
	}
	cmd.Printf("  Daemon version: %s\n", s.Version)
	if len(s.RecentEvaluations) > 0 {
		cmd.Printf("  Recent evaluations: %v\n", s.RecentEvaluations)
	}
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}
