package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chargectl/chargectl/pkg/calibration"
)

func NewCalibrationCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "calibration",
		Aliases: []string{"calibrate", "cali"},
		Short:   "Manage battery calibration",
		Long:    "Start, monitor, schedule and cancel calibration cycles (discharge to the target, then charge to 100%).",
		GroupID: gAdvanced,
	}

	startCmd := &cobra.Command{
		Use:   "start [target]",
		Short: "Start a calibration cycle, discharging to target first (default from config)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := 0
			if len(args) == 1 {
				var err error
				if target, err = parseIntArg(args, "target"); err != nil {
					return err
				}
			}
			st, err := apiClient.StartCalibration(target)
			if err != nil {
				return fmt.Errorf("failed to start calibration: %w", err)
			}
			cmd.Printf("Calibration started, discharging to %d%%.\n", st.Target)
			return nil
		},
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the calibration and go back to normal mode",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := apiClient.CancelCalibration(); err != nil {
				return fmt.Errorf("failed to cancel calibration: %w", err)
			}
			cmd.Println("Calibration canceled, charging re-enabled.")
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show current calibration status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient.GetCalibration()
			if err != nil {
				return fmt.Errorf("failed to fetch calibration status: %w", err)
			}
			printCalibrationStatus(cmd, st)
			return nil
		},
	}

	cmd.AddCommand(startCmd, cancelCmd, statusCmd, newCalibrationScheduleCommand())
	return cmd
}

func newCalibrationScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule [cron-expression]",
		Aliases: []string{"sch", "sched"},
		Short:   "Manage automatic calibration schedule",
		Long: `Manage automatic calibration schedule.

  chargectl calibration schedule 'minute hour day month weekday'  Set schedule with cron expression
  chargectl calibration schedule disable                          Disable the schedule
  chargectl calibration schedule postpone [duration]              Postpone next run
  chargectl calibration schedule skip                             Skip next run

A scheduled run only starts while plugged in.`,
		Example: `  chargectl calibration schedule '0 10 * * 0' (At 10:00 on Sunday)
  chargectl calibration schedule '0 10 1 * *' (At 10:00 on the first day of every month)
  chargectl calibration schedule '0 10 1 */3 *' (At 10:00 on the first day of every three months)`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runScheduleShow(cmd)
			}
			return runScheduleSet(cmd, args[0])
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "disable",
			Short: "Disable the calibration schedule",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if _, err := apiClient.ScheduleCalibration(""); err != nil {
					return err
				}
				cmd.Println("Calibration schedule disabled.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "postpone [duration]",
			Short: "Postpone the next scheduled calibration run (default 1h)",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				d := time.Hour
				if len(args) > 0 {
					parsed, err := time.ParseDuration(args[0])
					if err != nil {
						return fmt.Errorf("invalid duration %q: %w", args[0], err)
					}
					d = parsed
				}
				st, err := apiClient.PostponeCalibration(d)
				if err != nil {
					return err
				}
				cmd.Printf("Next run postponed to %s.\n", st.NextRun.Local().Format(time.DateTime))
				return nil
			},
		},
		&cobra.Command{
			Use:   "skip",
			Short: "Skip the next scheduled calibration run",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				st, err := apiClient.SkipCalibration()
				if err != nil {
					return err
				}
				cmd.Printf("Next scheduled run skipped, following run at %s.\n", st.NextRun.Local().Format(time.DateTime))
				return nil
			},
		},
	)

	return cmd
}

func runScheduleSet(cmd *cobra.Command, cronExpr string) error {
	if cronExpr == "" {
		return fmt.Errorf("cron expression cannot be empty")
	}
	st, err := apiClient.ScheduleCalibration(cronExpr)
	if err != nil {
		return err
	}
	cmd.Printf("Calibration scheduled. Next run: %s\n", st.NextRun.Local().Format(time.DateTime))
	return nil
}

func runScheduleShow(cmd *cobra.Command) error {
	st, err := apiClient.GetCalibration()
	if err != nil {
		return err
	}
	if st.NextRun.IsZero() {
		cmd.Println("Calibration schedule is not set.")
		return nil
	}
	cmd.Printf("Next run: %s\n", st.NextRun.Local().Format(time.DateTime))
	return nil
}

func printCalibrationStatus(cmd *cobra.Command, st *calibration.Status) {
	cmd.Printf("  Phase: %s\n", bold("%s", st.Phase))
	if st.ChargePercent >= 0 {
		cmd.Printf("  Charge: %s\n", bold("%d%%", st.ChargePercent))
	}
	if st.Active() {
		cmd.Printf("  Discharge target: %s\n", bold("%d%%", st.Target))
	}
	if !st.StartedAt.IsZero() && st.Active() {
		cmd.Printf("  Started: %s (%s ago)\n", st.StartedAt.Local().Format(time.DateTime), time.Since(st.StartedAt).Round(time.Second))
	}
	if !st.CompletedAt.IsZero() {
		cmd.Printf("  Last completed: %s\n", st.CompletedAt.Local().Format(time.DateTime))
	}
	if !st.NextRun.IsZero() {
		cmd.Printf("  Next scheduled run: %s\n", st.NextRun.Local().Format(time.DateTime))
	}
	if st.Message != "" {
		cmd.Printf("  Message: %s\n", st.Message)
	}
}
