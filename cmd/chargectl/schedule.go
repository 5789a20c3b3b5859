package main

import (
	"github.com/spf13/cobra"

	"github.com/chargectl/chargectl/pkg/schedule"
	"github.com/chargectl/chargectl/pkg/types"
)

func NewScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule",
		Aliases: []string{"schedules"},
		Short:   "Manage time windows that override the charge limit",
		Long: `Manage time windows that override the charge limit.

While a window is active its target replaces the charge limit. When it ends
the configured limit is restored. A window without repeat days runs once and
disables itself afterwards.`,
		GroupID: gAdvanced,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScheduleList(cmd)
		},
	}

	var days string
	addCmd := &cobra.Command{
		Use:   "add [start HH:MM] [end HH:MM] [target]",
		Short: "Add a schedule",
		Example: `  chargectl schedule add 23:00 07:00 100 --days daily     (charge fully overnight)
  chargectl schedule add 09:00 17:00 60 --days weekdays    (hold 60% during work hours)
  chargectl schedule add 13:00 15:00 100                   (once, today)`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := parseIntArg(args[2:], "target")
			if err != nil {
				return err
			}
			s, err := apiClient.AddSchedule(types.ScheduleRequest{
				Start:  args[0],
				End:    args[1],
				Target: target,
				Days:   days,
			})
			if err != nil {
				return err
			}
			cmd.Printf("Schedule %s added: %s\n", s.ID, s)
			return nil
		},
	}
	addCmd.Flags().StringVar(&days, "days", "", "repeat days, e.g. mon,wed,fri, weekdays, weekends or daily (default: once)")

	cmd.AddCommand(
		&cobra.Command{
			Use:     "list",
			Aliases: []string{"ls"},
			Short:   "List schedules",
			Args:    cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runScheduleList(cmd)
			},
		},
		addCmd,
		&cobra.Command{
			Use:     "remove [id]",
			Aliases: []string{"rm"},
			Short:   "Remove a schedule",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := apiClient.RemoveSchedule(args[0]); err != nil {
					return err
				}
				cmd.Printf("Schedule %s removed.\n", args[0])
				return nil
			},
		},
		newScheduleEnabledCommand("enable", "Enable a schedule", true),
		newScheduleEnabledCommand("disable", "Disable a schedule without removing it", false),
	)

	return cmd
}

func newScheduleEnabledCommand(use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [id]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := apiClient.SetScheduleEnabled(args[0], enabled); err != nil {
				return err
			}
			cmd.Printf("Schedule %s %sd.\n", args[0], use)
			return nil
		},
	}
}

func runScheduleList(cmd *cobra.Command) error {
	list, err := apiClient.ListSchedules()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		cmd.Println("No schedules.")
		return nil
	}
	for _, s := range list {
		printSchedule(cmd, s)
	}
	return nil
}

func printSchedule(cmd *cobra.Command, s schedule.Schedule) {
	cmd.Printf("  %s  %s-%s  %s  %s  %s\n",
		s.ID,
		schedule.FormatMinute(s.StartMinute),
		schedule.FormatMinute(s.EndMinute),
		bold("%d%%", s.TargetPercent),
		schedule.FormatDays(s.RepeatDays),
		bool2Text(s.Enabled),
	)
}
