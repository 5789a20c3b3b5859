package main

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/chargectl/chargectl/pkg/engine"
	"github.com/chargectl/chargectl/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version",
		Annotations: map[string]string{"standalone": "true"},
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}

func NewLimitCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "limit [percentage]",
		Short:   "Set charge limit",
		GroupID: gBasic,
		Long: `Set charge limit.

This is a percentage from 20 to 100. Values outside that range are clamped.

In normal mode charging stops once the battery reaches the limit, and the
computer runs from the wall. The hardware ceiling register only supports 80%
and 100%, so limits other than those are enforced by chargectl itself.`,
		RunE: func(_ *cobra.Command, args []string) error {
			limit, err := parseIntArg(args, "limit")
			if err != nil {
				return err
			}

			ret, err := apiClient.SetLimit(limit)
			if err != nil {
				return fmt.Errorf("failed to set limit: %v", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}

			return nil
		},
	}
}

func NewModeCommand() *cobra.Command {
	names := make([]string, 0, len(engine.Modes))
	for _, m := range engine.Modes {
		names = append(names, string(m))
	}

	return &cobra.Command{
		Use:       "mode [" + strings.Join(names, "|") + "]",
		Short:     "Get or set the charging mode",
		GroupID:   gBasic,
		ValidArgs: names,
		Args:      cobra.MaximumNArgs(1),
		Long: `Get or set the charging mode.

  normal          charge up to the limit, then hold
  topUp           charge to 100% once, then go back to normal
  sailing         let the battery drift between the sailing bounds
  discharge       run from the battery even when plugged in
  calibration     discharge to the calibration target, then charge to 100%
  heatProtection  set automatically when the battery is too hot

Without an argument the current mode is printed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				m, err := apiClient.GetMode()
				if err != nil {
					return err
				}
				cmd.Println(m)
				return nil
			}

			m, err := engine.ParseMode(args[0])
			if err != nil {
				return err
			}

			ret, err := apiClient.SetMode(m)
			if err != nil {
				return fmt.Errorf("failed to set mode: %v", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}

			return nil
		},
	}
}

func NewDisableCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "disable",
		Short:   "Disable the charge limit",
		GroupID: gBasic,
		Long: `Disable the charge limit.

Sets the charge limit to 100% and switches to normal mode, so the battery charges fully.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := apiClient.SetMode(engine.ModeNormal); err != nil {
				return fmt.Errorf("failed to set normal mode: %v", err)
			}

			ret, err := apiClient.SetLimit(100)
			if err != nil {
				return fmt.Errorf("failed to disable charge limit: %v", err)
			}

			if ret != "" {
				logrus.Infof("daemon responded: %s", ret)
			}

			logrus.Infof("successfully disabled the charge limit. To re-enable it, set a charge limit using \"chargectl limit\".")

			return nil
		},
	}
}
