package main

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func parseIntArg(args []string, valueName string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected one %s argument, got %d", valueName, len(args))
	}

	value, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", valueName, err)
	}

	return value, nil
}

// newEnableDisableCommand builds a command with enable and disable
// subcommands.
func newEnableDisableCommand(use, short, long string, enableFunc, disableFunc func() (string, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:     use,
		Short:   short,
		Long:    long,
		GroupID: gAdvanced,
	}

	sub := func(verb string, set func() (string, error)) *cobra.Command {
		return &cobra.Command{
			Use:   verb,
			Short: verb + " " + use,
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				ret, err := set()
				if err != nil {
					return fmt.Errorf("failed to %s %s: %v", verb, use, err)
				}
				if ret != "" {
					logrus.Infof("daemon responded: %s", ret)
				}
				logrus.Infof("successfully %sd %s", verb, use)
				return nil
			},
		}
	}

	cmd.AddCommand(sub("enable", enableFunc), sub("disable", disableFunc))

	return cmd
}
