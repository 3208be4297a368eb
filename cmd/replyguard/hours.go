package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"replyguard/internal/schedule"
)

func newCheckHoursCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "check-hours",
		Short: "Report whether an instant falls inside configured business hours",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgManager, err := loadConfig()
			if err != nil {
				return err
			}
			sched, err := schedule.FromConfig(cfgManager.Get().Schedule)
			if err != nil {
				return err
			}
			now := time.Now()
			if at != "" {
				now, err = time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at must be RFC3339: %w", err)
				}
			}
			state := "closed"
			if sched.IsOpen(now) {
				state = "open"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", now.In(sched.Location).Format(time.RFC3339), state)
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "instant to check (RFC3339), defaults to now")
	return cmd
}
