package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Stashflow/internal/mq"
)

// NewAlertsCmd создаёт группу команд для алертов recovery.
func NewAlertsCmd(backendFn BackendFunc, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Recovery alerts",
	}

	cmd.AddCommand(newAlertsWatchCmd(backendFn, outputFn))

	return cmd
}

func newAlertsWatchCmd(backendFn BackendFunc, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream alerts from the events exchange until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			return withBackend(cmd.Context(), backendFn, func(b Backend) error {
				out.Success("Watching alerts (Ctrl+C to stop)...")
				return b.WatchAlerts(cmd.Context(), func(msg mq.Message) error {
					printAlert(out, msg)
					return nil
				})
			})
		},
	}
}

// printAlert: в JSON-режиме одна строка на сообщение, иначе краткая сводка.
func printAlert(out *Output, msg mq.Message) {
	if out.jsonMode {
		out.JSON(msg)
		return
	}
	out.Line(fmt.Sprintf("%s  %-28s  %v",
		msg.Timestamp.UTC().Format(time.RFC3339), msg.Type, msg.Payload))
}
