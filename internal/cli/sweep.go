package cli

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaiso/Stashflow/internal/recovery"
	"github.com/shaiso/Stashflow/internal/scheduler"
	"github.com/shaiso/Stashflow/internal/telemetry"
)

// NewSweepCmd создаёт группу команд для ручного запуска sweeps.
func NewSweepCmd(backendFn BackendFunc, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a sweep once",
	}

	cmd.AddCommand(
		newSweepRunCmd("schedule", telemetry.SweepSchedule, "Run the automation scheduler once", backendFn, outputFn),
		newSweepRunCmd("stuck", telemetry.SweepStuck, "Run stuck-job recovery once", backendFn, outputFn),
		newSweepRunCmd("past-due", telemetry.SweepPastDue, "Run past-due recovery once", backendFn, outputFn),
	)

	return cmd
}

func newSweepRunCmd(use, sweep, short string, backendFn BackendFunc, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			return withBackend(cmd.Context(), backendFn, func(b Backend) error {
				report, err := b.RunSweep(cmd.Context(), sweep)
				if err != nil {
					return err
				}
				headers, rows := reportTable(report)
				out.Print(headers, rows, report)
				return nil
			})
		},
	}
}

// reportTable раскладывает отчёт sweep в строки таблицы METRIC / VALUE.
func reportTable(report any) ([]string, [][]string) {
	headers := []string{"METRIC", "VALUE"}
	row := func(name string, v int) []string { return []string{name, strconv.Itoa(v)} }

	switch r := report.(type) {
	case scheduler.Report:
		return headers, [][]string{
			row("automations", r.Automations),
			row("contended", r.Contended),
			row("triggered", r.Triggered),
			row("scheduled", r.Scheduled),
			row("failed", r.Failed),
		}
	case recovery.Report:
		rows := [][]string{
			row("found", r.Found),
			row("recovered", r.Recovered),
			row("untouched", r.Untouched),
			row("failed", r.Failed),
		}
		if r.ReleasedClaims > 0 {
			rows = append(rows, row("released_claims", r.ReleasedClaims))
		}
		actions := make([]string, 0, len(r.Actions))
		for a := range r.Actions {
			actions = append(actions, a)
		}
		sort.Strings(actions)
		for _, a := range actions {
			rows = append(rows, row("action:"+a, r.Actions[a]))
		}
		return headers, rows
	default:
		return headers, [][]string{{"report", fmt.Sprint(report)}}
	}
}
