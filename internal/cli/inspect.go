package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shaiso/Stashflow/internal/domain"
)

// automationView — JSON-вывод inspect automation.
type automationView struct {
	*domain.Automation
	Locked bool                  `json:"locked"`
	Logs   []domain.ExecutionLog `json:"logs"`
}

// draftView — JSON-вывод inspect draft.
type draftView struct {
	*domain.Draft
	ExecutionLocked bool `json:"execution_locked"`
}

// NewInspectCmd создаёт группу команд для просмотра drafts и автоматизаций.
func NewInspectCmd(backendFn BackendFunc, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show a draft or an automation",
	}

	cmd.AddCommand(newInspectDraftCmd(backendFn, outputFn), newInspectAutomationCmd(backendFn, outputFn))
	return cmd
}

func newInspectDraftCmd(backendFn BackendFunc, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "draft ID",
		Short: "Show draft status, schedule and recovery markers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid draft id: %w", err)
			}

			out := outputFn()
			return withBackend(cmd.Context(), backendFn, func(b Backend) error {
				d, err := b.Draft(cmd.Context(), id)
				if err != nil {
					return err
				}

				rows := [][]string{
					{"id", d.ID.String()},
					{"user_id", d.UserID.String()},
					{"automation_id", uuidOrDash(d.AutomationID)},
					{"status", string(d.Status)},
					{"execution_locked", strconv.FormatBool(d.IsExecutionLocked())},
					{"execution_version", strconv.FormatInt(d.ExecutionVersion, 10)},
					{"retry_count", strconv.Itoa(d.RetryCount)},
					{"scheduled_at", timeOrDash(d.ScheduledAt)},
					{"actual_publish_at", timeOrDash(d.ActualPublishAt)},
					{"published_at", timeOrDash(d.PublishedAt)},
					{"deviation_id", stringOrDash(d.DeviationID)},
					{"stash_item_id", stringOrDash(d.StashItemID)},
					{"post_count_incremented", strconv.FormatBool(d.PostCountIncremented)},
					{"error", orDash(d.ErrorMessage)},
				}

				out.Print([]string{"FIELD", "VALUE"}, rows, draftView{Draft: d, ExecutionLocked: d.IsExecutionLocked()})
				return nil
			})
		},
	}
}

func newInspectAutomationCmd(backendFn BackendFunc, outputFn func() *Output) *cobra.Command {
	var logLimit int

	cmd := &cobra.Command{
		Use:   "automation ID",
		Short: "Show automation lock state and its recent executions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid automation id: %w", err)
			}

			out := outputFn()
			return withBackend(cmd.Context(), backendFn, func(b Backend) error {
				a, err := b.Automation(cmd.Context(), id)
				if err != nil {
					return err
				}

				var logs []domain.ExecutionLog
				if logLimit > 0 {
					logs, err = b.ExecutionLogs(cmd.Context(), id, logLimit)
					if err != nil {
						return err
					}
				}

				locked := a.IsLocked(time.Now(), domain.LockTimeout)
				if out.jsonMode {
					out.JSON(automationView{Automation: a, Locked: locked, Logs: logs})
					return nil
				}

				out.Table([]string{"FIELD", "VALUE"}, [][]string{
					{"id", a.ID.String()},
					{"name", orDash(a.Name)},
					{"enabled", strconv.FormatBool(a.Enabled)},
					{"selection", string(a.DraftSelectionMethod)},
					{"jitter", fmt.Sprintf("%d-%ds", a.JitterMinSeconds, a.JitterMaxSeconds)},
					{"locked", strconv.FormatBool(locked)},
					{"last_execution_lock", timeOrDash(a.LastExecutionLock)},
				})

				if len(logs) == 0 {
					return nil
				}
				out.Line("")
				rows := make([][]string, 0, len(logs))
				for _, l := range logs {
					rule := "-"
					if l.TriggeredByRuleType != nil {
						rule = l.TriggeredByRuleType.String()
					}
					rows = append(rows, []string{
						l.ExecutedAt.UTC().Format(time.RFC3339),
						rule,
						strconv.Itoa(l.ScheduledCount),
						stringOrDash(l.ErrorMessage),
					})
				}
				out.Table([]string{"EXECUTED_AT", "RULE", "SCHEDULED", "ERROR"}, rows)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&logLimit, "logs", 10, "Number of recent executions to show (0 to skip)")
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func stringOrDash(s *string) string {
	if s == nil {
		return "-"
	}
	return orDash(*s)
}

func uuidOrDash(id *uuid.UUID) string {
	if id == nil {
		return "-"
	}
	return id.String()
}

func timeOrDash(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
