package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaiso/Stashflow/internal/queue"
)

// queueStates — порядок вывода состояний очереди.
var queueStates = []queue.State{
	queue.StateWaiting,
	queue.StateDelayed,
	queue.StateActive,
	queue.StateCompleted,
	queue.StateFailed,
}

// NewQueueCmd создаёт группу команд для очереди публикации.
func NewQueueCmd(backendFn BackendFunc, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the publish queue",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show job counts by state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			return withBackend(cmd.Context(), backendFn, func(b Backend) error {
				counts, err := b.QueueCounts(cmd.Context())
				if err != nil {
					return err
				}

				headers := []string{"STATE", "JOBS"}
				rows := make([][]string, 0, len(queueStates))
				data := make(map[string]int, len(queueStates))
				for _, s := range queueStates {
					rows = append(rows, []string{string(s), strconv.Itoa(counts[s])})
					data[string(s)] = counts[s]
				}

				out.Print(headers, rows, data)
				return nil
			})
		},
	})

	return cmd
}
