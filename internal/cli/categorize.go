package cli

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Stashflow/internal/errcat"
)

// categorizeResult — JSON-вывод команды categorize.
type categorizeResult struct {
	Category             string   `json:"category"`
	ShouldRetry          bool     `json:"should_retry"`
	MaxAttempts          int      `json:"max_attempts"`
	BackoffMs            []int64  `json:"backoff_ms"`
	UseCircuitBreaker    bool     `json:"use_circuit_breaker"`
	RequiresTokenRefresh bool     `json:"requires_token_refresh"`
	Message              string   `json:"message"`
	Status               int      `json:"status,omitempty"`
	Code                 string   `json:"code,omitempty"`
	Delays               []string `json:"-"`
}

// NewCategorizeCmd создаёт команду categorize: классификация ошибки
// и её политика повторов.
func NewCategorizeCmd(outputFn func() *Output) *cobra.Command {
	var status int
	var code string

	cmd := &cobra.Command{
		Use:   "categorize MESSAGE",
		Short: "Categorize an error and print its retry policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			ce := errcat.Categorize(&errcat.APIError{
				Code:    code,
				Status:  status,
				Message: args[0],
			})
			res := newCategorizeResult(ce)

			headers := []string{"FIELD", "VALUE"}
			rows := [][]string{
				{"category", res.Category},
				{"should_retry", strconv.FormatBool(res.ShouldRetry)},
				{"max_attempts", strconv.Itoa(res.MaxAttempts)},
				{"backoff", strings.Join(res.Delays, ", ")},
				{"circuit_breaker", strconv.FormatBool(res.UseCircuitBreaker)},
				{"token_refresh", strconv.FormatBool(res.RequiresTokenRefresh)},
			}

			out.Print(headers, rows, res)
			return nil
		},
	}

	cmd.Flags().IntVar(&status, "status", 0, "HTTP status code")
	cmd.Flags().StringVar(&code, "code", "", "Error code (e.g. ECONNRESET, REFRESH_TOKEN_EXPIRED)")

	return cmd
}

func newCategorizeResult(ce *errcat.CategorizedError) categorizeResult {
	s := ce.RetryStrategy
	res := categorizeResult{
		Category:             ce.Category.String(),
		ShouldRetry:          s.ShouldRetry,
		MaxAttempts:          s.MaxAttempts,
		BackoffMs:            make([]int64, len(s.Backoff)),
		UseCircuitBreaker:    s.UseCircuitBreaker,
		RequiresTokenRefresh: s.RequiresTokenRefresh,
		Message:              ce.ErrorContext.Message,
		Status:               ce.ErrorContext.Status,
		Code:                 ce.ErrorContext.Code,
	}
	for i, d := range s.Backoff {
		res.BackoffMs[i] = d.Milliseconds()
		res.Delays = append(res.Delays, d.Round(time.Millisecond).String())
	}
	if len(res.Delays) == 0 {
		res.Delays = []string{"-"}
	}
	return res
}
