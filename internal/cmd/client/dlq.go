package client

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// NewDLQCommand constructs the `dlq` command group.
func NewDLQCommand(baseURL BaseURLFunc) *cobra.Command {
	dlqCmd := &cobra.Command{Use: "dlq", Short: "Dead-letter queue operations"}
	dlqCmd.AddCommand(newDLQListCommand(baseURL), newDLQRedriveCommand(baseURL))
	return dlqCmd
}

type deadLetter struct {
	EntryID      string    `json:"entry_id"`
	ID           string    `json:"id"`
	GroupKey     string    `json:"group_key"`
	Kind         string    `json:"kind"`
	Reason       string    `json:"reason,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	ReceiveCount int       `json:"receive_count"`
	EnqueueTime  time.Time `json:"enqueue_time"`
	EscalatedAt  time.Time `json:"escalated_at"`
	Payload      []byte    `json:"payload"`
}

func newDLQListCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered updates, oldest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet,
				fmt.Sprintf("%s?limit=%d", endpoint(baseURL(), "/v1/dlq"), limit), nil)
			if err != nil {
				return err
			}
			var list struct {
				Items []deadLetter `json:"items"`
			}
			if _, err := do(req, &list); err != nil {
				return err
			}
			out := make([]map[string]any, 0, len(list.Items))
			for _, it := range list.Items {
				m := decodedPayload(it.Payload)
				m["entry_id"] = it.EntryID
				m["id"] = it.ID
				m["group_key"] = it.GroupKey
				m["kind"] = it.Kind
				m["reason"] = it.Reason
				m["receive_count"] = it.ReceiveCount
				m["escalated_at"] = it.EscalatedAt
				if it.LastError != "" {
					m["last_error"] = it.LastError
				}
				out = append(out, m)
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().Int("limit", 100, "Maximum entries to list")
	return cmd
}

func newDLQRedriveCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "redrive",
		Short: "Move dead-lettered updates back to the main queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost,
				fmt.Sprintf("%s?limit=%d", endpoint(baseURL(), "/v1/dlq/redrive"), limit), nil)
			if err != nil {
				return err
			}
			var res struct {
				Redriven int `json:"redriven"`
			}
			if _, err := do(req, &res); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "redriven:", res.Redriven)
			return nil
		},
	}
	cmd.Flags().Int("limit", 100, "Maximum entries to redrive")
	return cmd
}
