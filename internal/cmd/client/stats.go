package client

import (
	"encoding/json"
	"net/http"

	"github.com/spf13/cobra"
)

// NewStatsCommand constructs `stats`, printing queue depth and dead-letter
// counts as reported by the node.
func NewStatsCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue and dead-letter statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, endpoint(baseURL(), "/v1/stats"), nil)
			if err != nil {
				return err
			}
			var data json.RawMessage
			if _, err := do(req, &data); err != nil {
				return err
			}
			var v any
			if err := json.Unmarshal(data, &v); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), v)
		},
	}
}
