package client

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

// Header names understood by the gateway.
const (
	dedupHeader = "X-Deduplication-Id"
	groupHeader = "X-Group-Id"
)

// NewEnqueueCommand constructs `enqueue`, which posts one update to the
// gateway.
func NewEnqueueCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Post a course status update to the gateway",
		Example: `  coursestatus enqueue --data '{"course_id":"CS101","status":"published"}'
  coursestatus enqueue --file update.json --dedup-id upd-42
  echo '{"course_id":"CS101","status":"archived"}' | coursestatus enqueue --file -`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, _ := cmd.Flags().GetString("data")
			file, _ := cmd.Flags().GetString("file")
			dedupID, _ := cmd.Flags().GetString("dedup-id")
			group, _ := cmd.Flags().GetString("group")
			stage, _ := cmd.Flags().GetString("stage")

			body, err := readBody(cmd.InOrStdin(), data, file)
			if err != nil {
				return err
			}
			path := "/update"
			if stage != "" {
				path = "/" + stage + "/update"
			}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, endpoint(baseURL(), path), bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			if dedupID != "" {
				req.Header.Set(dedupHeader, dedupID)
			}
			if group != "" {
				req.Header.Set(groupHeader, group)
			}
			resp, err := do(req, nil)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", resp.Status)
			return nil
		},
	}
	cmd.Flags().String("data", "", "Update body")
	cmd.Flags().String("file", "", "Read the body from a file (- for stdin)")
	cmd.Flags().String("dedup-id", "", "Deduplication id (defaults to a hash of the body)")
	cmd.Flags().String("group", "", "Group key override")
	cmd.Flags().String("stage", "", "Post to /<stage>/update instead of /update")
	return cmd
}

func readBody(stdin io.Reader, data, file string) ([]byte, error) {
	switch {
	case data != "" && file != "":
		return nil, errors.New("use only one of --data and --file")
	case data != "":
		return []byte(data), nil
	case file == "-":
		return io.ReadAll(stdin)
	case file != "":
		return os.ReadFile(file)
	default:
		return nil, errors.New("one of --data or --file is required")
	}
}
