package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

var httpClient = &http.Client{Timeout: 15 * time.Second}

// apiError is the body the server writes for failed requests.
type apiError struct {
	Error string `json:"error"`
}

// do sends req and decodes a JSON response into out when out is non-nil.
// Non-2xx responses become errors carrying the server's message.
func do(req *http.Request, out any) (*http.Response, error) {
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		var e apiError
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		if json.Unmarshal(b, &e) == nil && e.Error != "" {
			return resp, fmt.Errorf("http error: %s: %s", resp.Status, e.Error)
		}
		return resp, fmt.Errorf("http error: %s", resp.Status)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp, nil
	}
	return resp, json.NewDecoder(resp.Body).Decode(out)
}

func endpoint(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// decodedPayload returns a map with one of payload_json, payload_text, or
// payload_b64 for display.
func decodedPayload(payload []byte) map[string]any {
	out := map[string]any{}
	if len(payload) > 0 && (payload[0] == '{' || payload[0] == '[') {
		var v any
		if json.Unmarshal(payload, &v) == nil {
			out["payload_json"] = v
			return out
		}
	}
	if utf8.Valid(payload) {
		out["payload_text"] = string(payload)
		return out
	}
	out["payload_b64"] = payload
	return out
}
