package client

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	query  string
	header http.Header
	body   string
}

func stubServer(t *testing.T, status int, response string) (*httptest.Server, func() []recorded) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, recorded{r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Clone(), string(b)})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		return append([]recorded(nil), reqs...)
	}
}

func run(t *testing.T, srv *httptest.Server, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRoot(func() string { return srv.URL })
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestEnqueuePostsBodyAndHeaders(t *testing.T) {
	srv, reqs := stubServer(t, http.StatusOK, "")
	out, err := run(t, srv, "", "enqueue",
		"--data", `{"course_id":"CS101","status":"published"}`,
		"--dedup-id", "upd-1", "--group", "CS101")
	require.NoError(t, err)
	assert.Contains(t, out, "status: 200 OK")

	require.Len(t, reqs(), 1)
	r := reqs()[0]
	assert.Equal(t, http.MethodPost, r.method)
	assert.Equal(t, "/update", r.path)
	assert.Equal(t, "upd-1", r.header.Get(dedupHeader))
	assert.Equal(t, "CS101", r.header.Get(groupHeader))
	assert.JSONEq(t, `{"course_id":"CS101","status":"published"}`, r.body)
}

func TestEnqueueStageAndStdin(t *testing.T) {
	srv, reqs := stubServer(t, http.StatusOK, "")
	_, err := run(t, srv, `{"course_id":"X","status":"draft"}`, "enqueue", "--file", "-", "--stage", "CourseStatusStaging")
	require.NoError(t, err)
	require.Len(t, reqs(), 1)
	assert.Equal(t, "/CourseStatusStaging/update", reqs()[0].path)
	assert.Equal(t, `{"course_id":"X","status":"draft"}`, reqs()[0].body)
}

func TestEnqueueFromFile(t *testing.T) {
	srv, reqs := stubServer(t, http.StatusOK, "")
	path := filepath.Join(t.TempDir(), "u.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"course_id":"F","status":"active"}`), 0o600))
	_, err := run(t, srv, "", "enqueue", "--file", path)
	require.NoError(t, err)
	assert.Equal(t, `{"course_id":"F","status":"active"}`, reqs()[0].body)
}

func TestEnqueueBodyFlags(t *testing.T) {
	srv, reqs := stubServer(t, http.StatusOK, "")
	_, err := run(t, srv, "", "enqueue")
	assert.ErrorContains(t, err, "required")
	_, err = run(t, srv, "", "enqueue", "--data", "{}", "--file", "x")
	assert.ErrorContains(t, err, "only one")
	assert.Empty(t, reqs())
}

func TestEnqueueSurfacesServerError(t *testing.T) {
	srv, _ := stubServer(t, http.StatusServiceUnavailable, `{"error":"Queue unavailable"}`)
	_, err := run(t, srv, "", "enqueue", "--data", "{}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "Queue unavailable")
}

func TestDLQListDecodesPayloads(t *testing.T) {
	srv, reqs := stubServer(t, http.StatusOK, `{"items":[
		{"entry_id":"e1","id":"a","group_key":"g","kind":"permanent","reason":"invalid update","receive_count":1,"payload":"eyJjb3Vyc2VfaWQiOiJDUzEifQ=="},
		{"entry_id":"e2","id":"b","group_key":"g","kind":"retries_exhausted","receive_count":3,"last_error":"boom","payload":"cGxhaW4="},
		{"entry_id":"e3","id":"c","group_key":"g","kind":"permanent","receive_count":1,"payload":"//4AAQ=="}
	]}`)
	out, err := run(t, srv, "", "dlq", "list", "--limit", "5")
	require.NoError(t, err)
	assert.Equal(t, "limit=5", reqs()[0].query)

	var items []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	require.Len(t, items, 3)
	assert.Equal(t, map[string]any{"course_id": "CS1"}, items[0]["payload_json"])
	assert.Equal(t, "plain", items[1]["payload_text"])
	assert.Equal(t, "boom", items[1]["last_error"])
	assert.Equal(t, "retries_exhausted", items[1]["kind"])
	assert.Equal(t, "//4AAQ==", items[2]["payload_b64"])
}

func TestDLQRedrive(t *testing.T) {
	srv, reqs := stubServer(t, http.StatusOK, `{"redriven":3}`)
	out, err := run(t, srv, "", "dlq", "redrive", "--limit", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "redriven: 3")
	assert.Equal(t, http.MethodPost, reqs()[0].method)
	assert.Equal(t, "/v1/dlq/redrive", reqs()[0].path)
	assert.Equal(t, "limit=10", reqs()[0].query)
}

func TestStatsPrintsServerJSON(t *testing.T) {
	srv, _ := stubServer(t, http.StatusOK, `{"queue":"CourseStatusQueue","dead_letters":2}`)
	out, err := run(t, srv, "", "stats")
	require.NoError(t, err)
	assert.JSONEq(t, `{"queue":"CourseStatusQueue","dead_letters":2}`, out)
}

func TestDecodedPayload(t *testing.T) {
	assert.Equal(t, map[string]any{"payload_json": []any{float64(1)}}, decodedPayload([]byte("[1]")))
	assert.Equal(t, map[string]any{"payload_text": "{oops"}, decodedPayload([]byte("{oops")))
	assert.Contains(t, decodedPayload([]byte{0xff, 0xfe}), "payload_b64")
}
