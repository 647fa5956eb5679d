package controllers

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/cel-go/cel"
)

// Group key sources, in order of precedence.
const (
	GroupHeader     = "X-Group-Id"
	GroupQueryParam = "course_id"
)

// GroupResolver derives the group key of an inbound update. It tries the
// X-Group-Id header, the course_id query parameter, then a CEL expression
// over the request body and finally falls back to a fixed default.
type GroupResolver struct {
	prog         cel.Program
	enabled      bool
	defaultGroup string
}

// NewGroupResolver compiles expr. The expression sees the decoded body as
// `body` (JSON, or a string map for form posts), the request headers as
// `headers` and the query parameters as `query`, and must yield a string.
// An empty expr disables the body lookup.
func NewGroupResolver(expr, defaultGroup string) (*GroupResolver, error) {
	g := &GroupResolver{defaultGroup: defaultGroup}
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return g, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("body", cel.DynType),
		cel.Variable("headers", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("query", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("group key expression: %w", iss.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.StringType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("group key expression must yield a string, got %s", out)
	}
	prog, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("group key expression: %w", err)
	}
	g.prog, g.enabled = prog, true
	return g, nil
}

// Resolve returns the group key for r, whose body has already been read.
func (g *GroupResolver) Resolve(r *http.Request, body []byte) string {
	if v := strings.TrimSpace(r.Header.Get(GroupHeader)); validGroup(v) {
		return v
	}
	if v := strings.TrimSpace(r.URL.Query().Get(GroupQueryParam)); validGroup(v) {
		return v
	}
	if g.enabled {
		if v, ok := g.eval(r, body); ok {
			return v
		}
	}
	return g.defaultGroup
}

func (g *GroupResolver) eval(r *http.Request, body []byte) (string, bool) {
	out, _, err := g.prog.Eval(map[string]any{
		"body":    decodeBody(r, body),
		"headers": flatten(r.Header),
		"query":   flatten(r.URL.Query()),
	})
	if err != nil {
		return "", false
	}
	s, ok := out.Value().(string)
	s = strings.TrimSpace(s)
	return s, ok && validGroup(s)
}

func decodeBody(r *http.Request, body []byte) any {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/x-www-form-urlencoded" {
		if vals, err := url.ParseQuery(string(body)); err == nil {
			return flatten(vals)
		}
		return map[string]string{}
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return map[string]any{}
	}
	return v
}

func flatten(m map[string][]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if len(v) > 0 {
			out[strings.ToLower(k)] = v[0]
		}
	}
	return out
}

func validGroup(s string) bool {
	return s != "" && !strings.ContainsRune(s, 0)
}
