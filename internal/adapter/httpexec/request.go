package httpexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"toolbridge/internal/domain"
)

// callPlan is the typed form of a parameter bag once it has been split
// across path, query, headers and body.
type callPlan struct {
	path    string
	query   url.Values
	headers http.Header
	body    []byte // nil means no body
}

// planError carries the failure kind for errors raised while planning.
type planError struct {
	kind domain.ExecErrorKind
	err  error
}

func (e *planError) Error() string { return e.err.Error() }
func (e *planError) Unwrap() error { return e.err }

var pathToken = regexp.MustCompile(`\{([^{}/]+)\}`)

// pathTokens lists the {name} tokens of template for bindings built
// without a precomputed list.
func pathTokens(template string) []string {
	var names []string
	for _, m := range pathToken.FindAllStringSubmatch(template, -1) {
		names = append(names, m[1])
	}
	return names
}

// plan splits params according to the tool binding.
func plan(s *settings, clientID string, tool domain.ToolDefinition, params domain.Params) (*callPlan, error) {
	b := tool.Binding
	pathParams := b.PathParams
	if pathParams == nil {
		pathParams = pathTokens(b.Path)
	}

	path, err := expandPath(b.Path, pathParams, params)
	if err != nil {
		return nil, &planError{kind: domain.ExecValidation, err: err}
	}

	p := &callPlan{
		path:    path,
		query:   url.Values{},
		headers: defaultHeaders(s, clientID),
	}

	for _, name := range b.QueryParams {
		v, ok := params.Lookup(name)
		if !ok || v == nil {
			continue
		}
		if items, isList := v.([]any); isList {
			for _, item := range items {
				p.query.Add(name, domain.Stringify(item))
			}
			continue
		}
		p.query.Set(name, domain.Stringify(v))
	}

	for _, name := range b.HeaderParams {
		if v, ok := params.String(name); ok {
			p.headers.Set(name, v)
		}
	}

	if token := params.Token(); token != "" {
		p.headers.Set("Authorization", domain.BearerToken(token))
	}
	for k, v := range params.Headers() {
		p.headers.Set(k, v)
	}

	if carriesBody(b.Method) {
		body, err := buildBody(b, pathParams, params)
		if err != nil {
			return nil, &planError{kind: domain.ExecInternal, err: err}
		}
		p.body = body
	}
	return p, nil
}

// defaultHeaders layers the configured defaults under the fixed ones.
func defaultHeaders(s *settings, clientID string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	if clientID != "" {
		h.Set("X-Client-Id", clientID)
	}
	for k, v := range s.headers {
		h.Set(k, v)
	}
	if s.token != "" {
		h.Set("Authorization", domain.BearerToken(s.token))
	}
	return h
}

func carriesBody(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodDelete, http.MethodHead:
		return false
	}
	return true
}

// expandPath substitutes every {name} token. All missing names are
// reported together.
func expandPath(template string, names []string, params domain.Params) (string, error) {
	var missing []string
	path := template
	for _, name := range names {
		v, ok := params.String(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		path = strings.ReplaceAll(path, "{"+name+"}", url.PathEscape(v))
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: missing %s for %s", domain.ErrUnresolvedPathParam, strings.Join(missing, ", "), template)
	}
	return path, nil
}

// buildBody returns the JSON body, or nil when nothing is left to send.
func buildBody(b domain.Binding, pathParams []string, params domain.Params) ([]byte, error) {
	if explicit, ok := params.Lookup(domain.ParamBody); ok {
		raw, err := json.Marshal(explicit)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		return raw, nil
	}

	excluded := map[string]bool{
		domain.ParamAuthorization: true,
		domain.ParamToken:         true,
		domain.ParamHeaders:       true,
	}
	for _, group := range [][]string{pathParams, b.QueryParams, b.HeaderParams} {
		for _, name := range group {
			excluded[name] = true
		}
	}

	rest := make(map[string]any, len(params))
	for k, v := range params {
		if !excluded[k] {
			rest[k] = v
		}
	}
	if len(rest) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(rest)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	return raw, nil
}

// newRequest materializes the plan against baseURL.
func (p *callPlan) newRequest(ctx context.Context, method, baseURL string) (*http.Request, error) {
	target := baseURL + p.path
	if len(p.query) > 0 {
		target += "?" + p.query.Encode()
	}
	var body io.Reader
	if p.body != nil {
		body = bytes.NewReader(p.body)
	}
	if err := checkTarget(target); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header = p.headers
	return req, nil
}

// checkTarget rejects URLs the transport could never send, so they are not
// reported as connectivity failures.
func checkTarget(target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("invalid target URL %q: %w", target, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid target URL %q: scheme must be http or https", target)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid target URL %q: missing host", target)
	}
	return nil
}
