package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"toolbridge/internal/domain"
	"toolbridge/internal/infra/config"
	"toolbridge/internal/infra/logger"
	"toolbridge/internal/infra/metrics"
	"toolbridge/internal/usecase/catalog"
	"toolbridge/internal/usecase/orchestrator"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
	)
}

// --- test doubles ---

type fakeChat struct {
	events []domain.StreamEvent
	err    error
	// hold keeps the stream open after events until the turn context ends.
	hold      bool
	cancelled chan struct{}

	mu    sync.Mutex
	turns []orchestrator.Turn
}

func (f *fakeChat) Start(ctx context.Context, turn orchestrator.Turn) (<-chan domain.StreamEvent, error) {
	f.mu.Lock()
	f.turns = append(f.turns, turn)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	ch := make(chan domain.StreamEvent)
	go func() {
		defer close(ch)
		for _, ev := range f.events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
		if f.hold {
			<-ctx.Done()
			close(f.cancelled)
		}
	}()
	return ch, nil
}

func (f *fakeChat) lastTurn() orchestrator.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.turns[len(f.turns)-1]
}

type fakeCatalog struct {
	tools     []catalog.ToolInfo
	result    domain.ExecutionResult
	health    domain.ExecutionResult
	reloadN   int
	reloadErr error

	mu     sync.Mutex
	params domain.Params
}

func (c *fakeCatalog) ListTools() []catalog.ToolInfo { return c.tools }

func (c *fakeCatalog) ExecuteTool(_ context.Context, name string, params domain.Params) (domain.ExecutionResult, error) {
	for _, t := range c.tools {
		if t.Name == name {
			c.mu.Lock()
			c.params = params
			c.mu.Unlock()
			return c.result, nil
		}
	}
	return domain.ExecutionResult{}, domain.NewDomainError("Registry.Get", domain.ErrToolNotFound, name)
}

func (c *fakeCatalog) HealthCheck(context.Context) domain.ExecutionResult { return c.health }

func (c *fakeCatalog) Reload(context.Context) (int, error) { return c.reloadN, c.reloadErr }

func turnEvents() []domain.StreamEvent {
	return []domain.StreamEvent{
		{Type: domain.EventStart, TurnID: "t1", Seq: 0, Payload: domain.StartPayload{TurnID: "t1"}},
		{Type: domain.EventContent, TurnID: "t1", Seq: 1, Payload: domain.ContentPayload{Content: "Hel"}},
		{Type: domain.EventContent, TurnID: "t1", Seq: 2, Payload: domain.ContentPayload{Content: "lo"}},
		{Type: domain.EventEnd, TurnID: "t1", Seq: 3, Payload: domain.EndPayload{Content: "Hello"}},
	}
}

func testCatalog() *fakeCatalog {
	return &fakeCatalog{
		tools: []catalog.ToolInfo{
			{Name: "getproduct", Description: "Get a product (GET /products/{id})", Method: "GET", Path: "/products/{id}"},
		},
		result: domain.ExecutionResult{Success: true, Status: 200, Data: map[string]any{"id": "5"}},
		health: domain.ExecutionResult{Success: true, Status: 200},
	}
}

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{
		Addr:            "127.0.0.1:0",
		ShutdownTimeout: time.Second,
	}
}

func newTestHTTP(t *testing.T, chat ChatStarter, cat Catalog, m *metrics.Provider) *httptest.Server {
	t.Helper()
	srv := NewServer(testServerConfig(), Deps{Chat: chat, Catalog: cat, Metrics: m}, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	ts := httptest.NewServer(srv.Handler(ctx))
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return ts
}

type sseFrame struct {
	event string
	data  string
}

func readSSE(t *testing.T, body io.Reader) []sseFrame {
	t.Helper()
	var frames []sseFrame
	var cur sseFrame
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if cur.event != "" || cur.data != "" {
				frames = append(frames, cur)
			}
			cur = sseFrame{}
		case strings.HasPrefix(line, "event:"):
			cur.event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			cur.data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	require.NoError(t, scanner.Err())
	if cur.event != "" || cur.data != "" {
		frames = append(frames, cur)
	}
	return frames
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// --- lifecycle ---

func TestServerLifecycle(t *testing.T) {
	srv := NewServer(testServerConfig(), Deps{Chat: &fakeChat{}, Catalog: testCatalog()}, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	require.Eventually(t, func() bool { return srv.BoundAddr() != "" }, 3*time.Second, 5*time.Millisecond)

	resp, err := http.Get("http://" + srv.BoundAddr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))

	require.NoError(t, srv.Stop(context.Background()))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
	http.DefaultClient.CloseIdleConnections()
}

func TestServerStopBeforeStart(t *testing.T) {
	srv := NewServer(testServerConfig(), Deps{}, logger.Discard())
	assert.NoError(t, srv.Stop(context.Background()))
}

// --- SSE chat ---

func TestChatSSEStreamsEventsInOrder(t *testing.T) {
	chat := &fakeChat{events: turnEvents()}
	ts := newTestHTTP(t, chat, testCatalog(), nil)

	resp := postJSON(t, ts.URL+"/v1/chat", `{"message":"hi","history":[{"role":"user","content":"earlier"}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	frames := readSSE(t, resp.Body)
	require.Len(t, frames, 4)

	wantTypes := []string{"start", "content", "content", "end"}
	for i, f := range frames {
		assert.Equal(t, wantTypes[i], f.event)

		var ev struct {
			Type    string          `json:"type"`
			TurnID  string          `json:"turnId"`
			Seq     int             `json:"seq"`
			Payload json.RawMessage `json:"payload"`
		}
		require.NoError(t, json.Unmarshal([]byte(f.data), &ev), "frame %d: %q", i, f.data)
		assert.Equal(t, wantTypes[i], ev.Type)
		assert.Equal(t, "t1", ev.TurnID)
		assert.Equal(t, i, ev.Seq)
	}
	assert.JSONEq(t, `{"content":"lo"}`, extractPayload(t, frames[2].data))

	turn := chat.lastTurn()
	assert.Equal(t, "hi", turn.Message)
	require.Len(t, turn.History, 1)
	assert.Equal(t, "earlier", turn.History[0].Content)
}

func extractPayload(t *testing.T, data string) string {
	t.Helper()
	var ev struct {
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	return string(ev.Payload)
}

func TestChatSSEStartErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantErr  domain.ErrorCode
	}{
		{
			name:     "empty message",
			body:     `{"message":""}`,
			err:      domain.NewDomainError("Orchestrator.Start", domain.ErrEmptyMessage, ""),
			wantCode: http.StatusBadRequest,
			wantErr:  domain.CodeEmptyMessage,
		},
		{
			name:     "malformed JSON",
			body:     `{"message":`,
			wantCode: http.StatusBadRequest,
			wantErr:  domain.CodeInvalidInput,
		},
		{
			name:     "unexpected failure",
			body:     `{"message":"hi"}`,
			err:      errors.New("boom"),
			wantCode: http.StatusInternalServerError,
			wantErr:  domain.CodeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestHTTP(t, &fakeChat{err: tt.err}, testCatalog(), nil)

			resp := postJSON(t, ts.URL+"/v1/chat", tt.body)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

			body := decodeBody[errorBody](t, resp)
			assert.Equal(t, tt.wantErr, body.Code)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestChatSSEClientDisconnectCancelsTurn(t *testing.T) {
	chat := &fakeChat{
		events:    turnEvents()[:1],
		hold:      true,
		cancelled: make(chan struct{}),
	}
	ts := newTestHTTP(t, chat, testCatalog(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.URL+"/v1/chat", strings.NewReader(`{"message":"hi"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "start")

	cancel()

	select {
	case <-chat.cancelled:
	case <-time.After(3 * time.Second):
		t.Fatal("turn context was not cancelled after client disconnect")
	}
}

// --- WebSocket chat ---

func dialChatWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/chat/ws"
	ws, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.CloseNow() })
	return ws
}

func TestChatWebSocketStreamsUntilTerminal(t *testing.T) {
	chat := &fakeChat{events: turnEvents()}
	ts := newTestHTTP(t, chat, testCatalog(), nil)
	ws := dialChatWS(t, ts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	require.NoError(t, wsjson.Write(ctx, ws, map[string]any{"message": "hi"}))

	var got []string
	var readErr error
	for {
		var ev struct {
			Type string `json:"type"`
			Seq  int    `json:"seq"`
		}
		if readErr = wsjson.Read(ctx, ws, &ev); readErr != nil {
			break
		}
		got = append(got, ev.Type)
	}

	assert.Equal(t, []string{"start", "content", "content", "end"}, got)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(readErr))
	assert.Equal(t, "hi", chat.lastTurn().Message)
}

func TestChatWebSocketStartError(t *testing.T) {
	chat := &fakeChat{err: domain.NewDomainError("Orchestrator.Start", domain.ErrEmptyMessage, "")}
	ts := newTestHTTP(t, chat, testCatalog(), nil)
	ws := dialChatWS(t, ts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	require.NoError(t, wsjson.Write(ctx, ws, map[string]any{"message": ""}))

	var ev struct {
		Type    string    `json:"type"`
		Payload errorBody `json:"payload"`
	}
	require.NoError(t, wsjson.Read(ctx, ws, &ev))
	assert.Equal(t, "error", ev.Type)
	assert.Equal(t, domain.CodeEmptyMessage, ev.Payload.Code)

	var next map[string]any
	err := wsjson.Read(ctx, ws, &next)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}

func TestChatWebSocketRejectsNonJSONFrame(t *testing.T) {
	ts := newTestHTTP(t, &fakeChat{events: turnEvents()}, testCatalog(), nil)
	ws := dialChatWS(t, ts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	require.NoError(t, ws.Write(ctx, websocket.MessageText, []byte("not json")))

	var ev map[string]any
	err := wsjson.Read(ctx, ws, &ev)
	assert.Equal(t, websocket.StatusUnsupportedData, websocket.CloseStatus(err))
}

// --- tools ---

func TestListTools(t *testing.T) {
	ts := newTestHTTP(t, &fakeChat{}, testCatalog(), nil)

	resp, err := http.Get(ts.URL + "/v1/tools")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[toolsResponse](t, resp)
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Tools, 1)
	assert.Equal(t, "getproduct", body.Tools[0].Name)
	assert.Equal(t, "/products/{id}", body.Tools[0].Path)
}

func TestExecuteTool(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		cat := testCatalog()
		ts := newTestHTTP(t, &fakeChat{}, cat, nil)

		resp := postJSON(t, ts.URL+"/v1/tools/getproduct/execute", `{"id":"5","limit":10}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		res := decodeBody[domain.ExecutionResult](t, resp)
		assert.True(t, res.Success)
		assert.Equal(t, 200, res.Status)

		cat.mu.Lock()
		defer cat.mu.Unlock()
		assert.Equal(t, "5", cat.params["id"])
		assert.Equal(t, json.Number("10"), cat.params["limit"])
	})

	t.Run("execution failure is still 200", func(t *testing.T) {
		cat := testCatalog()
		cat.result = domain.ExecutionResult{Success: false, Status: 404, Error: "HTTP 404: Not Found", ErrorKind: domain.ExecRemoteHTTP}
		ts := newTestHTTP(t, &fakeChat{}, cat, nil)

		resp := postJSON(t, ts.URL+"/v1/tools/getproduct/execute", `{"id":"missing"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		res := decodeBody[domain.ExecutionResult](t, resp)
		assert.False(t, res.Success)
		assert.Equal(t, domain.ExecRemoteHTTP, res.ErrorKind)
	})

	t.Run("empty body", func(t *testing.T) {
		ts := newTestHTTP(t, &fakeChat{}, testCatalog(), nil)

		resp := postJSON(t, ts.URL+"/v1/tools/getproduct/execute", ``)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("unknown tool", func(t *testing.T) {
		ts := newTestHTTP(t, &fakeChat{}, testCatalog(), nil)

		resp := postJSON(t, ts.URL+"/v1/tools/nope/execute", `{}`)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, domain.CodeToolNotFound, decodeBody[errorBody](t, resp).Code)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		ts := newTestHTTP(t, &fakeChat{}, testCatalog(), nil)

		resp := postJSON(t, ts.URL+"/v1/tools/getproduct/execute", `{"id":`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, domain.CodeInvalidInput, decodeBody[errorBody](t, resp).Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		ts := newTestHTTP(t, &fakeChat{}, testCatalog(), nil)

		resp, err := http.Get(ts.URL + "/v1/tools/getproduct/execute")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

// --- health, reload, metrics ---

func TestHealth(t *testing.T) {
	t.Run("liveness only", func(t *testing.T) {
		cat := testCatalog()
		cat.health = domain.Failure(domain.ExecConnectivity, "down", 1)
		ts := newTestHTTP(t, &fakeChat{}, cat, nil)

		resp, err := http.Get(ts.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody[healthResponse](t, resp)
		assert.Equal(t, "ok", body.Status)
		assert.Equal(t, 1, body.Tools)
		assert.Nil(t, body.Upstream)
	})

	t.Run("upstream healthy", func(t *testing.T) {
		ts := newTestHTTP(t, &fakeChat{}, testCatalog(), nil)

		resp, err := http.Get(ts.URL + "/healthz?upstream=1")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody[healthResponse](t, resp)
		require.NotNil(t, body.Upstream)
		assert.True(t, body.Upstream.Success)
	})

	t.Run("upstream down", func(t *testing.T) {
		cat := testCatalog()
		cat.health = domain.Failure(domain.ExecConnectivity, "connection failed", 1)
		ts := newTestHTTP(t, &fakeChat{}, cat, nil)

		resp, err := http.Get(ts.URL + "/healthz?upstream=1")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

		body := decodeBody[healthResponse](t, resp)
		assert.Equal(t, "degraded", body.Status)
		require.NotNil(t, body.Upstream)
		assert.Equal(t, domain.ExecConnectivity, body.Upstream.ErrorKind)
	})
}

func TestReload(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		cat := testCatalog()
		cat.reloadN = 7
		ts := newTestHTTP(t, &fakeChat{}, cat, nil)

		resp := postJSON(t, ts.URL+"/v1/admin/reload", ``)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 7, decodeBody[reloadResponse](t, resp).Tools)
	})

	t.Run("compile failure", func(t *testing.T) {
		cat := testCatalog()
		cat.reloadErr = domain.WrapOp("Service.Reload", domain.ErrCompile)
		ts := newTestHTTP(t, &fakeChat{}, cat, nil)

		resp := postJSON(t, ts.URL+"/v1/admin/reload", ``)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, domain.CodeCompile, decodeBody[errorBody](t, resp).Code)
	})
}

func TestMetricsRoute(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	m.SetCompiledTools(3)
	ts := newTestHTTP(t, &fakeChat{}, testCatalog(), m)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "toolbridge_compiled_tools 3")
}

func TestMetricsRouteAbsentWithoutProvider(t *testing.T) {
	ts := newTestHTTP(t, &fakeChat{}, testCatalog(), nil)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrEmptyMessage, http.StatusBadRequest},
		{domain.ErrInvalidInput, http.StatusBadRequest},
		{domain.ErrToolNotFound, http.StatusNotFound},
		{domain.ErrRateLimit, http.StatusTooManyRequests},
		{domain.ErrTimeout, http.StatusGatewayTimeout},
		{domain.ErrCircuitOpen, http.StatusBadGateway},
		{domain.ErrCompile, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(domain.WrapOp("op", tt.err)), tt.err.Error())
	}
}
