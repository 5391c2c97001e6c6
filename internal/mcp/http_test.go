package mcp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaizen-ai-systems/msgraph-mcp/internal/logger"
)

func newTestTransport(t *testing.T, dir Directory, opts HTTPOptions) (*HTTPTransport, *httptest.Server) {
	t.Helper()
	s := NewServer(dir, WithMetrics(NewMetrics()))
	transport := NewHTTPTransport(s, opts)
	srv := httptest.NewServer(transport.Handler())
	// Streams must be released before the server waits on them.
	t.Cleanup(srv.Close)
	t.Cleanup(transport.Close)
	return transport, srv
}

func postJSON(t *testing.T, target string, body string) (*http.Response, jsonRPCResponse) {
	t.Helper()
	resp, err := http.Post(target, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded jsonRPCResponse
	require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	assert.Equal(t, strconv.Itoa(len(raw)), resp.Header.Get("Content-Length"))
	return resp, decoded
}

// openStream performs the SSE handshake and returns the announced endpoint.
func openStream(t *testing.T, target string) (string, io.Closer) {
	t.Helper()
	resp, err := http.Get(target)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 3 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		lines = append(lines, strings.TrimRight(line, "\n"))
	}
	require.Equal(t, "event: endpoint", lines[0])
	require.True(t, strings.HasPrefix(lines[1], "data: "), lines[1])
	require.Equal(t, "", lines[2])
	return strings.TrimPrefix(lines[1], "data: "), resp.Body
}

func TestPostInitialize(t *testing.T) {
	_, srv := newTestTransport(t, &stubDirectory{}, HTTPOptions{})

	resp, decoded := postJSON(t, srv.URL+"/mcp", `{"jsonrpc":"2.0","id":"init-1","method":"initialize","params":{}}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, json.RawMessage(`"init-1"`), decoded.ID)
	assert.Nil(t, decoded.Error)

	result := decoded.Result.(map[string]interface{})
	assert.Equal(t, ProtocolVersion, result["protocolVersion"])
}

func TestPostUnknownMethodIsOK(t *testing.T) {
	_, srv := newTestTransport(t, &stubDirectory{}, HTTPOptions{})

	resp, decoded := postJSON(t, srv.URL+"/mcp", `{"jsonrpc":"2.0","id":2,"method":"prompts/list"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, decoded.Error)
	assert.Equal(t, codeMethodNotFound, decoded.Error.Code)
}

func TestPostInvalidJSON(t *testing.T) {
	_, srv := newTestTransport(t, &stubDirectory{}, HTTPOptions{})

	resp, decoded := postJSON(t, srv.URL+"/mcp", `{"jsonrpc":"2.0","id":1,`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.NotNil(t, decoded.Error)
	assert.Equal(t, codeInternalError, decoded.Error.Code)
	assert.NotEmpty(t, decoded.Error.Message)
	assert.True(t, len(decoded.ID) == 0 || string(decoded.ID) == "null", string(decoded.ID))
}

func TestPostMalformedEnvelopeKeepsID(t *testing.T) {
	_, srv := newTestTransport(t, &stubDirectory{}, HTTPOptions{})

	resp, decoded := postJSON(t, srv.URL+"/mcp", `{"jsonrpc":"2.0","id":7,"method":42}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.NotNil(t, decoded.Error)
	assert.Equal(t, codeInternalError, decoded.Error.Code)
	assert.Equal(t, json.RawMessage(`7`), decoded.ID)
}

func TestPostBodyTooLarge(t *testing.T) {
	_, srv := newTestTransport(t, &stubDirectory{}, HTTPOptions{MaxBodyBytes: 64})

	body := `{"jsonrpc":"2.0","id":1,"method":"ping","params":{"pad":"` + strings.Repeat("x", 128) + `"}}`
	resp, decoded := postJSON(t, srv.URL+"/mcp", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	require.NotNil(t, decoded.Error)
	assert.Equal(t, codeInvalidRequest, decoded.Error.Code)
}

func TestPostChunkedBody(t *testing.T) {
	_, srv := newTestTransport(t, &stubDirectory{}, HTTPOptions{})

	pr, pw := io.Pipe()
	go func() {
		for _, chunk := range []string{`{"jsonrpc":"2.0",`, `"id":9,`, `"method":"tools/list"}`} {
			_, _ = pw.Write([]byte(chunk))
			time.Sleep(5 * time.Millisecond)
		}
		_ = pw.Close()
	}()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/mcp", pr)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var decoded jsonRPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Equal(t, json.RawMessage(`9`), decoded.ID)
}

func TestCreateUserRoundTripOverHTTP(t *testing.T) {
	_, srv := newTestTransport(t, &stubDirectory{}, HTTPOptions{})

	params, err := json.Marshal(toolsCallParams{Name: "create_user", Arguments: map[string]interface{}{
		"userPrincipalName": "grace@contoso.com",
		"displayName":       "Grace Hopper",
		"mailNickname":      "grace",
		"password":          "Cobol#1959",
	}})
	require.NoError(t, err)
	body, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", ID: json.RawMessage(`42`), Method: "tools/call", Params: params})
	require.NoError(t, err)

	resp, decoded := postJSON(t, srv.URL+"/mcp", string(body))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, decoded.Error)
	assert.Equal(t, json.RawMessage(`42`), decoded.ID)

	raw, err := json.Marshal(decoded.Result)
	require.NoError(t, err)
	var result toolResult
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Len(t, result.Content, 1)

	text := result.Content[0].Text
	_, summary, ok := strings.Cut(text, "\n")
	require.True(t, ok, text)
	var created map[string]string
	require.NoError(t, json.Unmarshal([]byte(summary), &created))
	assert.Equal(t, "generated-grace", created["id"])
	assert.Equal(t, "Grace Hopper", created["displayName"])
	assert.Equal(t, "grace@contoso.com", created["userPrincipalName"])
}

func TestUnknownPathIsNotFound(t *testing.T) {
	_, srv := newTestTransport(t, &stubDirectory{}, HTTPOptions{EndpointPath: "/mcp"})

	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodPut} {
		req, err := http.NewRequest(method, srv.URL+"/elsewhere", strings.NewReader("{}"))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode, method)
		assert.Equal(t, "Not Found", string(body), method)
	}
}

func TestOtherMethodIsNotAllowed(t *testing.T) {
	_, srv := newTestTransport(t, &stubDirectory{}, HTTPOptions{})

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/mcp", strings.NewReader("{}"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "Method Not Allowed", string(body))
}

func TestSSEHandshake(t *testing.T) {
	transport, srv := newTestTransport(t, &stubDirectory{}, HTTPOptions{})

	endpoint, stream := openStream(t, srv.URL+"/mcp")
	defer stream.Close()

	u, err := url.Parse(endpoint)
	require.NoError(t, err)
	assert.Equal(t, "/mcp", u.Path)
	_, err = uuid.Parse(u.Query().Get("session_id"))
	require.NoError(t, err)
	assert.True(t, transport.sessions.known(u.Query().Get("session_id")))
}

func TestSSEStreamReleasedOnClose(t *testing.T) {
	transport, srv := newTestTransport(t, &stubDirectory{}, HTTPOptions{})

	resp, err := http.Get(srv.URL + "/mcp")
	require.NoError(t, err)
	defer resp.Body.Close()

	transport.Close()

	done := make(chan []byte)
	go func() {
		raw, _ := io.ReadAll(resp.Body)
		done <- raw
	}()
	select {
	case raw := <-done:
		assert.True(t, bytes.HasPrefix(raw, []byte("event: endpoint\n")), string(raw))
		assert.Equal(t, 1, bytes.Count(raw, []byte("event:")))
	case <-time.After(5 * time.Second):
		t.Fatal("stream was not released")
	}
}

func TestSSEPing(t *testing.T) {
	_, srv := newTestTransport(t, &stubDirectory{}, HTTPOptions{PingInterval: 10 * time.Millisecond})

	resp, err := http.Get(srv.URL + "/mcp")
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line == ": ping\n" {
			return
		}
	}
}

func TestStrictSessions(t *testing.T) {
	_, srv := newTestTransport(t, &stubDirectory{}, HTTPOptions{StrictSessions: true})

	resp, decoded := postJSON(t, srv.URL+"/mcp", `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NotNil(t, decoded.Error)
	assert.Equal(t, codeInvalidRequest, decoded.Error.Code)

	endpoint, stream := openStream(t, srv.URL+"/mcp")
	defer stream.Close()

	resp, decoded = postJSON(t, srv.URL+endpoint, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, decoded.Error)
}

func TestStrictSessionOutlivesTTLWhileStreamOpen(t *testing.T) {
	transport, srv := newTestTransport(t, &stubDirectory{}, HTTPOptions{StrictSessions: true, SessionTTL: 150 * time.Millisecond})

	endpoint, stream := openStream(t, srv.URL+"/mcp")
	defer stream.Close()

	time.Sleep(600 * time.Millisecond)

	resp, decoded := postJSON(t, srv.URL+endpoint, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, decoded.Error)
	assert.Equal(t, 1, transport.sessions.count())
}

func TestSessionRegistryExpiresUntouchedEntries(t *testing.T) {
	r := newSessionRegistry(20 * time.Millisecond)
	id := r.open()
	assert.True(t, r.known(id))
	assert.Equal(t, 20*time.Millisecond/3, r.refreshInterval())

	time.Sleep(50 * time.Millisecond)
	assert.False(t, r.known(id))

	r.touch(id)
	assert.True(t, r.known(id))
	r.close(id)
	assert.False(t, r.known(id))

	assert.Zero(t, newSessionRegistry(0).refreshInterval())
}

func TestLenientSessionsAcceptUnknownID(t *testing.T) {
	_, srv := newTestTransport(t, &stubDirectory{}, HTTPOptions{})

	resp, decoded := postJSON(t, srv.URL+"/mcp?session_id=not-a-session", `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, decoded.Error)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRequestLoggerCarriesPath(t *testing.T) {
	var out lockedBuffer
	s := NewServer(&stubDirectory{}, WithLogger(logger.New(&out, "debug", logger.JSONHandler)))
	transport := NewHTTPTransport(s, HTTPOptions{})
	srv := httptest.NewServer(transport.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(transport.Close)

	postJSON(t, srv.URL+"/mcp?session_id=stale", `{"jsonrpc":"2.0","id":1,"method":"ping"}`)

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		if entry["msg"] == "post references no live sse session" {
			found = true
			assert.Equal(t, "/mcp", entry["path"])
			assert.Equal(t, http.MethodPost, entry["method"])
			assert.Equal(t, "stale", entry["session_id"])
		}
	}
	assert.True(t, found, out.String())
}

func TestCORSPreflight(t *testing.T) {
	_, srv := newTestTransport(t, &stubDirectory{}, HTTPOptions{})

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/mcp", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://agent.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Less(t, resp.StatusCode, 300)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	_, srv := newTestTransport(t, &stubDirectory{}, HTTPOptions{MetricsPath: "/metrics"})

	postJSON(t, srv.URL+"/mcp", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `graph_mcp_jsonrpc_requests_total{method="tools/list"} 1`)
}
