package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/crm-assistant/internal/model/chat"
	aiService "github.com/zhouzirui/crm-assistant/internal/service/ai"
	streamsvc "github.com/zhouzirui/crm-assistant/internal/service/stream"
)

type failingResponder struct{}

func (failingResponder) Model() string { return "broken" }

func (failingResponder) StreamResponse(context.Context, []chat.Turn, string) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("model offline")
}

type recordingResponder struct {
	history []chat.Turn
	query   string
}

func (r *recordingResponder) Model() string { return "recorder" }

func (r *recordingResponder) StreamResponse(ctx context.Context, history []chat.Turn, query string) (*schema.StreamReader[*schema.Message], error) {
	r.history = history
	r.query = query
	return schema.StreamReaderFromArray([]*schema.Message{
		schema.AssistantMessage("ok", nil),
		schema.AssistantMessage("", nil),
	}), nil
}

func serve(t *testing.T, responder aiService.Responder, body string, opts ...Option) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	New(responder, nil, opts...).RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodPost, "/chat/stream", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func frames(t *testing.T, body string) []StreamResponse {
	t.Helper()
	var out []StreamResponse
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" || strings.HasPrefix(block, ":") {
			continue
		}
		require.True(t, strings.HasPrefix(block, "data: "), "unexpected frame %q", block)
		var resp StreamResponse
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(block, "data: ")), &resp))
		out = append(out, resp)
	}
	return out
}

func TestStreamEchoesFrames(t *testing.T) {
	rec := serve(t, aiService.EchoResponder{}, `{"message":"hi there","history":[]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	got := frames(t, rec.Body.String())
	require.NotEmpty(t, got)
	assert.Equal(t, "connected", got[0].Type)
	assert.Equal(t, "completed", got[len(got)-1].Type)

	var text strings.Builder
	for _, f := range got[1 : len(got)-1] {
		assert.Equal(t, "message", f.Type)
		text.WriteString(f.Content)
	}
	assert.Equal(t, "You said: hi there", text.String())
}

func TestStreamPassesHistory(t *testing.T) {
	responder := &recordingResponder{}
	rec := serve(t, responder, `{"message":"and now?","history":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "and now?", responder.query)
	assert.Equal(t, []chat.Turn{
		{Role: chat.RoleUser, Content: "hi"},
		{Role: chat.RoleAssistant, Content: "hello"},
	}, responder.history)

	got := frames(t, rec.Body.String())
	assert.Equal(t, []StreamResponse{
		{Type: "connected"},
		{Type: "message", Content: "ok"},
		{Type: "completed"},
	}, got)
}

func TestStreamRejectsBadRequests(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"malformed", `{"message":`},
		{"blank message", `{"message":"   "}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(t, aiService.EchoResponder{}, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestStreamWithoutResponder(t *testing.T) {
	rec := serve(t, nil, `{"message":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "ai streaming unavailable")
}

func TestStreamReportsModelFailure(t *testing.T) {
	rec := serve(t, failingResponder{}, `{"message":"hi"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	got := frames(t, rec.Body.String())
	require.Len(t, got, 2)
	assert.Equal(t, "connected", got[0].Type)
	assert.Equal(t, "error", got[1].Type)
	assert.Contains(t, got[1].Error, "model offline")
}

func TestStreamSendsKeepAliveWhileModelIsSilent(t *testing.T) {
	rec := serve(t, aiService.EchoResponder{Delay: 40 * time.Millisecond}, `{"message":"slow"}`, WithHeartbeat(10*time.Millisecond))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, ": keep-alive\n\n")

	got := frames(t, body)
	require.NotEmpty(t, got)
	assert.Equal(t, "connected", got[0].Type)
	assert.Equal(t, "completed", got[len(got)-1].Type)
}

func TestStreamWithoutHeartbeat(t *testing.T) {
	rec := serve(t, aiService.EchoResponder{Delay: 20 * time.Millisecond}, `{"message":"quiet"}`, WithHeartbeat(0))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "keep-alive")
}

func TestKeepAliveFramesAreSkippedByClient(t *testing.T) {
	r := chi.NewRouter()
	New(aiService.EchoResponder{Delay: 30 * time.Millisecond}, nil, WithHeartbeat(5*time.Millisecond)).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	events := make(chan streamsvc.Event, 32)
	transport := streamsvc.NewTransport(srv.URL + "/chat/stream")
	h, err := transport.Open(context.Background(), "tok", streamsvc.Request{Message: "keep going"}, func(ev streamsvc.Event) {
		events <- ev
	})
	require.NoError(t, err)

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not finish")
	}
	close(events)

	var kinds []streamsvc.Kind
	var text strings.Builder
	for ev := range events {
		kinds = append(kinds, ev.Kind)
		text.WriteString(ev.Text)
	}
	require.NotEmpty(t, kinds)
	assert.Equal(t, streamsvc.Connected, kinds[0])
	assert.Equal(t, streamsvc.Completed, kinds[len(kinds)-1])
	for _, k := range kinds[1 : len(kinds)-1] {
		assert.Equal(t, streamsvc.Delta, k)
	}
	assert.Equal(t, "You said: keep going", text.String())
}
