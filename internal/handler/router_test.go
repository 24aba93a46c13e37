package handler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/crm-assistant/internal/handler"
	"github.com/zhouzirui/crm-assistant/internal/model/chat"
	aiService "github.com/zhouzirui/crm-assistant/internal/service/ai"
	"github.com/zhouzirui/crm-assistant/internal/service/assistant"
	"github.com/zhouzirui/crm-assistant/internal/service/stream"
)

const secret = "router-test-secret"

func issue(t *testing.T, key string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "agent-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	raw, err := token.SignedString([]byte(key))
	require.NoError(t, err)
	return raw
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler.NewRouter(aiService.EchoResponder{}, false, secret, nil))
	t.Cleanup(srv.Close)
	return srv
}

func newSession(srv *httptest.Server, token string) *assistant.Session {
	base := srv.URL + "/api/assistant"
	client := stream.NewHTTPClient(time.Second)
	transport := stream.NewTransport(base+"/chat/stream", stream.WithHTTPClient(client))
	creds := stream.StaticToken(token)
	probe := assistant.NewStatusProbe(base+"/status", client, creds)
	return assistant.NewSession(transport, creds, assistant.WithStatusProbe(probe))
}

func TestRoundTripThroughRouter(t *testing.T) {
	srv := newServer(t)
	s := newSession(srv, issue(t, secret))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := s.Start(ctx)
	require.NoError(t, err)
	assert.True(t, status.Available)
	assert.False(t, status.Configured)
	assert.Equal(t, "echo", status.Model)

	require.NoError(t, s.Send(ctx, "where is order 42?"))
	require.NoError(t, s.Wait(ctx))

	snap := s.Snapshot()
	assert.Equal(t, chat.StateIdle, snap.State)
	assert.True(t, snap.Available)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "where is order 42?", snap.Messages[0].Text)
	assert.Equal(t, "You said: where is order 42?", snap.Messages[1].Text)
	assert.False(t, snap.Messages[1].Streaming)

	require.NoError(t, s.Send(ctx, "thanks"))
	require.NoError(t, s.Wait(ctx))
	assert.Equal(t, []chat.Turn{
		{Role: chat.RoleUser, Content: "where is order 42?"},
		{Role: chat.RoleAssistant, Content: "You said: where is order 42?"},
		{Role: chat.RoleUser, Content: "thanks"},
		{Role: chat.RoleAssistant, Content: "You said: thanks"},
	}, s.History())
}

func TestRouterRejectsForeignToken(t *testing.T) {
	srv := newServer(t)
	s := newSession(srv, issue(t, "someone-else"))

	err := s.Send(context.Background(), "hi")

	var authErr *stream.AuthError
	require.True(t, errors.As(err, &authErr), "got %v", err)
	assert.Equal(t, http.StatusUnauthorized, authErr.Status)

	snap := s.Snapshot()
	assert.Equal(t, chat.StateIdle, snap.State)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, chat.RoleUser, snap.Messages[0].Role)
	assert.NotEmpty(t, snap.Error)
}

func TestStatusIsPublic(t *testing.T) {
	srv := newServer(t)

	resp, err := http.Get(srv.URL + "/api/assistant/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
