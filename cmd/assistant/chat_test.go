package main

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zhouzirui/crm-assistant/internal/config"
	"github.com/zhouzirui/crm-assistant/internal/handler"
	"github.com/zhouzirui/crm-assistant/internal/model/chat"
	"github.com/zhouzirui/crm-assistant/internal/service/ai"
	"github.com/zhouzirui/crm-assistant/internal/service/assistant"
)

func newTestClient(t *testing.T, out io.Writer, st styles) *assistant.Session {
	t.Helper()
	logger = zap.NewNop()

	srv := httptest.NewServer(handler.NewRouter(ai.EchoResponder{}, false, "", nil))
	t.Cleanup(srv.Close)

	return newClientSession(config.ClientConfig{
		BaseURL:        srv.URL + "/api/assistant",
		Token:          "opaque-token",
		ConnectTimeout: time.Second,
	}, assistant.WithObserver(newPrinter(out, st).Observe))
}

func TestREPLStreamsReplies(t *testing.T) {
	var buf bytes.Buffer
	out := &lockedWriter{w: &buf}
	st := newStyles(&buf)
	s := newTestClient(t, out, st)

	in := strings.NewReader("hello there\n\n/clear\n/quit\n")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, runREPL(ctx, s, in, out, st, make(chan os.Signal)))

	got := buf.String()
	assert.Contains(t, got, "no model configured, replies are echoed")
	assert.Contains(t, got, "assistant> You said: hello there\n")
	assert.Contains(t, got, "conversation cleared")
	assert.Empty(t, s.Snapshot().Messages)
}

func TestREPLInterruptAtPromptExits(t *testing.T) {
	var buf bytes.Buffer
	out := &lockedWriter{w: &buf}
	st := newStyles(&buf)
	s := newTestClient(t, out, st)

	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })

	interrupts := make(chan os.Signal, 1)
	interrupts <- os.Interrupt

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, runREPL(ctx, s, pr, out, st, interrupts))
	assert.Equal(t, chat.StateIdle, s.Snapshot().State)
}

func TestPrinterRendersIncrementally(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, newStyles(&buf))

	user := chat.Message{ID: "u1", Role: chat.RoleUser, Text: "hi"}
	reply := func(text string, streaming bool) chat.Message {
		return chat.Message{ID: "a1", Role: chat.RoleAssistant, Text: text, Streaming: streaming}
	}

	p.Observe(chat.Snapshot{State: chat.StateAwaiting, Messages: []chat.Message{user, reply("", true)}})
	p.Observe(chat.Snapshot{State: chat.StateStreaming, Messages: []chat.Message{user, reply("Hel", true)}})
	p.Observe(chat.Snapshot{State: chat.StateStreaming, Messages: []chat.Message{user, reply("Hello", true)}})
	p.Observe(chat.Snapshot{State: chat.StateIdle, Messages: []chat.Message{user, reply("Hello", false)}})

	assert.Equal(t, "assistant> Hello\n", buf.String())

	buf.Reset()
	next := chat.Message{ID: "a2", Role: chat.RoleAssistant, Streaming: true}
	p.Observe(chat.Snapshot{State: chat.StateAwaiting, Messages: []chat.Message{user, reply("Hello", false), user, next}})
	p.Observe(chat.Snapshot{State: chat.StateErrored, Error: "assistant stream failed: boom", Messages: []chat.Message{user, reply("Hello", false), user}})

	assert.Equal(t, "assistant> \nerror: assistant stream failed: boom\n", buf.String())
}
