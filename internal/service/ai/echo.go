package ai

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/crm-assistant/internal/model/chat"
)

// EchoResponder streams the user's message back word by word. It stands in
// for the model when no Ark credentials are configured.
type EchoResponder struct {
	Delay time.Duration
}

func (EchoResponder) Model() string {
	return "echo"
}

func (e EchoResponder) StreamResponse(ctx context.Context, history []chat.Turn, query string) (*schema.StreamReader[*schema.Message], error) {
	reply := "You said: " + query
	words := strings.SplitAfter(reply, " ")

	sr, sw := schema.Pipe[*schema.Message](len(words))
	go func() {
		defer sw.Close()
		for _, word := range words {
			if e.Delay > 0 {
				select {
				case <-ctx.Done():
					sw.Send(nil, ctx.Err())
					return
				case <-time.After(e.Delay):
				}
			}
			if closed := sw.Send(schema.AssistantMessage(word, nil), nil); closed {
				return
			}
		}
	}()
	return sr, nil
}
