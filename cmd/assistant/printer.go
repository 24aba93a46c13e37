package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/zhouzirui/crm-assistant/internal/model/chat"
)

// lockedWriter serialises writes from the prompt loop and the stream reader.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// printer renders session snapshots incrementally: only the text appended
// to the reply since the previous snapshot is written.
type printer struct {
	out     io.Writer
	st      styles
	replyID string
	printed int
	prev    chat.State
}

func newPrinter(out io.Writer, st styles) *printer {
	return &printer{out: out, st: st, prev: chat.StateIdle}
}

func (p *printer) Observe(snap chat.Snapshot) {
	if last, ok := snap.Last(); ok && last.Role == chat.RoleAssistant {
		if last.ID != p.replyID {
			p.replyID = last.ID
			p.printed = 0
			fmt.Fprint(p.out, p.st.assistant.Render("assistant>")+" ")
		}
		if len(last.Text) > p.printed {
			fmt.Fprint(p.out, last.Text[p.printed:])
			p.printed = len(last.Text)
		}
	}

	if p.prev.InFlight() && !snap.State.InFlight() {
		fmt.Fprintln(p.out)
		if snap.Error != "" {
			fmt.Fprintln(p.out, p.st.err.Render("error: "+snap.Error))
		}
	}
	p.prev = snap.State
}
