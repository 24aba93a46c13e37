package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/crm-assistant/internal/config"
	"github.com/zhouzirui/crm-assistant/internal/handler/feed"
	"github.com/zhouzirui/crm-assistant/internal/service/assistant"
	"github.com/zhouzirui/crm-assistant/internal/service/stream"
)

var feedAddr string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat",
	Long: `Opens an interactive chat with the assistant. Replies stream in as they
are generated.

Commands:
  /clear  - forget the conversation
  /quit   - exit
Ctrl-C stops the reply in progress; at the prompt it exits.`,
	RunE: runChat,
}

func newClientSession(c config.ClientConfig, opts ...assistant.SessionOption) *assistant.Session {
	client := stream.NewHTTPClient(c.ConnectTimeout)
	transport := stream.NewTransport(c.ChatURL(),
		stream.WithHTTPClient(client),
		stream.WithIdleTimeout(c.IdleTimeout),
		stream.WithLogger(logger.Named("transport")),
	)
	creds := stream.StaticToken(c.Token)
	probe := assistant.NewStatusProbe(c.StatusURL(), nil, creds)

	opts = append([]assistant.SessionOption{
		assistant.WithStatusProbe(probe),
		assistant.WithHistoryLimit(c.HistoryLimit),
		assistant.WithSessionLogger(logger.Named("session")),
	}, opts...)
	return assistant.NewSession(transport, creds, opts...)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	st := newStyles(cmd.OutOrStdout())
	out := &lockedWriter{w: cmd.OutOrStdout()}
	opts := []assistant.SessionOption{assistant.WithObserver(newPrinter(out, st).Observe)}

	addr := feedAddr
	if addr == "" {
		addr = cfg.Client.FeedAddr
	}
	var hub *feed.Hub
	if addr != "" {
		hub = feed.NewHub(logger.Named("feed"))
		opts = append(opts, assistant.WithObserver(hub.Observe))
	}

	s := newClientSession(cfg.Client, opts...)

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return runREPL(gctx, s, cmd.InOrStdin(), out, st, interrupts)
	})

	if hub != nil {
		r := chi.NewRouter()
		hub.RegisterRoutes(r)
		srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			logger.Info("snapshot feed listening", zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("snapshot feed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			hub.CloseAll()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// runREPL reads one message per line until /quit, end of input, or an
// interrupt at the prompt. An interrupt while a reply streams cancels it.
func runREPL(ctx context.Context, s *assistant.Session, in io.Reader, out io.Writer, st styles, interrupts <-chan os.Signal) error {
	defer s.Cancel()

	status, err := s.Start(ctx)
	switch {
	case err != nil:
		fmt.Fprintln(out, st.err.Render("assistant status unknown: "+err.Error()))
	case !status.Available:
		fmt.Fprintln(out, st.err.Render("assistant unavailable: "+status.Message))
	case status.Message != "":
		fmt.Fprintln(out, st.hint.Render(status.Message))
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(out, st.user.Render("you>")+" ")

		var line string
		select {
		case <-ctx.Done():
			return nil
		case <-interrupts:
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/clear":
			if err := s.Clear(); err != nil {
				fmt.Fprintln(out, st.err.Render(err.Error()))
			} else {
				fmt.Fprintln(out, st.hint.Render("conversation cleared"))
			}
			continue
		}

		if err := s.Send(ctx, line); err != nil {
			// Open failures are already rendered from the snapshot.
			if s.Err() == nil && !errors.Is(err, assistant.ErrCancelled) {
				fmt.Fprintln(out, st.err.Render(err.Error()))
			}
			continue
		}

		if err := awaitReply(ctx, s, out, st, interrupts); err != nil {
			return nil
		}
	}
}

func awaitReply(ctx context.Context, s *assistant.Session, out io.Writer, st styles, interrupts <-chan os.Signal) error {
	done := make(chan error, 1)
	go func() {
		done <- s.Wait(ctx)
	}()

	for {
		select {
		case err := <-done:
			return err
		case <-interrupts:
			s.Cancel()
			fmt.Fprintln(out, st.hint.Render("(stopped)"))
		}
	}
}
