// Command weft is a terminal chat client for the multi-agent backend.
// It sends one turn per invocation, streams the response as it arrives,
// and reports the server session id so follow-up turns can continue the
// conversation. It also exposes the session and agent listings for
// scripting.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/weftlabs/weft/internal/auth"
	"github.com/weftlabs/weft/internal/bus"
	"github.com/weftlabs/weft/internal/client"
	"github.com/weftlabs/weft/internal/config"
	"github.com/weftlabs/weft/internal/protocol"
	"github.com/weftlabs/weft/internal/session"
	"github.com/weftlabs/weft/internal/transcript"
	"github.com/weftlabs/weft/internal/turn"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("weft failed")
	}
}

func run() error {
	sessionID := flag.String("session", "", "continue an existing session by id")
	orchestration := flag.String("orchestration", "", "orchestration pattern (default from WEFT_ORCHESTRATION)")
	listSessions := flag.Bool("list", false, "list sessions and exit")
	listAgents := flag.Bool("agents", false, "list available agents and exit")
	history := flag.String("history", "", "print a session's messages and exit")
	flag.Parse()

	// Initialize structured logging from environment. The CLI logs to
	// stderr so streamed responses on stdout stay clean.
	level, parseErr := zerolog.ParseLevel(os.Getenv("WEFT_LOG_LEVEL"))
	if parseErr != nil {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)

	if os.Getenv("WEFT_LOG_FORMAT") == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	tokens := auth.NewDevTokenSource(cfg.Auth.DevSecret, uuid.New(), cfg.Auth.DevTTL)
	c := client.New(cfg.Backend.URL, tokens, cfg.Backend.HTTPTimeout)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch {
	case *listSessions:
		return printSessions(ctx, c)
	case *listAgents:
		return printAgents(ctx, c)
	case *history != "":
		return printHistory(ctx, c, *history)
	}

	message := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if message == "" {
		return errors.New("usage: weft [flags] <message>")
	}

	orchestrationType := *orchestration
	if orchestrationType == "" {
		orchestrationType = cfg.Chat.OrchestrationType
	}

	return runTurn(ctx, c, turn.Request{
		Message:           message,
		SessionID:         *sessionID,
		OrchestrationType: orchestrationType,
		AgentIDs:          cfg.Chat.AgentIDs,
	})
}

// runTurn submits one turn and renders the stream: content deltas go to
// stdout verbatim, chatter lines to stderr. Ctrl-C cancels the turn
// explicitly; without that, the stream runs to its terminal event.
func runTurn(ctx context.Context, c *client.Client, req turn.Request) error {
	refresh := bus.New()
	coord := session.NewCoordinator(refresh)
	orch := turn.NewOrchestrator(c, coord)

	tn, err := orch.Start(ctx, req)
	if err != nil {
		return err
	}

	tn.SetListener(func(ev protocol.Event) {
		switch ev.Type {
		case protocol.EventContent:
			fmt.Print(ev.Content)
		case protocol.EventAgentStart:
			fmt.Fprintf(os.Stderr, "\n[%s]\n", ev.AgentName)
		case protocol.EventChatter:
			entry := transcript.ChatterEntry{
				Type:            ev.ChatterType,
				AgentName:       ev.AgentName,
				ToolName:        ev.ToolName,
				FriendlyMessage: ev.FriendlyMessage,
			}
			fmt.Fprintf(os.Stderr, "  · %s\n", entry.Describe())
		}
	})

	go func() {
		<-ctx.Done()
		tn.Cancel()
	}()

	if waitErr := tn.Wait(context.Background()); waitErr != nil {
		fmt.Println()
		return waitErr
	}
	fmt.Println()

	if id := tn.SessionID(); id != "" && req.SessionID == "" {
		fmt.Fprintf(os.Stderr, "\nsession: %s (continue with -session %s)\n", id, id)
	}
	return nil
}

func printSessions(ctx context.Context, c *client.Client) error {
	token := ""
	for {
		page, err := c.ListSessions(ctx, 50, token)
		if err != nil {
			return err
		}
		for _, s := range page.Sessions {
			fmt.Printf("%s  %-12s  %3d msgs  %s\n", s.ID, s.OrchestrationType, s.MessageCount, s.Title)
		}
		if !page.HasMore {
			return nil
		}
		token = page.ContinuationToken
	}
}

func printAgents(ctx context.Context, c *client.Client) error {
	agents, err := c.ListAgents(ctx)
	if err != nil {
		return err
	}
	for _, a := range agents {
		fmt.Printf("%s  %-20s  %s\n", a.ID, a.Name, a.Description)
	}
	return nil
}

func printHistory(ctx context.Context, c *client.Client, sessionID string) error {
	token := ""
	for {
		page, err := c.ListMessages(ctx, sessionID, 100, token, true)
		if err != nil {
			return err
		}
		for _, m := range page.Messages {
			fmt.Printf("[%s] %s\n", m.Role, m.Content)
		}
		if !page.HasMore {
			return nil
		}
		token = page.ContinuationToken
	}
}
