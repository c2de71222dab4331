package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/tcnksm/go-input"

	"chat-client/internal/domain"
	"chat-client/internal/render"
	"chat-client/internal/usecase"
)

// prompter reads one line of user input. def is returned for an empty answer.
type prompter interface {
	Ask(query, def string) (string, error)
}

type inputPrompter struct {
	ui *input.UI
}

func newInputPrompter(r io.Reader, w io.Writer) *inputPrompter {
	return &inputPrompter{ui: &input.UI{Writer: w, Reader: r}}
}

func (p *inputPrompter) Ask(query, def string) (string, error) {
	return p.ui.Ask(query, &input.Options{
		Default:   def,
		HideOrder: true,
	})
}

const helpText = `Commands:
  /new            start a new conversation
  /list           list conversations
  /open <id>      switch to a conversation
  /title <text>   rename the current conversation
  /quit           leave
Anything else is sent as a message.`

// session is the interactive prompt loop over one store.
type session struct {
	store    *usecase.ConversationStore
	renderer *render.Renderer
	out      io.Writer
	prompt   prompter
	logger   *slog.Logger
}

func (s *session) run(ctx context.Context, startID int) error {
	if startID > 0 {
		if err := s.open(ctx, startID); err != nil {
			return err
		}
	} else if err := s.newConversation(ctx); err != nil {
		return err
	}

	// pending holds the text of a failed send so it can be resubmitted.
	pending := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		line, err := s.prompt.Ask(s.promptLabel(), pending)
		if err != nil {
			if errors.Is(err, input.ErrInterrupted) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		line = strings.TrimSpace(line)
		pending = ""
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := s.command(ctx, line)
			if err != nil {
				s.printf("error: %s\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		msg, err := s.store.SendMessage(ctx, line)
		if err != nil {
			s.printf("error: %s\n", err)
			pending = line
			continue
		}
		if err := s.renderer.ChatMessage(domain.BotChatMessage(msg.ID, msg.Response, msg.Created, msg.Sources)); err != nil {
			s.logger.Warn("failed to render reply", "err", err)
		}
	}
}

// command runs a slash command and reports whether the loop should end.
func (s *session) command(ctx context.Context, line string) (bool, error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		s.printf("%s\n", helpText)
		return false, nil
	case "/new":
		return false, s.newConversation(ctx)
	case "/list":
		if err := s.store.LoadConversations(ctx); err != nil {
			return false, err
		}
		return false, s.renderer.Conversations(s.store.Snapshot().Conversations)
	case "/open":
		id, err := parseID(arg)
		if err != nil {
			return false, err
		}
		return false, s.open(ctx, id)
	case "/title":
		if arg == "" {
			return false, errors.New("usage: /title <text>")
		}
		cur := s.store.Snapshot().CurrentConversation
		if cur == nil {
			return false, usecase.ErrNoConversation
		}
		conv, err := s.store.UpdateConversationTitle(ctx, cur.ID, arg)
		if err != nil {
			return false, err
		}
		return false, s.renderer.Conversation(conv)
	default:
		return false, fmt.Errorf("unknown command %s, try /help", name)
	}
}

func (s *session) newConversation(ctx context.Context) error {
	conv, err := s.store.InitializeConversation(ctx)
	if err != nil {
		return err
	}
	return s.renderer.Conversation(conv)
}

func (s *session) open(ctx context.Context, id int) error {
	if err := s.store.LoadConversation(ctx, id); err != nil {
		return err
	}
	st := s.store.Snapshot()
	return s.renderer.Transcript(*st.CurrentConversation, st.Messages)
}

func (s *session) promptLabel() string {
	if cur := s.store.Snapshot().CurrentConversation; cur != nil {
		return fmt.Sprintf("[#%d] >", cur.ID)
	}
	return ">"
}

func (s *session) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(s.out, format, args...)
}
