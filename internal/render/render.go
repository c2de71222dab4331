package render

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/glamour"
	"gopkg.in/yaml.v3"

	"chat-client/internal/domain"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("render: unknown output format %q", s)
	}
}

const (
	timeLayout    = "2006-01-02 15:04"
	markdownStyle = "dark"
)

// Renderer writes store data in one output format. Bot replies are styled as
// markdown in text mode when markdown output is enabled.
type Renderer struct {
	w        io.Writer
	format   Format
	markdown bool
}

type Option func(*Renderer)

// WithMarkdown enables glamour rendering of bot replies in text mode.
func WithMarkdown(enabled bool) Option {
	return func(r *Renderer) { r.markdown = enabled }
}

func New(w io.Writer, format Format, opts ...Option) (*Renderer, error) {
	if w == nil {
		return nil, errors.New("render: writer must not be nil")
	}
	r := &Renderer{w: w, format: format}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Renderer) Format() Format {
	return r.format
}

// Conversations writes the conversation list.
func (r *Renderer) Conversations(convs []domain.Conversation) error {
	if convs == nil {
		convs = []domain.Conversation{}
	}
	switch r.format {
	case FormatJSON:
		return r.json(convs)
	case FormatYAML:
		return r.yaml(convs)
	}
	if len(convs) == 0 {
		_, err := fmt.Fprintln(r.w, "No conversations yet.")
		return err
	}
	tw := tabwriter.NewWriter(r.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tMESSAGES\tUPDATED")
	for _, c := range convs {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", c.ID, displayTitle(c.Title), c.MessageCount, formatTime(c.Updated))
	}
	return tw.Flush()
}

// Conversation writes a single conversation header.
func (r *Renderer) Conversation(c domain.Conversation) error {
	switch r.format {
	case FormatJSON:
		return r.json(c)
	case FormatYAML:
		return r.yaml(c)
	}
	_, err := fmt.Fprintf(r.w, "#%d %s (%d messages, updated %s)\n",
		c.ID, displayTitle(c.Title), c.MessageCount, formatTime(c.Updated))
	return err
}

type transcript struct {
	Conversation domain.Conversation  `json:"conversation" yaml:"conversation"`
	Messages     []domain.ChatMessage `json:"messages" yaml:"messages"`
}

// Transcript writes a conversation followed by its chat messages.
func (r *Renderer) Transcript(c domain.Conversation, msgs []domain.ChatMessage) error {
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	switch r.format {
	case FormatJSON:
		return r.json(transcript{Conversation: c, Messages: msgs})
	case FormatYAML:
		return r.yaml(transcript{Conversation: c, Messages: msgs})
	}
	if err := r.Conversation(c); err != nil {
		return err
	}
	for _, m := range msgs {
		if err := r.ChatMessage(m); err != nil {
			return err
		}
	}
	return nil
}

// ChatMessage writes one side of an exchange.
func (r *Renderer) ChatMessage(m domain.ChatMessage) error {
	switch r.format {
	case FormatJSON:
		return r.json(m)
	case FormatYAML:
		return r.yaml(m)
	}
	if m.IsUser {
		_, err := fmt.Fprintf(r.w, "\n[%s] you:\n%s\n", formatTime(m.Timestamp), m.Text)
		return err
	}
	text := m.Text
	if r.markdown {
		styled, err := glamour.Render(text, markdownStyle)
		if err != nil {
			return fmt.Errorf("render: markdown: %w", err)
		}
		text = styled
	}
	if _, err := fmt.Fprintf(r.w, "\n[%s] assistant:\n%s\n", formatTime(m.Timestamp), strings.TrimRight(text, "\n")); err != nil {
		return err
	}
	return r.sources(m.Sources)
}

func (r *Renderer) sources(srcs []domain.Source) error {
	if len(srcs) == 0 {
		return nil
	}
	if _, err := fmt.Fprintln(r.w, "Sources:"); err != nil {
		return err
	}
	for i, s := range srcs {
		label := s.Title
		if label == "" {
			label = s.Source
		}
		line := fmt.Sprintf("  %d. %s", i+1, label)
		if s.Link != "" {
			line += " <" + s.Link + ">"
		}
		if _, err := fmt.Fprintln(r.w, line); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) json(v any) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("render: encode json: %w", err)
	}
	return nil
}

func (r *Renderer) yaml(v any) error {
	enc := yaml.NewEncoder(r.w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("render: encode yaml: %w", err)
	}
	return enc.Close()
}

func displayTitle(title string) string {
	if strings.TrimSpace(title) == "" {
		return "(untitled)"
	}
	return title
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}
