package render

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"chat-client/internal/domain"
)

var ts = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newRenderer(t *testing.T, format Format, opts ...Option) (*Renderer, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	r, err := New(&buf, format, opts...)
	require.NoError(t, err)
	return r, &buf
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatText, "TEXT": FormatText, "json": FormatJSON, " yaml ": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	require.EqualError(t, err, `render: unknown output format "xml"`)
}

func TestNew_NilWriter(t *testing.T) {
	_, err := New(nil, FormatText)
	require.ErrorContains(t, err, "must not be nil")
}

// ---------------------------------------------------------------------------
// Conversations
// ---------------------------------------------------------------------------

func TestConversations_Text(t *testing.T) {
	r, buf := newRenderer(t, FormatText)

	require.NoError(t, r.Conversations([]domain.Conversation{
		{ID: 1, Title: "Budget questions", MessageCount: 3, Updated: ts},
		{ID: 2, Title: "", MessageCount: 0},
	}))

	out := buf.String()
	require.Contains(t, out, "ID")
	require.Contains(t, out, "Budget questions")
	require.Contains(t, out, "(untitled)")
	require.Regexp(t, `(?m)^2\s+\(untitled\)\s+0\s+-$`, out)
}

func TestConversations_TextEmpty(t *testing.T) {
	r, buf := newRenderer(t, FormatText)
	require.NoError(t, r.Conversations(nil))
	require.Equal(t, "No conversations yet.\n", buf.String())
}

func TestConversations_JSONUsesWireNames(t *testing.T) {
	r, buf := newRenderer(t, FormatJSON)
	require.NoError(t, r.Conversations([]domain.Conversation{{ID: 9, Title: "t", MessageCount: 2, Created: ts, Updated: ts}}))

	var got []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 1)
	require.Equal(t, float64(9), got[0]["conversation_pk"])
	require.Equal(t, float64(2), got[0]["message_count"])
}

func TestConversations_JSONEmptyIsArray(t *testing.T) {
	r, buf := newRenderer(t, FormatJSON)
	require.NoError(t, r.Conversations(nil))
	require.JSONEq(t, `[]`, buf.String())
}

// ---------------------------------------------------------------------------
// Transcript
// ---------------------------------------------------------------------------

func sampleTranscript() (domain.Conversation, []domain.ChatMessage) {
	c := domain.Conversation{ID: 4, Title: "Trip", MessageCount: 1, Updated: ts}
	msgs := domain.ExpandMessages([]domain.Message{{
		ID: 11, ConversationID: 4, Query: "Where to?", Response: "**Lisbon**", Created: ts,
		Sources: []domain.Source{{Source: "guide", Title: "City guide", Link: "https://example.com/lisbon"}, {Source: "notes"}},
	}})
	return c, msgs
}

func TestTranscript_Text(t *testing.T) {
	r, buf := newRenderer(t, FormatText)
	c, msgs := sampleTranscript()

	require.NoError(t, r.Transcript(c, msgs))

	out := buf.String()
	require.Contains(t, out, "#4 Trip (1 messages")
	require.Contains(t, out, "you:\nWhere to?")
	require.Contains(t, out, "assistant:\n**Lisbon**")
	require.Contains(t, out, "  1. City guide <https://example.com/lisbon>")
	require.Contains(t, out, "  2. notes\n")
}

func TestTranscript_YAML(t *testing.T) {
	r, buf := newRenderer(t, FormatYAML)
	c, msgs := sampleTranscript()

	require.NoError(t, r.Transcript(c, msgs))

	var got struct {
		Conversation map[string]any   `yaml:"conversation"`
		Messages     []map[string]any `yaml:"messages"`
	}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	require.Equal(t, 4, got.Conversation["conversation_pk"])
	require.Len(t, got.Messages, 2)
	require.Equal(t, "11-user", got.Messages[0]["id"])
	require.Equal(t, "11-bot", got.Messages[1]["id"])
}

func TestChatMessage_Markdown(t *testing.T) {
	r, buf := newRenderer(t, FormatText, WithMarkdown(true))

	require.NoError(t, r.ChatMessage(domain.BotChatMessage(1, "some **bold** text", ts, nil)))

	out := buf.String()
	require.Contains(t, out, "assistant:")
	require.Contains(t, out, "bold")
	require.NotContains(t, out, "**bold**")
}
