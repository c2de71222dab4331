package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-client/internal/config"
	"chat-client/internal/domain"
	"chat-client/internal/integrations/chatapi"
	"chat-client/internal/usecase"
)

var created = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeAPI is an in-memory backend keyed by conversation id.
type fakeAPI struct {
	convs   map[int]domain.Conversation
	msgs    map[int][]domain.Message
	nextID  int
	sendErr error
	sent    []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		convs: map[int]domain.Conversation{
			1: {ID: 1, Title: "First", Created: created, Updated: created, MessageCount: 1},
			2: {ID: 2, Title: "Second", Created: created, Updated: created.Add(time.Hour)},
		},
		msgs: map[int][]domain.Message{
			1: {{ID: 10, ConversationID: 1, Query: "hi", Response: "hello", Created: created}},
		},
		nextID: 100,
	}
}

func (f *fakeAPI) ListConversations(context.Context) ([]domain.Conversation, error) {
	return []domain.Conversation{f.convs[2], f.convs[1]}, nil
}

func (f *fakeAPI) CreateConversation(context.Context) (domain.Conversation, error) {
	f.nextID++
	c := domain.Conversation{ID: f.nextID, Title: "New Chat", Created: created, Updated: created}
	f.convs[c.ID] = c
	return c, nil
}

func (f *fakeAPI) GetConversation(_ context.Context, id int) (domain.Conversation, error) {
	c, ok := f.convs[id]
	if !ok {
		return domain.Conversation{}, &chatapi.Error{Kind: chatapi.ErrorNotFound, StatusCode: 404, Message: "Conversation " + strconv.Itoa(id) + " not found"}
	}
	return c, nil
}

func (f *fakeAPI) GetMessages(_ context.Context, id int) ([]domain.Message, error) {
	if _, ok := f.convs[id]; !ok {
		return nil, &chatapi.Error{Kind: chatapi.ErrorNotFound, StatusCode: 404, Message: "Conversation " + strconv.Itoa(id) + " not found"}
	}
	return f.msgs[id], nil
}

func (f *fakeAPI) SendMessage(_ context.Context, id int, query string) (domain.Message, error) {
	f.sent = append(f.sent, query)
	if f.sendErr != nil {
		return domain.Message{}, f.sendErr
	}
	f.nextID++
	m := domain.Message{ID: f.nextID, ConversationID: id, Query: query, Response: "echo: " + query, Created: created.Add(2 * time.Hour)}
	f.msgs[id] = append(f.msgs[id], m)
	return m, nil
}

func (f *fakeAPI) UpdateConversation(_ context.Context, id int, title string) (domain.Conversation, error) {
	c, ok := f.convs[id]
	if !ok {
		return domain.Conversation{}, &chatapi.Error{Kind: chatapi.ErrorNotFound, StatusCode: 404, Message: "Conversation " + strconv.Itoa(id) + " not found"}
	}
	c.Title = title
	f.convs[id] = c
	return c, nil
}

func clearChatEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CHAT_API_BASE_URL", "CHAT_HTTP_TIMEOUT", "CHAT_API_TOKEN",
		"CHAT_API_TOKEN_PARAM", "CHAT_LOG_LEVEL", "CHAT_LOG_FORMAT",
	} {
		t.Setenv(k, "")
	}
	t.Chdir(t.TempDir())
}

// runCLI executes the root command against api and returns stdout and stderr.
func runCLI(t *testing.T, api usecase.ConversationAPI, args ...string) (string, string, error) {
	t.Helper()
	clearChatEnv(t)
	var stdout, stderr bytes.Buffer
	a := &app{
		stdin:  strings.NewReader(""),
		stdout: &stdout,
		stderr: &stderr,
		newAPI: func(context.Context, config.Config, *slog.Logger) (usecase.ConversationAPI, error) {
			return api, nil
		},
	}
	root := a.rootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// ---------------------------------------------------------------------------
// Subcommands
// ---------------------------------------------------------------------------

func TestListCmd_JSON(t *testing.T) {
	out, _, err := runCLI(t, newFakeAPI(), "list", "-o", "json")
	require.NoError(t, err)

	var got []domain.Conversation
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 2)
	require.Equal(t, 2, got[0].ID)
	require.Equal(t, 1, got[1].ID)
}

func TestListCmd_Text(t *testing.T) {
	out, _, err := runCLI(t, newFakeAPI(), "list")
	require.NoError(t, err)
	require.Contains(t, out, "First")
	require.Contains(t, out, "Second")
}

func TestNewCmd(t *testing.T) {
	out, _, err := runCLI(t, newFakeAPI(), "new", "--output", "yaml")
	require.NoError(t, err)
	require.Contains(t, out, "conversation_pk: 101")
	require.Contains(t, out, "title: New Chat")
}

func TestShowCmd(t *testing.T) {
	out, _, err := runCLI(t, newFakeAPI(), "show", "1", "-o", "json")
	require.NoError(t, err)

	var got struct {
		Conversation domain.Conversation  `json:"conversation"`
		Messages     []domain.ChatMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, "First", got.Conversation.Title)
	require.Len(t, got.Messages, 2)
	require.Equal(t, "10-user", got.Messages[0].ID)
	require.Equal(t, "hello", got.Messages[1].Text)
}

func TestShowCmd_NotFound(t *testing.T) {
	_, _, err := runCLI(t, newFakeAPI(), "show", "9")
	require.EqualError(t, err, "Conversation 9 not found")
}

func TestShowCmd_InvalidID(t *testing.T) {
	for _, arg := range []string{"abc", "0", "-3"} {
		_, _, err := runCLI(t, newFakeAPI(), "show", "--", arg)
		require.EqualError(t, err, `invalid conversation id "`+arg+`"`)
	}
}

func TestSendCmd(t *testing.T) {
	api := newFakeAPI()
	out, _, err := runCLI(t, api, "send", "1", "how", "are", "you")
	require.NoError(t, err)
	require.Equal(t, []string{"how are you"}, api.sent)
	require.Contains(t, out, "assistant:\necho: how are you")
}

func TestSendCmd_Failure(t *testing.T) {
	api := newFakeAPI()
	api.sendErr = &chatapi.Error{Kind: chatapi.ErrorAuth, StatusCode: 401, Message: "Authentication failed. Please check your API credentials."}

	_, _, err := runCLI(t, api, "send", "1", "hello")
	require.True(t, chatapi.IsAuth(err))
}

func TestRenameCmd(t *testing.T) {
	api := newFakeAPI()
	out, _, err := runCLI(t, api, "rename", "2", "Trip", "plans", "-o", "json")
	require.NoError(t, err)

	var got domain.Conversation
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, "Trip plans", got.Title)
	require.Equal(t, "Trip plans", api.convs[2].Title)
}

func TestInteractiveCmd_RequiresTerminal(t *testing.T) {
	_, _, err := runCLI(t, newFakeAPI(), "interactive")
	require.EqualError(t, err, "interactive mode needs a terminal on stdin")
}

func TestRootCmd_InvalidOutput(t *testing.T) {
	_, _, err := runCLI(t, newFakeAPI(), "list", "-o", "xml")
	require.ErrorContains(t, err, "unknown output format")
}

func TestRootCmd_DebugLogsStateChanges(t *testing.T) {
	_, stderr, err := runCLI(t, newFakeAPI(), "list", "--log-level", "debug", "--log-format", "json")
	require.NoError(t, err)
	require.Contains(t, stderr, `"msg":"state changed"`)
}

// ---------------------------------------------------------------------------
// API wiring
// ---------------------------------------------------------------------------

func TestNewChatAPI_StaticToken(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	api, err := newChatAPI(context.Background(), config.Config{
		BaseURL:     srv.URL + "/api",
		HTTPTimeout: time.Second,
		APIToken:    "tok",
	}, slog.Default())
	require.NoError(t, err)

	convs, err := api.ListConversations(context.Background())
	require.NoError(t, err)
	require.Empty(t, convs)
	require.Equal(t, "Bearer tok", gotAuth)
	require.Equal(t, "/api/conversations/", gotPath)
}

func TestNewTokenSource_None(t *testing.T) {
	ts, err := newTokenSource(context.Background(), config.Config{})
	require.NoError(t, err)
	require.Nil(t, ts)
}

func TestNewChatAPI_InvalidBaseURL(t *testing.T) {
	_, err := newChatAPI(context.Background(), config.Config{BaseURL: "ftp://x", HTTPTimeout: time.Second}, slog.Default())
	require.Error(t, err)
}
