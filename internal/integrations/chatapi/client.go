package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"chat-client/internal/domain"
)

const (
	defaultTimeout = 30 * time.Second

	maxErrorBody    = 64 << 10
	maxResponseBody = 8 << 20

	requestIDHeader = "X-Request-Id"
)

// Operation names carried in Error.Op.
const (
	OpListConversations  = "ListConversations"
	OpCreateConversation = "CreateConversation"
	OpGetConversation    = "GetConversation"
	OpGetMessages        = "GetMessages"
	OpSendMessage        = "SendMessage"
	OpUpdateConversation = "UpdateConversation"
)

// sendMessageRequest is the body of the send endpoint.
type sendMessageRequest struct {
	Query string `json:"query"`
}

// updateConversationRequest is the body of the conversation PATCH endpoint.
type updateConversationRequest struct {
	Title string `json:"title"`
}

// TokenSource supplies the bearer token attached to every request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// Client talks to the conversation backend over JSON/HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	logger     *slog.Logger
	requestID  func() string
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTokenSource attaches "Authorization: Bearer <token>" to every request.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) {
		c.tokens = ts
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a Client rooted at baseURL, e.g. "https://chat.example.com/api".
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("chatapi: base URL must not be empty")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("chatapi: parse base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("chatapi: base URL %q must use http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("chatapi: base URL %q has no host", baseURL)
	}

	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     slog.Default(),
		requestID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the normalized API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// resolvedHTTPClient returns the configured HTTP client, or a default if the
// field was cleared.
func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

func conversationsPath() string {
	return "/conversations/"
}

func conversationPath(id int) string {
	return fmt.Sprintf("/conversations/%d/", id)
}

func messagesPath(id int) string {
	return fmt.Sprintf("/conversations/%d/messages/", id)
}

func sendMessagePath(id int) string {
	return fmt.Sprintf("/conversations/%d/messages/send/", id)
}

// ListConversations returns conversations in backend order.
func (c *Client) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	var out []domain.Conversation
	if err := c.doJSON(ctx, http.MethodGet, conversationsPath(), nil, &out); err != nil {
		return nil, normalize(OpListConversations, "Failed to load conversations", err)
	}
	if out == nil {
		out = []domain.Conversation{}
	}
	return out, nil
}

// CreateConversation starts a new conversation with an empty history.
func (c *Client) CreateConversation(ctx context.Context) (domain.Conversation, error) {
	var out domain.Conversation
	if err := c.doJSON(ctx, http.MethodPost, conversationsPath(), nil, &out); err != nil {
		return domain.Conversation{}, normalize(OpCreateConversation, "Failed to create conversation", err)
	}
	return out, nil
}

func (c *Client) GetConversation(ctx context.Context, id int) (domain.Conversation, error) {
	var out domain.Conversation
	if err := c.doJSON(ctx, http.MethodGet, conversationPath(id), nil, &out); err != nil {
		return domain.Conversation{}, normalize(OpGetConversation, "Failed to load conversation", err, notFoundRule(id))
	}
	return out, nil
}

// GetMessages returns the conversation history, oldest first.
func (c *Client) GetMessages(ctx context.Context, id int) ([]domain.Message, error) {
	var out []domain.Message
	if err := c.doJSON(ctx, http.MethodGet, messagesPath(id), nil, &out); err != nil {
		return nil, normalize(OpGetMessages, "Failed to load messages", err, notFoundRule(id))
	}
	if out == nil {
		out = []domain.Message{}
	}
	return out, nil
}

// SendMessage posts a query and returns the recorded exchange.
func (c *Client) SendMessage(ctx context.Context, id int, query string) (domain.Message, error) {
	var out domain.Message
	err := c.doJSON(ctx, http.MethodPost, sendMessagePath(id), sendMessageRequest{Query: query}, &out)
	if err != nil {
		return domain.Message{}, normalize(OpSendMessage, "Failed to send message", err,
			invalidRequestRule, notFoundRule(id), authFailedRule)
	}
	return out, nil
}

// UpdateConversation changes the conversation title.
func (c *Client) UpdateConversation(ctx context.Context, id int, title string) (domain.Conversation, error) {
	var out domain.Conversation
	err := c.doJSON(ctx, http.MethodPatch, conversationPath(id), updateConversationRequest{Title: title}, &out)
	if err != nil {
		return domain.Conversation{}, normalize(OpUpdateConversation, "Failed to update conversation", err,
			notFoundRule(id), invalidRequestRule)
	}
	return out, nil
}

// doJSON performs one request and decodes a 2xx body into out.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("chatapi: marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	endpoint := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("chatapi: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	reqID := c.requestID()
	req.Header.Set(requestIDHeader, reqID)

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return &credentialsError{err: err}
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		c.logger.Debug("chatapi request failed", "method", method, "path", path, "request_id", reqID, "err", err)
		return err
	}
	defer func() { _ = res.Body.Close() }()

	c.logger.Debug("chatapi request",
		"method", method,
		"path", path,
		"status", res.StatusCode,
		"request_id", reqID,
		"duration", time.Since(start),
	)

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return &HTTPStatusError{
			StatusCode: res.StatusCode,
			Status:     res.Status,
			URL:        endpoint,
			Body:       buf,
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("chatapi: read response body: %w", err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return &decodeError{err: err}
	}
	return nil
}
