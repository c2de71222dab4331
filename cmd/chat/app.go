package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/spf13/cobra"

	"chat-client/internal/config"
	"chat-client/internal/integrations/chatapi"
	"chat-client/internal/integrations/paramstore"
	"chat-client/internal/observability"
	"chat-client/internal/render"
	"chat-client/internal/usecase"
)

// flags are the persistent command line overrides. Empty means "use config".
type flags struct {
	baseURL   string
	timeout   time.Duration
	logLevel  string
	logFormat string
	output    string
}

// app is the per-invocation wiring shared by all subcommands.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	flags flags

	logger   *slog.Logger
	store    *usecase.ConversationStore
	renderer *render.Renderer

	// newAPI builds the backend client. Tests replace it with a fake.
	newAPI func(ctx context.Context, cfg config.Config, logger *slog.Logger) (usecase.ConversationAPI, error)
}

// setup resolves configuration and builds the logger, API client, store and
// renderer. Configuration is read only here.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.applyFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := observability.NewLogger(a.stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	a.logger = logger
	slog.SetDefault(logger)

	format, err := render.ParseFormat(a.flags.output)
	if err != nil {
		return err
	}
	renderer, err := render.New(a.stdout, format, render.WithMarkdown(observability.IsTerminal(a.stdout)))
	if err != nil {
		return err
	}
	a.renderer = renderer

	api, err := a.newAPI(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	store, err := usecase.NewConversationStore(api, usecase.WithLogger(logger))
	if err != nil {
		return err
	}
	store.Subscribe(func(st usecase.State) {
		logger.Debug("state changed",
			"version", st.Version,
			"conversations", len(st.Conversations),
			"messages", len(st.Messages),
			"loading_conversations", st.LoadingConversations,
			"loading_conversation", st.LoadingConversation,
			"sending", st.SendingMessage,
			"error", st.Error,
		)
	})
	a.store = store
	return nil
}

func (a *app) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	pf := cmd.Flags()
	if pf.Changed("base-url") {
		cfg.BaseURL = a.flags.baseURL
	}
	if pf.Changed("timeout") {
		cfg.HTTPTimeout = a.flags.timeout
	}
	if pf.Changed("log-level") {
		cfg.LogLevel = a.flags.logLevel
	}
	if pf.Changed("log-format") {
		cfg.LogFormat = a.flags.logFormat
	}
}

// teardown waits for background refreshes so their outcome is logged.
func (a *app) teardown() {
	if a.store != nil {
		a.store.Wait()
	}
}

func newChatAPI(ctx context.Context, cfg config.Config, logger *slog.Logger) (usecase.ConversationAPI, error) {
	opts := []chatapi.Option{
		chatapi.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		chatapi.WithLogger(logger),
	}
	tokens, err := newTokenSource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if tokens != nil {
		opts = append(opts, chatapi.WithTokenSource(tokens))
	}
	client, err := chatapi.NewClient(cfg.BaseURL, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// newTokenSource returns nil when no credential is configured.
func newTokenSource(ctx context.Context, cfg config.Config) (chatapi.TokenSource, error) {
	if cfg.APIToken != "" {
		return chatapi.StaticToken(cfg.APIToken), nil
	}
	if cfg.APITokenParam == "" {
		return nil, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, fmt.Errorf("create SSM client: %w", err)
	}
	tokens, err := paramstore.NewTokenSource(ssmClient, cfg.APITokenParam)
	if err != nil {
		return nil, err
	}
	return tokens, nil
}
