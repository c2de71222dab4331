package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"chat-client/internal/domain"
	"chat-client/internal/observability"
)

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	return (&app{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		newAPI: newChatAPI,
	}).rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chat",
		Short:         "Terminal client for the conversation chat backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.baseURL, "base-url", "", "API base URL (env CHAT_API_BASE_URL)")
	pf.DurationVar(&a.flags.timeout, "timeout", 0, "HTTP timeout (env CHAT_HTTP_TIMEOUT)")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "debug, info, warn or error (env CHAT_LOG_LEVEL)")
	pf.StringVar(&a.flags.logFormat, "log-format", "", "auto, text or json (env CHAT_LOG_FORMAT)")
	pf.StringVarP(&a.flags.output, "output", "o", "text", "output format: text, json or yaml")

	root.AddCommand(
		a.listCmd(),
		a.newCmd(),
		a.showCmd(),
		a.sendCmd(),
		a.renameCmd(),
		a.interactiveCmd(),
	)
	return root
}

func (a *app) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.store.LoadConversations(cmd.Context()); err != nil {
				return err
			}
			return a.renderer.Conversations(a.store.Snapshot().Conversations)
		},
	}
}

func (a *app) newCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Create a conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defer a.teardown()
			conv, err := a.store.InitializeConversation(cmd.Context())
			if err != nil {
				return err
			}
			return a.renderer.Conversation(conv)
		},
	}
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a conversation transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.store.LoadConversation(cmd.Context(), id); err != nil {
				return err
			}
			st := a.store.Snapshot()
			return a.renderer.Transcript(*st.CurrentConversation, st.Messages)
		},
	}
}

func (a *app) sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <id> <query...>",
		Short: "Send one message and print the reply",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			query := strings.Join(args[1:], " ")
			if strings.TrimSpace(query) == "" {
				return errors.New("query must not be empty")
			}
			if err := a.store.LoadConversation(cmd.Context(), id); err != nil {
				return err
			}
			msg, err := a.store.SendMessage(cmd.Context(), query)
			if err != nil {
				return err
			}
			return a.renderer.ChatMessage(domain.BotChatMessage(msg.ID, msg.Response, msg.Created, msg.Sources))
		},
	}
}

func (a *app) renameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <title...>",
		Short: "Change a conversation title",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			conv, err := a.store.UpdateConversationTitle(cmd.Context(), id, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return a.renderer.Conversation(conv)
		},
	}
}

func (a *app) interactiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "interactive [id]",
		Short: "Chat in a prompt loop, starting a new conversation unless an id is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.teardown()
			startID := 0
			if len(args) == 1 {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				startID = id
			}
			if !observability.IsTerminal(a.stdin) {
				return errors.New("interactive mode needs a terminal on stdin")
			}
			s := &session{
				store:    a.store,
				renderer: a.renderer,
				out:      a.stdout,
				prompt:   newInputPrompter(a.stdin, a.stdout),
				logger:   a.logger,
			}
			return s.run(cmd.Context(), startID)
		},
	}
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid conversation id %q", s)
	}
	return id, nil
}
