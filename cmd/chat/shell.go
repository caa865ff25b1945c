package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/ChatGPT-CN/chat-ai/internal/chatstate"
	"github.com/ChatGPT-CN/chat-ai/internal/client"
	"github.com/ChatGPT-CN/chat-ai/internal/wire"
)

var (
	userTag = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255")).
			Background(lipgloss.Color("28"))

	aiTag = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255")).
			Background(lipgloss.Color("208"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))
)

const helpText = `commands:
  /new [name]                         start a session
  /sessions                           list sessions
  /switch <id>                        select a session
  /provider [id|custom-name]          show or select the provider
  /model [name]                       set or clear the model override
  /key <provider> [key]               store (or clear) an api key
  /custom add <name> <endpoint> [key] register a custom endpoint
  /custom path <id|name> <dotted.path> set the reply path of a custom endpoint
  /custom remove <id|name>            delete a custom endpoint
  /custom list                        list custom endpoints
  /history                            print the current session
  /quit                               exit
anything else is sent as a chat message`

type chatClient interface {
	Chat(ctx context.Context, req wire.ChatRequest) (wire.ChatResponse, error)
}

type shell struct {
	store    *chatstate.Store
	client   chatClient
	out      io.Writer
	logger   zerolog.Logger
	builtins map[string]bool
	model    string
}

func newShell(store *chatstate.Store, c chatClient, out io.Writer, logger zerolog.Logger) *shell {
	builtins := map[string]bool{}
	for _, id := range []string{wire.DeepSeek, wire.OpenAI, wire.Anthropic, wire.Gemini, wire.Replicate, wire.OpenRouter} {
		builtins[id] = true
	}
	return &shell{store: store, client: c, out: out, logger: logger, builtins: builtins}
}

func (s *shell) run(ctx context.Context, in io.Reader) error {
	s.printf("%s  provider: %s  (/help for commands)\n", titleStyle.Render("chat-ai"), s.store.Provider())
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for {
		s.printf("> ")
		if !scanner.Scan() {
			s.printf("\n")
			return scanner.Err()
		}
		if quit := s.handle(ctx, scanner.Text()); quit {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// handle executes one input line and reports whether the shell should exit.
func (s *shell) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		s.turn(ctx, line)
		return false
	}

	fields := strings.Fields(line)
	args := fields[1:]
	var err error
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		s.printf("%s\n", dimStyle.Render(helpText))
	case "/new":
		err = s.newSession(ctx, strings.Join(args, " "))
	case "/sessions":
		s.listSessions()
	case "/switch":
		err = s.switchSession(ctx, args)
	case "/provider":
		err = s.selectProvider(ctx, args)
	case "/model":
		s.model = strings.Join(args, " ")
		s.printf("model override: %q\n", s.model)
	case "/key":
		err = s.setKey(ctx, args)
	case "/custom":
		err = s.custom(ctx, args)
	case "/history":
		err = s.history()
	default:
		err = fmt.Errorf("unknown command %s", fields[0])
	}
	if err != nil {
		s.printf("%s\n", errorStyle.Render("Error: "+err.Error()))
	}
	return false
}

// turn sends one user message with the full session history. Any failure
// is recorded in the session as an ai message starting with "Error:".
func (s *shell) turn(ctx context.Context, text string) {
	sess, ok := s.store.CurrentSession()
	if !ok {
		created, err := s.store.CreateSession(ctx, "")
		s.warnPersist(err)
		sess = created
	}

	_, err := s.store.AppendMessage(ctx, sess.ID, chatstate.ChatMessage{Sender: wire.SenderUser, Text: text})
	if err = s.saved(err); err != nil {
		s.printf("%s\n", errorStyle.Render("Error: "+err.Error()))
		return
	}
	s.printMessage(wire.SenderUser, text)

	reply := s.ask(ctx, sess.ID)
	_, err = s.store.AppendMessage(ctx, sess.ID, chatstate.ChatMessage{Sender: wire.SenderAI, Text: reply})
	s.warnPersist(err)
	s.printMessage(wire.SenderAI, reply)
}

func (s *shell) ask(ctx context.Context, sessionID string) string {
	req, err := s.store.BuildRequest(sessionID, s.model)
	if err != nil {
		return "Error: " + err.Error()
	}

	s.printf("%s\n", dimStyle.Render("thinking..."))
	started := time.Now()
	resp, err := s.client.Chat(ctx, req)
	s.logger.Debug().Str("provider", req.Provider).Dur("duration", time.Since(started)).Err(err).Msg("chat turn finished")
	if err != nil {
		var rerr *client.RelayError
		if errors.As(err, &rerr) {
			return "Error: " + rerr.Message
		}
		return "Error: " + err.Error()
	}
	return resp.AIResponse
}

func (s *shell) newSession(ctx context.Context, name string) error {
	sess, err := s.store.CreateSession(ctx, name)
	if err = s.saved(err); err != nil {
		return err
	}
	s.printf("session %s %s\n", sess.ID, titleStyle.Render(sess.Name))
	return nil
}

func (s *shell) listSessions() {
	snap := s.store.Snapshot()
	if len(snap.Sessions) == 0 {
		s.printf("%s\n", dimStyle.Render("no sessions yet"))
		return
	}
	for _, sess := range snap.Sessions {
		marker := " "
		if sess.ID == snap.CurrentSessionID {
			marker = "*"
		}
		created := time.UnixMilli(sess.CreatedAt).Format("2006-01-02 15:04")
		s.printf("%s %s  %s  %s\n", marker, sess.ID, dimStyle.Render(fmt.Sprintf("%s  %d msgs", created, len(sess.Messages))), sess.Name)
	}
}

func (s *shell) switchSession(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: /switch <id>")
	}
	if err := s.saved(s.store.SelectSession(ctx, args[0])); err != nil {
		return err
	}
	return s.history()
}

func (s *shell) selectProvider(ctx context.Context, args []string) error {
	if len(args) == 0 {
		s.printf("provider: %s\n", s.describeProvider(s.store.Provider()))
		return nil
	}
	target := strings.Join(args, " ")
	id := strings.ToLower(target)
	if !s.builtins[id] {
		cfg, ok := s.store.CustomAPI(target)
		if !ok {
			return fmt.Errorf("unknown provider %q", target)
		}
		id = cfg.ID
	}
	if err := s.saved(s.store.SetProvider(ctx, id)); err != nil {
		return err
	}
	s.printf("provider: %s\n", s.describeProvider(id))
	return nil
}

func (s *shell) describeProvider(id string) string {
	if cfg, ok := s.store.CustomAPI(id); ok && cfg.ID == id {
		return fmt.Sprintf("%s (custom %s)", cfg.Name, cfg.ID)
	}
	if _, ok := s.store.Credential(id); !ok {
		return id + dimStyle.Render(" (no api key)")
	}
	return id
}

func (s *shell) setKey(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: /key <provider> [key]")
	}
	provider := strings.ToLower(args[0])
	if !s.builtins[provider] {
		return fmt.Errorf("unknown provider %q", args[0])
	}
	key := ""
	if len(args) == 2 {
		key = args[1]
	}
	if err := s.saved(s.store.SetCredential(ctx, provider, key)); err != nil {
		return err
	}
	if key == "" {
		s.printf("api key for %s cleared\n", provider)
	} else {
		s.printf("api key for %s saved\n", provider)
	}
	return nil
}

func (s *shell) custom(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: /custom add|path|remove|list")
	}
	switch args[0] {
	case "add":
		if len(args) < 3 || len(args) > 4 {
			return fmt.Errorf("usage: /custom add <name> <endpoint> [apiKey]")
		}
		cfg := wire.CustomConfig{Name: args[1], Endpoint: args[2]}
		if len(args) == 4 {
			cfg.APIKey = args[3]
		}
		added, err := s.store.AddCustomAPI(ctx, cfg)
		if err = s.saved(err); err != nil {
			return err
		}
		s.printf("custom api %s added as %s\n", added.Name, added.ID)
	case "path":
		if len(args) != 3 {
			return fmt.Errorf("usage: /custom path <id|name> <dotted.path>")
		}
		cfg, ok := s.store.CustomAPI(args[1])
		if !ok {
			return fmt.Errorf("%w: %s", chatstate.ErrCustomAPINotFound, args[1])
		}
		path := args[2]
		cfg.ResponsePath = &path
		if err := s.saved(s.store.UpdateCustomAPI(ctx, cfg)); err != nil {
			return err
		}
		s.printf("custom api %s reads replies from %s\n", cfg.Name, path)
	case "remove":
		if len(args) != 2 {
			return fmt.Errorf("usage: /custom remove <id|name>")
		}
		cfg, ok := s.store.CustomAPI(args[1])
		if !ok {
			return fmt.Errorf("%w: %s", chatstate.ErrCustomAPINotFound, args[1])
		}
		if err := s.saved(s.store.RemoveCustomAPI(ctx, cfg.ID)); err != nil {
			return err
		}
		s.printf("custom api %s removed\n", cfg.Name)
	case "list":
		list := s.store.CustomAPIs()
		if len(list) == 0 {
			s.printf("%s\n", dimStyle.Render("no custom apis"))
		}
		for _, c := range list {
			path := "-"
			if c.ResponsePath != nil {
				path = *c.ResponsePath
			}
			s.printf("%s  %s  %s  %s\n", c.ID, c.Name, c.Endpoint, dimStyle.Render("path: "+path))
		}
	default:
		return fmt.Errorf("unknown /custom subcommand %q", args[0])
	}
	return nil
}

func (s *shell) history() error {
	sess, ok := s.store.CurrentSession()
	if !ok {
		return chatstate.ErrNoCurrentSession
	}
	s.printf("%s\n", titleStyle.Render(sess.Name))
	for _, m := range sess.Messages {
		s.printMessage(m.Sender, m.Text)
	}
	return nil
}

func (s *shell) printMessage(sender, text string) {
	tag := userTag.Render(" you ")
	if sender == wire.SenderAI {
		tag = aiTag.Render(" ai ")
		if strings.HasPrefix(text, "Error:") {
			text = errorStyle.Render(text)
		}
	}
	s.printf("%s %s\n", tag, text)
}

// saved downgrades a persistence failure to a warning and passes any other
// error through.
func (s *shell) saved(err error) error {
	if isPersistErr(err) {
		s.warnPersist(err)
		return nil
	}
	return err
}

func (s *shell) warnPersist(err error) {
	if err == nil {
		return
	}
	s.logger.Warn().Err(err).Msg("state not saved")
	s.printf("%s\n", dimStyle.Render("warning: state not saved: "+err.Error()))
}

func (s *shell) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(s.out, format, args...)
}

// isPersistErr reports a storage write failure after which the in-memory
// change still stands.
func isPersistErr(err error) bool {
	return errors.Is(err, chatstate.ErrNotPersisted)
}
