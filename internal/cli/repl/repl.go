package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"algohub/internal/cli/command"
	httpclient "algohub/internal/cli/http"
	"algohub/internal/cli/state"
	pkgerrors "algohub/pkg/errors"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

const mainPrompt = "algo> "

// Session holds REPL state.
type Session struct {
	client     *httpclient.Client
	commands   map[string]command.Command
	state      *state.SessionState
	statePath  string
	prettyJSON bool
	out        io.Writer
	// prompt asks for a missing required field.
	prompt func(label string) (string, error)
}

func New(client *httpclient.Client, commands map[string]command.Command, st *state.SessionState, statePath string, prettyJSON bool, out io.Writer) *Session {
	return &Session{
		client:     client,
		commands:   commands,
		state:      st,
		statePath:  statePath,
		prettyJSON: prettyJSON,
		out:        out,
		prompt: func(string) (string, error) {
			return "", errors.New("no interactive input available")
		},
	}
}

// Run reads lines until exit or EOF. History is kept in historyFile.
func (s *Session) Run(ctx context.Context, historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          mainPrompt,
		HistoryFile:     historyFile,
		AutoComplete:    s.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdout:          s.out,
	})
	if err != nil {
		return fmt.Errorf("init readline failed: %w", err)
	}
	defer func() { _ = rl.Close() }()

	s.prompt = func(label string) (string, error) {
		rl.SetPrompt(label + ": ")
		defer rl.SetPrompt(mainPrompt)
		line, err := rl.Readline()
		if err != nil {
			return "", fmt.Errorf("read input failed: %w", err)
		}
		return strings.TrimSpace(line), nil
	}

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		quit, err := s.Execute(ctx, line)
		if err != nil {
			s.printLine("error: %v", err)
		}
		if quit {
			s.printLine("bye")
			return nil
		}
	}
}

// Execute handles one input line. quit reports an exit request.
func (s *Session) Execute(ctx context.Context, line string) (quit bool, err error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false, nil
	case line == "exit" || line == "quit":
		return true, nil
	case line == "help":
		s.printHelp()
		return false, nil
	case strings.HasPrefix(line, "set "):
		return false, s.handleSet(strings.TrimSpace(strings.TrimPrefix(line, "set ")))
	case strings.HasPrefix(line, "show "):
		s.handleShow(strings.TrimSpace(strings.TrimPrefix(line, "show ")))
		return false, nil
	}
	return false, s.handleCommand(ctx, line)
}

func (s *Session) handleSet(args string) error {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		return fmt.Errorf("usage: set base|timeout|user <value>")
	}
	switch parts[0] {
	case "base":
		s.client.SetBaseURL(parts[1])
		s.state.BaseURL = parts[1]
		s.printLine("base set to %s", parts[1])
	case "timeout":
		dur, err := time.ParseDuration(parts[1])
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
		return nil
	case "user":
		s.state.UserID = parts[1]
		s.printLine("user set to %s", parts[1])
	default:
		return fmt.Errorf("unknown set command %q", parts[0])
	}
	return state.Save(s.statePath, *s.state)
}

func (s *Session) handleShow(args string) {
	switch args {
	case "user":
		if s.state.UserID == "" {
			s.printLine("user: <empty>")
			return
		}
		s.printLine("user: %s", s.state.UserID)
	case "config":
		s.printLine("base: %s", s.client.BaseURL())
		s.printLine("statePath: %s", s.statePath)
	default:
		s.printLine("usage: show user|config")
	}
}

func (s *Session) handleCommand(ctx context.Context, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) < 2 {
		return fmt.Errorf("invalid command, use: <service> <action> key=value ...")
	}
	key := tokens[0] + " " + tokens[1]
	cmd, ok := s.commands[key]
	if !ok {
		return fmt.Errorf("unknown command: %s", key)
	}
	params := command.Params{}
	for _, token := range tokens[2:] {
		parts := strings.SplitN(token, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid param: %s", token)
		}
		params.Set(parts[0], parts[1])
	}
	params.Canonicalize(cmd.Fields)

	applyFileShortcuts(params)
	if err := s.promptMissing(cmd, params); err != nil {
		return err
	}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	return nil
}

// applyFileShortcuts lets source_file and input_file stand in for the inline fields.
func applyFileShortcuts(params command.Params) {
	if params.Get("source_file") != "" && params.Get("source_code") == "" {
		params.Set("source_code", "_file_")
	}
	if params.Get("input_file") != "" && params.Get("input") == "" {
		params.Set("input", "_file_")
	}
}

func (s *Session) promptMissing(cmd command.Command, params command.Params) error {
	for _, field := range cmd.Fields {
		if !field.Required || params.Get(field.Name) != "" {
			continue
		}
		value, err := s.prompt(field.Prompt)
		if err != nil {
			return err
		}
		params.Set(field.Name, value)
	}
	return nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration.Round(time.Millisecond))
	if len(resp.Body) == 0 {
		return
	}
	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err == nil && env.Code != 0 && env.Code != int(pkgerrors.Success) {
		s.printLine("code %d: %s", env.Code, env.Message)
	}
	if s.prettyJSON {
		var raw interface{}
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(resp.Body))
}

func (s *Session) completer() *readline.PrefixCompleter {
	byService := map[string][]readline.PrefixCompleterInterface{}
	var services []string
	for _, key := range command.SortedKeys(s.commands) {
		cmd := s.commands[key]
		if _, seen := byService[cmd.Service]; !seen {
			services = append(services, cmd.Service)
		}
		byService[cmd.Service] = append(byService[cmd.Service], readline.PcItem(cmd.Action))
	}
	items := []readline.PrefixCompleterInterface{
		readline.PcItem("help"),
		readline.PcItem("exit"),
		readline.PcItem("set", readline.PcItem("base"), readline.PcItem("timeout"), readline.PcItem("user")),
		readline.PcItem("show", readline.PcItem("user"), readline.PcItem("config")),
	}
	for _, svc := range services {
		items = append(items, readline.PcItem(svc, byService[svc]...))
	}
	return readline.NewPrefixCompleter(items...)
}

func (s *Session) printHelp() {
	s.printLine("usage: <service> <action> key=value ...")
	s.printLine("system: help | exit | set base|timeout|user | show user|config")
	for _, key := range command.SortedKeys(s.commands) {
		s.printLine("  %-16s %s", key, s.commands[key].Summary)
	}
	s.printLine("examples:")
	s.printLine("  algo create name=dijkstra language=cpp source_file=./dijkstra.cpp tags=graph,shortest-path")
	s.printLine("  algo update name=dijkstra build_options=\"-DLOCAL\"")
	s.printLine("  algo search q=dijkstra")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}
