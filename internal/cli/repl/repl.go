package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"autograde/internal/cli/command"
	httpclient "autograde/internal/cli/http"
	"autograde/internal/cli/state"
	pkgerrors "autograde/pkg/errors"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

const prompt = "gradectl> "

// Session holds console state.
type Session struct {
	client     *httpclient.Client
	commands   map[string]command.Command
	tokenState *state.TokenState
	statePath  string
	prettyJSON bool
	rl         *readline.Instance
	out        io.Writer
}

func New(client *httpclient.Client, commands map[string]command.Command, tokenState *state.TokenState, statePath, historyFile string, prettyJSON bool) (*Session, error) {
	s := &Session{
		client:     client,
		commands:   commands,
		tokenState: tokenState,
		statePath:  statePath,
		prettyJSON: prettyJSON,
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            prompt,
		HistoryFile:       historyFile,
		AutoComplete:      s.completer(),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return nil, fmt.Errorf("init readline failed: %w", err)
	}
	s.rl = rl
	s.out = rl.Stdout()
	return s, nil
}

func (s *Session) completer() *readline.PrefixCompleter {
	groups := map[string][]readline.PrefixCompleterInterface{}
	var order []string
	for _, key := range command.Keys(s.commands) {
		cmd := s.commands[key]
		if _, ok := groups[cmd.Group]; !ok {
			order = append(order, cmd.Group)
		}
		groups[cmd.Group] = append(groups[cmd.Group], readline.PcItem(cmd.Action))
	}
	items := []readline.PrefixCompleterInterface{
		readline.PcItem("help"),
		readline.PcItem("exit"),
		readline.PcItem("set", readline.PcItem("base"), readline.PcItem("timeout"), readline.PcItem("token")),
		readline.PcItem("show", readline.PcItem("token"), readline.PcItem("config")),
		readline.PcItem("logout"),
	}
	for _, group := range order {
		items = append(items, readline.PcItem(group, groups[group]...))
	}
	return readline.NewPrefixCompleter(items...)
}

// Run reads commands until exit or end of input.
func (s *Session) Run(ctx context.Context) {
	defer func() { _ = s.rl.Close() }()
	for {
		line, err := s.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return
			}
			continue
		}
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			s.printLine("bye")
			return
		}
		if s.handleSystemCommand(line) {
			continue
		}
		if err := s.handleCommand(ctx, line); err != nil {
			s.printLine("error: %v", err)
		}
	}
}

func (s *Session) handleSystemCommand(line string) bool {
	switch line {
	case "help":
		s.printHelp()
		return true
	case "logout":
		*s.tokenState = state.TokenState{}
		if err := state.Clear(s.statePath); err != nil {
			s.printLine("clear token failed: %v", err)
			return true
		}
		s.printLine("token cleared")
		return true
	}
	if strings.HasPrefix(line, "set ") {
		s.handleSet(strings.TrimSpace(strings.TrimPrefix(line, "set ")))
		return true
	}
	if strings.HasPrefix(line, "show ") {
		s.handleShow(strings.TrimSpace(strings.TrimPrefix(line, "show ")))
		return true
	}
	return false
}

func (s *Session) handleSet(args string) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		s.printLine("usage: set base <url> | set timeout <duration> | set token <jwt>")
		return
	}
	switch parts[0] {
	case "base":
		s.client.SetBaseURL(strings.TrimRight(parts[1], "/"))
		s.printLine("base set to %s", s.client.BaseURL())
	case "timeout":
		dur, err := time.ParseDuration(parts[1])
		if err != nil {
			s.printLine("invalid duration: %v", err)
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	case "token":
		st, err := state.FromToken(parts[1])
		if err != nil {
			s.printLine("%v", err)
			return
		}
		if st.Expired(time.Now()) {
			s.printLine("warning: token expired at %s", st.ExpiresAt.Format(time.RFC3339))
		}
		*s.tokenState = st
		if err := state.Save(s.statePath, st); err != nil {
			s.printLine("save token failed: %v", err)
			return
		}
		s.printLine("token updated for %s (%s)", st.Subject, st.Role)
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) handleShow(args string) {
	switch args {
	case "token":
		st := s.tokenState
		if st.AccessToken == "" {
			s.printLine("token: <empty>")
			return
		}
		token := st.AccessToken
		if len(token) > 12 {
			token = token[:6] + "..." + token[len(token)-4:]
		}
		s.printLine("token: %s subject=%s role=%s", token, st.Subject, st.Role)
		if !st.ExpiresAt.IsZero() {
			s.printLine("expires: %s (expired=%v)", st.ExpiresAt.Format(time.RFC3339), st.Expired(time.Now()))
		}
	case "config":
		s.printLine("base: %s", s.client.BaseURL())
		s.printLine("tokenStatePath: %s", s.statePath)
	default:
		s.printLine("usage: show token|config")
	}
}

func (s *Session) handleCommand(ctx context.Context, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) < 2 {
		return fmt.Errorf("invalid command, use: <group> <action> key=value ...")
	}
	cmd, ok := s.commands[tokens[0]+" "+tokens[1]]
	if !ok {
		return fmt.Errorf("unknown command: %s %s", tokens[0], tokens[1])
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
	if err := s.promptMissing(cmd, params); err != nil {
		return err
	}
	if cmd.RequiresAuth && s.tokenState.AccessToken == "" {
		return fmt.Errorf("no token set, use: set token <jwt>")
	}

	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	return nil
}

func (s *Session) promptMissing(cmd command.Command, params command.Params) error {
	defer s.rl.SetPrompt(prompt)
	for _, field := range cmd.Fields {
		if !field.Required || params.Get(field.Name) != "" {
			continue
		}
		s.rl.SetPrompt(field.Prompt + ": ")
		value, err := s.rl.Readline()
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		params.Set(field.Name, strings.TrimSpace(value))
	}
	return nil
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration)
	if len(resp.Body) == 0 {
		return
	}
	env, err := resp.Envelope()
	if err != nil {
		s.printLine("%s", string(resp.Body))
		return
	}
	if env.Code != int(pkgerrors.Success) {
		s.printLine("error %d: %s (trace %s)", env.Code, env.Message, env.TraceID)
		if env.Details != nil {
			s.printLine("details: %v", env.Details)
		}
		return
	}
	if len(env.Data) == 0 {
		return
	}
	if s.prettyJSON {
		var raw interface{}
		if err := json.Unmarshal(env.Data, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(env.Data))
}

func (s *Session) printHelp() {
	s.printLine("usage: <group> <action> key=value ...")
	s.printLine("system: help | exit | logout | set base|timeout|token | show token|config")
	for _, key := range command.Keys(s.commands) {
		s.printLine("  %-20s %s", key, s.commands[key].Summary)
	}
	s.printLine("examples:")
	s.printLine("  grade suite id=12 suite_id=3 case_ids=7,8")
	s.printLine("  results show id=12 category=staff_viewer use_cache=false")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}
