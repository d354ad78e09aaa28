package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/haricheung/dietplan/internal/ui"
)

const replHelp = `commands:
  find   age=30 weight=80 height=180 sex=male [diet=keto] [calories=2500]
  update previous-id=1 previous-weight=90 previous-height=180 [previous-calories=2800]
         age=31 weight=84 height=180 sex=male [diet=keto] [calories=2300]
  list   show cached plans
  stats  show cache and generation counters
  help   show this text
  exit   quit`

var replCompleter = readline.NewPrefixCompleter(
	readline.PcItem("find"),
	readline.PcItem("update"),
	readline.PcItem("list"),
	readline.PcItem("stats"),
	readline.PcItem("help"),
	readline.PcItem("exit"),
)

func runREPL(ctx context.Context, a *app) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\ndietplan> ",
		HistoryFile:     filepath.Join(a.cfg.CacheDir, "history"),
		AutoComplete:    replCompleter,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()
	a.out = rl.Stdout()

	fmt.Fprintf(a.out, "%s %s (backend %s), type 'help' for commands\n", appName, Version, a.cfg.LLM.Backend)

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		quit, err := a.dispatch(ctx, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// dispatch executes one REPL line. quit is true for exit/quit.
func (a *app) dispatch(ctx context.Context, line string) (quit bool, err error) {
	words := strings.Fields(line)
	if len(words) == 0 {
		return false, nil
	}
	switch strings.ToLower(words[0]) {
	case "exit", "quit":
		return true, nil
	case "help", "?":
		fmt.Fprintln(a.out, replHelp)
	case "list":
		a.list()
	case "stats":
		a.stats()
	case "find":
		kv, err := kvArgs(words[1:])
		if err != nil {
			return false, err
		}
		p, err := profileFromKV(kv)
		if err != nil {
			return false, err
		}
		return false, a.find(ctx, p)
	case "update":
		kv, err := kvArgs(words[1:])
		if err != nil {
			return false, err
		}
		r, err := updateFromKV(kv)
		if err != nil {
			return false, err
		}
		return false, a.update(ctx, r)
	default:
		return false, fmt.Errorf("unknown command %q (type 'help')", words[0])
	}
	return false, nil
}

func (a *app) list() {
	plans := a.cache.Collection().Plans()
	if len(plans) == 0 {
		fmt.Fprintln(a.out, "no cached plans")
		return
	}
	for _, p := range plans {
		fmt.Fprint(a.out, ui.RenderPlan(p, a.width))
	}
}

func (a *app) stats() {
	s := a.cache.Stats()
	g := a.genlog.Stats()
	fmt.Fprintf(a.out, "plans=%d hits=%d misses=%d generated=%d updated=%d failures=%d\n",
		a.cache.Collection().Len(), s.Hits, s.Misses, s.Generated, s.Updated, s.Failures)
	fmt.Fprintf(a.out, "llm calls=%d failed=%d total=%dms\n", g.Calls, g.Failures, g.TotalMs)
	if path := a.genlog.Path(); path != "" {
		fmt.Fprintf(a.out, "generation log: %s\n", path)
	}
}
