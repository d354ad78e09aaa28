// Command dietplan answers diet plan queries from an in-process cache of
// generated plans, asking an LLM for a new plan on a miss.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/haricheung/dietplan/internal/auditor"
	"github.com/haricheung/dietplan/internal/bus"
	"github.com/haricheung/dietplan/internal/config"
	"github.com/haricheung/dietplan/internal/generation"
	"github.com/haricheung/dietplan/internal/genlog"
	"github.com/haricheung/dietplan/internal/llm"
	"github.com/haricheung/dietplan/internal/plancache"
	"github.com/haricheung/dietplan/internal/types"
	"github.com/haricheung/dietplan/internal/ui"
)

const (
	Version = "0.1.0"
	appName = "dietplan"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the persistent flags shared by every command.
type options struct {
	configPath string
	seedPath   string
	verbose    bool
	timeout    time.Duration
}

func rootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Diet plan cache with LLM generation fallback",
		Long: `dietplan matches a profile (age, weight, height, sex, diet type, caloric demand)
against plans generated earlier in the session and returns the first one within
tolerance. On a miss it asks the configured LLM for a new plan and caches it.

Run without a subcommand for an interactive session.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(ctx context.Context, a *app) error {
				return runREPL(ctx, a)
			})
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "config file (default ./"+config.FileName+")")
	pf.StringVar(&opts.seedPath, "seed", "", "JSON file with plans to preload into the cache")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr instead of the debug log")
	pf.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "per-request generation timeout (0 disables)")

	cmd.AddCommand(findCmd(opts), updateCmd(opts), initCmd(), versionCmd())
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
		},
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default " + config.FileName + " in the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteDefault(config.FileName); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", config.FileName)
			return nil
		},
	}
}

// app bundles the wired components for one process.
type app struct {
	cfg     config.Config
	cache   *plancache.Cache
	genlog  *genlog.Log
	timeout time.Duration
	out     io.Writer
	width   int
}

// withApp wires every component, runs fn, and tears everything down.
func withApp(opts *options, fn func(ctx context.Context, a *app) error) error {
	_ = godotenv.Load(".env")

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	if !opts.verbose {
		f, err := os.OpenFile(cfg.DebugLogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open debug log: %w", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	chat, err := newChatter(cfg)
	if err != nil {
		return err
	}

	seed, err := loadSeed(opts.seedPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\ndietplan: shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	b := bus.New()
	tty := readline.IsTerminal(int(os.Stderr.Fd()))
	aud := auditor.New(b.NewTap(), cfg.AuditLogPath())
	disp := ui.New(b.NewTap(), os.Stderr, tty)
	go aud.Run(ctx)
	go disp.Run(ctx)

	gl := genlog.Open(cfg.GenerationLogDir())
	defer gl.Close()

	adapter := generation.NewAdapter(generation.NewChatCapability(chat), gl)
	cache := plancache.New(plancache.NewCollection(seed...), adapter, cfg.Tolerance, b)
	log.Printf("[MAIN] backend=%s seed=%d cache_dir=%s", cfg.LLM.Backend, len(seed), cfg.CacheDir)

	err = fn(ctx, &app{cfg: cfg, cache: cache, genlog: gl, timeout: opts.timeout, out: os.Stdout, width: 72})

	// Let the auditor and display drain their taps before exit.
	time.Sleep(200 * time.Millisecond)
	return err
}

// newChatter builds the chat backend selected by cfg.
func newChatter(cfg config.Config) (llm.Chatter, error) {
	switch cfg.LLM.Backend {
	case config.BackendOllama:
		oc := llm.OllamaConfigFromEnv()
		if oc.BaseURL == "" {
			oc.BaseURL = cfg.Ollama.BaseURL
		}
		if oc.Model == "" {
			oc.Model = cfg.Ollama.Model
		}
		return llm.NewOllama(oc), nil
	default:
		c := llm.NewTier(cfg.LLM.Tier)
		if err := c.Validate(); err != nil {
			return nil, err
		}
		return c, nil
	}
}

// loadSeed reads a JSON array of plans. An empty path yields no plans.
func loadSeed(path string) ([]types.Plan, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	var plans []types.Plan
	if err := json.Unmarshal(data, &plans); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	for i := range plans {
		if plans[i].ID != i+1 {
			return nil, fmt.Errorf("parse seed %s: plan %d has id %d, want %d", path, i, plans[i].ID, i+1)
		}
	}
	return plans, nil
}

// requestCtx applies the per-request timeout.
func (a *app) requestCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.timeout)
}

// find runs one FindOrGenerate and prints the description.
func (a *app) find(ctx context.Context, p types.Profile) error {
	rctx, cancel := a.requestCtx(ctx)
	defer cancel()
	desc, err := a.cache.FindOrGenerate(rctx, p)
	if err != nil {
		return err
	}
	fmt.Fprint(a.out, ui.RenderDescription(desc, a.width))
	return nil
}

// update runs one Update and prints the returned plan.
func (a *app) update(ctx context.Context, r types.UpdateRequest) error {
	rctx, cancel := a.requestCtx(ctx)
	defer cancel()
	plan, err := a.cache.Update(rctx, r)
	if err != nil {
		return err
	}
	fmt.Fprint(a.out, ui.RenderPlan(plan, a.width))
	return nil
}
