package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/rudi77/taskforce/internal/config"
	"github.com/rudi77/taskforce/internal/engine"
	"github.com/rudi77/taskforce/internal/planner"
	"github.com/rudi77/taskforce/internal/providers"
	"github.com/rudi77/taskforce/internal/session"
	"github.com/rudi77/taskforce/internal/toolexec"
	"github.com/rudi77/taskforce/internal/tools"
)

func main() {
	// Load .env file if it exists.
	_ = godotenv.Load()

	if err := run(context.Background(), os.Args[1:]); err != nil {
		log.Fatalf("taskforce: %v", err)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("taskforce", flag.ExitOnError)
	mission := fs.String("mission", "", "Mission text to run (or the answer to a pending question when resuming)")
	sessionID := fs.String("session", "", "Session id; reuse one to resume a paused mission")
	stream := fs.Bool("stream", false, "Emit NDJSON events instead of a single result")
	workDir := fs.String("workdir", "", "Working directory tools operate in (default: current directory)")
	list := fs.Bool("list", false, "List known sessions and exit")
	verbose := fs.Bool("verbose", false, "Log engine activity to stderr")

	if err := fs.Parse(args); err != nil {
		return err
	}

	mgr, err := config.NewManager()
	if err != nil {
		return err
	}
	cfg, err := mgr.Load()
	if err != nil {
		return err
	}
	applyConfigEnv(cfg)

	dir, err := mgr.Dir()
	if err != nil {
		return err
	}
	store, err := session.NewStore(ctx, filepath.Join(dir, "taskforce.db"))
	if err != nil {
		return err
	}
	defer store.Close()

	if *list {
		return listSessions(ctx, store)
	}
	if *mission == "" {
		fs.Usage()
		return fmt.Errorf("-mission is required")
	}

	root := *workDir
	if root == "" {
		root, err = os.Getwd()
		if err != nil {
			return err
		}
	}

	llm, model, err := providers.NewLLMClientFromEnv()
	if err != nil {
		return err
	}
	if cfg.Model != "" {
		model = cfg.Model
	}

	engineCfg := engine.DefaultConfig(model)
	if cfg.MaxInputTokens > 0 {
		engineCfg.Budget.MaxInputTokens = cfg.MaxInputTokens
	}
	if cfg.MaxIterations > 0 {
		engineCfg.MaxIterations = cfg.MaxIterations
	}
	if cfg.MaxReplansPerTask > 0 {
		engineCfg.MaxReplansPerTask = cfg.MaxReplansPerTask
	}
	engineCfg.Stream = *stream

	adapter := toolexec.NewAdapter(tools.NewRegistry(root))

	hooks := []engine.Hook{}
	if *verbose {
		hooks = append(hooks, engine.LoggerHook{L: log.New(os.Stderr, "taskforce ", log.LstdFlags)})
	}
	if *stream {
		hooks = append(hooks, NewEventHook(os.Stdout))
	}

	agent := engine.NewAgent(
		llm,
		engineCfg,
		adapter,
		planner.NewGenerator(llm, model),
		planner.NewReplanner(llm, model),
		store,
		store,
		store,
		hooks...,
	)

	result, err := agent.Execute(ctx, *sessionID, *mission)
	if err != nil {
		return err
	}

	if *stream {
		// Events already carried the run; finish with the result line.
		line, err := json.Marshal(result)
		if err != nil {
			return err
		}
		fmt.Println(string(line))
		return nil
	}

	fmt.Printf("session: %s\nstatus:  %s\n\n%s\n", result.SessionID, result.Status, result.Message)
	if result.Status == engine.MissionPaused {
		fmt.Printf("\nAnswer with: taskforce -session %s -mission \"<your answer>\"\n", result.SessionID)
	}
	return nil
}

func listSessions(ctx context.Context, store *session.Store) error {
	sessions, err := store.ListSessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("no sessions")
		return nil
	}
	for _, s := range sessions {
		mission := s.Mission
		if len(mission) > 60 {
			mission = mission[:60] + "..."
		}
		fmt.Printf("%s  %-9s  %s\n", s.SessionID, s.Status, mission)
	}
	return nil
}

// applyConfigEnv maps stored config onto the provider environment so
// the factory sees one consistent source. Explicit env vars win.
func applyConfigEnv(cfg *config.Config) {
	if cfg.LLMProvider != "" && os.Getenv("LLM_PROVIDER") == "" {
		os.Setenv("LLM_PROVIDER", cfg.LLMProvider)
	}
	if cfg.APIKey == "" {
		return
	}
	switch cfg.LLMProvider {
	case "anthropic":
		if os.Getenv("ANTHROPIC_API_KEY") == "" {
			os.Setenv("ANTHROPIC_API_KEY", cfg.APIKey)
		}
	default:
		if os.Getenv("OPENAI_API_KEY") == "" {
			os.Setenv("OPENAI_API_KEY", cfg.APIKey)
		}
		if cfg.BaseURL != "" && os.Getenv("OPENAI_BASE_URL") == "" {
			os.Setenv("OPENAI_BASE_URL", cfg.BaseURL)
		}
	}
}
