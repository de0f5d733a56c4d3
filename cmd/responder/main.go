package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tianh-ai/OpenWechatAI-Core/internal/api"
	"github.com/tianh-ai/OpenWechatAI-Core/internal/biz/repo"
	"github.com/tianh-ai/OpenWechatAI-Core/internal/biz/usecase"
	"github.com/tianh-ai/OpenWechatAI-Core/internal/conf"
	"github.com/tianh-ai/OpenWechatAI-Core/internal/data"
	"github.com/tianh-ai/OpenWechatAI-Core/internal/infra/feishu"
	"github.com/tianh-ai/OpenWechatAI-Core/internal/infra/openai"
	"github.com/tianh-ai/OpenWechatAI-Core/internal/service"
)

func main() {
	root := &cobra.Command{
		Use:   "responder",
		Short: "Reactive auto-reply pipeline over a polled message surface",
	}
	root.AddCommand(runCmd(), checkRulesCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the detection and dispatch loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
}

func checkRulesCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "check-rules",
		Short: "Validate a rule file and print the loaded set",
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkRules(path)
		},
	}
	cmd.Flags().StringVar(&path, "rules", "config/reply_rules.yaml", "rule file to validate")
	return cmd
}

func run() error {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := conf.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Rule store
	store := usecase.NewRuleStore(data.NewRuleFileSource(cfg.Rules.Path))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.Load(ctx); err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	// Persistence sink
	sink, err := data.NewPersistenceSink(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open records db: %w", err)
	}
	defer sink.Close()
	fmt.Printf("[Responder] Records DB: %s\n", cfg.DBPath)

	execLog := usecase.NewExecutionLog(sink)
	if err := execLog.Warm(ctx); err != nil {
		fmt.Printf("[Responder] Could not warm stats from db: %v\n", err)
	}

	// Channel senders
	console := data.NewConsoleSender(cfg.Source.OutboxPath)
	senders := map[string]repo.ChannelSender{
		"console":           console,
		cfg.Source.Platform: console,
	}
	if cfg.Feishu.AppID != "" && cfg.Feishu.AppSecret != "" {
		senders["feishu"] = feishu.NewClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret, cfg.Feishu.ChatID)
		fmt.Println("[Responder] Feishu channel enabled")
	}

	// AI collaborator
	var ai repo.AIComplete
	if cfg.AI.APIKey != "" {
		ai = openai.NewClient(cfg.AI.APIKey, cfg.AI.BaseURL, cfg.AI.Model)
		fmt.Println("[Responder] AI replies enabled")
	}

	engine := usecase.NewRuleEngine(store)
	executor := usecase.NewActionExecutor(senders, ai)

	pool := service.NewWorkerPool(engine, executor, execLog, service.WorkerPoolConfig{
		Workers:   cfg.Worker.Workers,
		QueueSize: cfg.Worker.QueueSize,
		Retry: service.RetryPolicy{
			MaxRetries:   cfg.Worker.MaxRetries,
			BaseDelay:    cfg.Worker.RetryBase,
			DelayCeiling: cfg.Worker.RetryCeiling,
		},
		SoftLimit: cfg.Worker.SoftLimit,
		HardLimit: cfg.Worker.HardLimit,
	})

	source := data.NewFileSource(cfg.Source.InboxPath, cfg.Source.Platform)
	detector := usecase.NewChangeDetector(cfg.Detector.Threshold)
	dedup := usecase.NewReplyDedup(cfg.Dedup.Capacity, cfg.Dedup.Window)

	loop := service.NewDispatchLoop(source, detector, dedup, pool, service.DispatchConfig{
		PollInterval:         cfg.Dispatch.PollInterval,
		ErrorBase:            cfg.Dispatch.ErrorBase,
		ErrorCeiling:         cfg.Dispatch.ErrorCeiling,
		MaxConsecutiveErrors: cfg.Dispatch.MaxConsecutiveErrors,
		ConnectMaxRetries:    cfg.Dispatch.ConnectMaxRetries,
	})

	// Status API
	apiServer := api.NewServer(execLog, store, loop, pool, cfg.API.Port)
	go func() {
		if err := apiServer.Start(); err != nil {
			fmt.Printf("[Responder] API server error: %v\n", err)
		}
	}()
	defer apiServer.Stop()

	pool.Start(ctx)

	err = loop.Run(ctx)
	if errors.Is(err, context.Canceled) {
		fmt.Println("[Responder] Shut down")
		return nil
	}
	return err
}

func checkRules(path string) error {
	store := usecase.NewRuleStore(data.NewRuleFileSource(path))
	if err := store.Load(context.Background()); err != nil {
		return err
	}

	set := store.Rules()
	fmt.Printf("%d rules loaded from %s\n\n", len(set.Rules), path)
	for _, rule := range set.Rules {
		state := "enabled"
		if !rule.Enabled {
			state = "disabled"
		}
		fmt.Printf("  %-24s priority=%-4d %-8s action=%s\n", rule.Name, rule.Priority, state, rule.Action.Type)
	}
	if set.DefaultRule != nil {
		fmt.Println("\n  default reply is enabled")
	}
	return nil
}
