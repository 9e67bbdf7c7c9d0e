package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/loomctl/loom-agent/internal/approval"
	"github.com/loomctl/loom-agent/internal/audit"
	"github.com/loomctl/loom-agent/internal/cache"
	"github.com/loomctl/loom-agent/internal/config"
	"github.com/loomctl/loom-agent/internal/driver"
	"github.com/loomctl/loom-agent/internal/engine"
	"github.com/loomctl/loom-agent/internal/executor"
	"github.com/loomctl/loom-agent/internal/executor/analytics"
	"github.com/loomctl/loom-agent/internal/executor/k8s"
	"github.com/loomctl/loom-agent/internal/executor/shell"
	"github.com/loomctl/loom-agent/internal/llm/anthropic"
	"github.com/loomctl/loom-agent/internal/metricshistory"
	"github.com/loomctl/loom-agent/internal/server"
	"github.com/loomctl/loom-agent/internal/store"
)

// metricHistoryCapacity bounds the in-process ring buffer of kubectl_top_pods
// samples shared between the Kubernetes Executor and the analytics executors.
const metricHistoryCapacity = metricshistory.DefaultCapacity

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the loom-agent HTTP/WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, flags)
		},
	}
}

func runServe(cmd *cobra.Command, flags *rootFlags) error {
	cfg, err := config.NewManager().Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("loom-agent: loading config: %w", err)
	}

	auditLogger, err := audit.New(audit.Config{
		Level:        cfg.Logging.Level,
		AppLogPath:   cfg.Logging.AppLogPath,
		AuditLogPath: cfg.Logging.AuditLogPath,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("loom-agent: building audit logger: %w", err)
	}
	defer auditLogger.Close()
	log := auditLogger.App()

	s, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("loom-agent: opening store %s: %w", cfg.Database.Path, err)
	}
	defer s.Close()

	toolCache, err := cache.New(cfg.Cache.Size, cfg.Cache.TTL)
	if err != nil {
		return fmt.Errorf("loom-agent: building tool-result cache: %w", err)
	}

	approvals := approval.New(s, cfg.Approval.PendingTTL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background goroutines that should all wind down together on
	// shutdown are grouped under one errgroup, grounded on
	// ShubyM-kubectl-ai/pkg/ui/html/htmlui.go's HTMLUserInterface.Run,
	// which runs its broadcaster loop the same way alongside its HTTP
	// server.
	bg, bgCtx := errgroup.WithContext(ctx)
	bg.Go(func() error {
		approvals.RunSweeper(bgCtx, cfg.Approval.SweepInterval)
		return nil
	})

	reg := make(executor.Registry)
	history := metricshistory.New(metricHistoryCapacity)

	k8sClient, err := k8s.NewClient(k8s.Options{
		KubeconfigPath:   cfg.K8s.KubeconfigPath,
		DefaultNamespace: cfg.K8s.DefaultNamespace,
		RequestTimeout:   cfg.K8s.RequestTimeout,
		QPS:              cfg.K8s.QPS,
		Burst:            cfg.K8s.Burst,
	})
	if err != nil {
		return fmt.Errorf("loom-agent: building kubernetes client: %w", err)
	}
	k8s.Register(reg, k8sClient, history)
	analytics.Register(reg, k8sClient.Clientset, history)
	reg.Register("execute_shell_command", shell.Handler())

	// A persisted llm_config row (SPEC_FULL.md §3, "a config row the
	// Driver reads at startup") overrides the static cfg.LLM.* values
	// when present, so a provider/model/key set via the admin endpoint
	// survives a restart without editing the config file.
	llmAPIKey, llmModel, llmBaseURL := cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL
	if _, storedModel, storedKey, storedBaseURL, ok, err := s.LoadLLMConfig(ctx); err != nil {
		return fmt.Errorf("loom-agent: loading persisted llm config: %w", err)
	} else if ok {
		llmModel, llmAPIKey, llmBaseURL = storedModel, storedKey, storedBaseURL
		log.Sugar().Info("using persisted llm config from store")
	}

	llmClient, err := anthropic.New(llmAPIKey, llmModel, llmBaseURL)
	if err != nil {
		return fmt.Errorf("loom-agent: building LLM client: %w", err)
	}

	eng := engine.New(reg, approvals, s).WithCache(toolCache)
	d := driver.New(llmClient, eng, s, approvals)
	srv := server.New(&cfg.Server, d, approvals, s)

	log.Sugar().Infow("starting server", "address", cfg.Server.Address, "port", cfg.Server.Port)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("loom-agent: starting server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Sugar().Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+5*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("loom-agent: graceful shutdown: %w", err)
	}
	cancel()
	_ = bg.Wait()
	return nil
}
