package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sentineld/internal/eventlog"
	"github.com/ppiankov/sentineld/internal/judge"
	"github.com/ppiankov/sentineld/internal/learner"
	"github.com/ppiankov/sentineld/internal/llm"
	"github.com/ppiankov/sentineld/internal/rulebook"
	"github.com/ppiankov/sentineld/internal/wafcache"
	"github.com/ppiankov/sentineld/internal/wafconfig"
	"github.com/ppiankov/sentineld/internal/wafproxy"
)

var serveConfigPath string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "config.yaml", "Path to config YAML")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the WAF reverse proxy",
	Long:  "Runs sentineld as a reverse proxy in front of an upstream service, judging every request with an LLM and hot-reloading its rulebook.",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := wafconfig.Load(serveConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	fmt.Fprintln(os.Stderr, "sentineld: configuration loaded")

	logs, err := eventlog.Open(cfg.Storage.LogsDBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize log store: %w", err)
	}
	defer logs.Close()
	fmt.Fprintln(os.Stderr, "sentineld: event log initialized")

	rulesStore, err := rulebook.New(cfg.Storage.RulebookPath)
	if err != nil {
		return fmt.Errorf("failed to initialize rulebook store: %w", err)
	}
	fmt.Fprintln(os.Stderr, "sentineld: rulebook store initialized")

	var cache *wafcache.Cache
	if cfg.Cache.Enabled {
		cache, err = wafcache.New(cfg.Cache.RedisURL, cfg.Cache.TTL())
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer cache.Close()
		if err := cache.Ping(context.Background()); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		fmt.Fprintln(os.Stderr, "sentineld: redis cache initialized")
	} else {
		fmt.Fprintln(os.Stderr, "sentineld: cache disabled")
	}

	llmProvider := llm.NewOllamaProvider(llm.OllamaConfig{
		BaseURL:            cfg.LLM.BaseURL,
		Model:              cfg.LLM.Model,
		JudgeTimeout:       cfg.LLM.JudgeTimeout(),
		JudgeMaxTokens:     cfg.LLM.JudgeMaxTokens,
		JudgeTemperature:   cfg.LLM.JudgeTemperature,
		LearnerMaxTokens:   cfg.LLM.LearnerMaxTokens,
		LearnerTemperature: cfg.LLM.LearnerTemperature,
	})

	healthCtx, healthCancel := context.WithTimeout(context.Background(), cfg.LLM.JudgeTimeout())
	if err := llmProvider.HealthCheck(healthCtx); err != nil {
		fmt.Fprintf(os.Stderr, "sentineld: LLM health check failed: %v. Continuing anyway...\n", err)
	} else {
		fmt.Fprintln(os.Stderr, "sentineld: LLM provider connected")
	}
	healthCancel()

	rb, err := rulesStore.Load()
	if err != nil {
		return fmt.Errorf("failed to load rulebook: %w", err)
	}
	fmt.Fprintf(os.Stderr, "sentineld: loaded rulebook with %d rules\n", len(rb.Rules))

	var cacheArg judge.Cache
	if cache != nil {
		cacheArg = cache
	}
	j := judge.New(llmProvider, cacheArg, rb, cfg.LLM.JudgeTimeout(), judge.FailMode(cfg.JudgeFailMode()))
	fmt.Fprintln(os.Stderr, "sentineld: judge initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Learner.Enabled {
		lrn := learner.New(llmProvider, logs, rulesStore, cfg.Learner.BatchInterval(), cfg.Learner.MinFlaggedRequests)
		go lrn.Run(ctx)
		fmt.Fprintf(os.Stderr, "sentineld: learner scheduler started (interval: %v)\n", cfg.Learner.BatchInterval())
	} else {
		fmt.Fprintln(os.Stderr, "sentineld: learner disabled")
	}

	watchStop := make(chan struct{})
	updates, err := rulesStore.Watch(watchStop)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sentineld: rulebook hot-reload disabled: %v\n", err)
	} else {
		go func() {
			for u := range updates {
				if u.Err != nil {
					fmt.Fprintf(os.Stderr, "sentineld: rulebook reload failed: %v\n", u.Err)
					continue
				}
				j.UpdateRulebook(u.Rulebook)
				fmt.Fprintf(os.Stderr, "sentineld: rulebook hot-reloaded: %d rules (version %d)\n", len(u.Rulebook.Rules), u.Rulebook.Version)
			}
		}()
		fmt.Fprintln(os.Stderr, "sentineld: rulebook hot-reload watcher started")
	}

	proxy, err := wafproxy.New(wafproxy.Config{
		ListenAddr:     cfg.WAF.ListenAddr,
		UpstreamURL:    cfg.WAF.UpstreamURL,
		RequestTimeout: cfg.WAF.RequestTimeout(),
		MetricsEnabled: cfg.Observability.MetricsEnabled,
	}, j, logs)
	if err != nil {
		return fmt.Errorf("failed to create proxy server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nsentineld: shutting down...")
		close(watchStop)
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		proxy.Stop(shutdownCtx)
	}()

	fmt.Fprintf(os.Stderr, "sentineld: WAF listening on %s\n", cfg.WAF.ListenAddr)
	fmt.Fprintf(os.Stderr, "sentineld: upstream: %s\n", cfg.WAF.UpstreamURL)
	fmt.Fprintf(os.Stderr, "sentineld: health check: http://%s/health\n", cfg.WAF.ListenAddr)

	return proxy.Start(ctx)
}
