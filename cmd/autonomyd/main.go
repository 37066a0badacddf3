// Command autonomyd runs the autonomy engine's cron-scheduled cycle host:
// it ticks Prepare/Finalize for every configured agent, serves health and
// metrics endpoints, and mounts the MCP gateway, grounded on the teacher's
// cmd/control-plane/main.go and internal/controlplane/jobs/scheduler.go.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/driftloop/autonomy/internal/gateway/mcpserver"
	"github.com/driftloop/autonomy/internal/ledger"
	"github.com/driftloop/autonomy/internal/metrics"
	"github.com/driftloop/autonomy/internal/orchestrator"
	"github.com/driftloop/autonomy/internal/store"
	"github.com/driftloop/autonomy/internal/telemetry"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	zl, _ := zap.NewProduction()
	defer zl.Sync()
	log := zapr.NewLogger(zl)

	cfg, err := loadConfig()
	if err != nil {
		zl.Fatal("failed to load config", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.InitTraceProvider(ctx, cfg.OTLPEndpoint, version)
	if err != nil {
		zl.Fatal("failed to init tracing", zap.Error(err))
	}
	defer shutdownTracing(context.Background())

	st := store.New(cfg.DataDir, log)
	ldgr := ledger.New(st, cfg.LedgerKey)
	orch := orchestrator.New(st, ldgr, log)

	sched := cron.New()
	for _, agentID := range cfg.Agents {
		agentID := agentID
		if _, err := sched.AddFunc(cfg.CronSchedule, func() { runCycle(ctx, orch, cfg, agentID, zl) }); err != nil {
			zl.Fatal("failed to schedule agent", zap.String("agent", agentID), zap.Error(err))
		}
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	gateway := mcpserver.New(orch, log)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"version":"%s","commit":"%s"}`+"\n", version, commit)
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.Handle("/mcp", gateway.Handler())

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	zl.Info("starting autonomy daemon",
		zap.String("addr", cfg.ListenAddr),
		zap.String("version", version),
		zap.Strings("agents", cfg.Agents),
		zap.String("schedule", cfg.CronSchedule),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zl.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("shutdown error", zap.Error(err))
	}
}

// runCycle drives one Prepare/Finalize pair for agentID. The cycle body
// between them is deliberately thin: Prepare already advances the stage
// machine (discover/design/synthesize/verify/canary/promote all run their
// stage-specific work inside it), so the host's job is just to call it,
// report the outcome, and release the run-lock via Finalize.
func runCycle(ctx context.Context, orch *orchestrator.Orchestrator, cfg *config, agentID string, zl *zap.Logger) {
	now := time.Now().UTC()
	workspaceDir := cfg.WorkspaceRoot + "/" + agentID

	prep, err := orch.Prepare(orchestrator.PrepareParams{
		AgentID:      agentID,
		WorkspaceDir: workspaceDir,
		Now:          now,
		Ctx:          ctx,
	})
	if err != nil {
		zl.Error("prepare failed", zap.String("agent", agentID), zap.Error(err))
		return
	}
	if prep.Skipped {
		zl.Info("cycle skipped", zap.String("agent", agentID), zap.String("reason", prep.Reason))
		return
	}

	status := "ok"
	summary := fmt.Sprintf("processed %d events", len(prep.Events))

	finalizeErr := orch.Finalize(orchestrator.FinalizeParams{
		State:          prep.State,
		Status:         status,
		Summary:        summary,
		Events:         prep.Events,
		Drops:          prep.Drops,
		Remaining:      prep.RemainingEvents,
		LockToken:      prep.LockToken,
		WorkspaceDir:   workspaceDir,
		CycleStartedAt: prep.CycleStartedAt,
		Now:            time.Now().UTC(),
		Ctx:            ctx,
	})
	if finalizeErr != nil {
		zl.Error("finalize failed", zap.String("agent", agentID), zap.Error(finalizeErr))
		return
	}

	zl.Info("cycle complete",
		zap.String("agent", agentID),
		zap.String("stage", string(prep.State.Augmentation.Stage)),
		zap.Int("events", len(prep.Events)),
	)
}
