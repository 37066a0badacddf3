// Command autonomy-mcp serves the MCP gateway standalone, without the
// cron-scheduled cycle host — useful for wiring an agent client directly
// against EnqueueEvent/Prepare/Finalize/ReadLedgerEntries/Pause/Resume/Tune
// during local development. Grounded on the teacher's
// cmd/control-plane/main.go wiring shape, trimmed to just the MCP mount.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/zapr"
	"go.uber.org/zap"

	"github.com/driftloop/autonomy/internal/gateway/mcpserver"
	"github.com/driftloop/autonomy/internal/ledger"
	"github.com/driftloop/autonomy/internal/orchestrator"
	"github.com/driftloop/autonomy/internal/store"
)

var version = "dev"

func main() {
	zl, _ := zap.NewProduction()
	defer zl.Sync()
	log := zapr.NewLogger(zl)

	addr := os.Getenv("AUTONOMY_MCP_LISTEN_ADDR")
	if addr == "" {
		addr = ":8091"
	}
	dataDir := os.Getenv("AUTONOMY_DATA_DIR")
	if dataDir == "" {
		dataDir = "/var/lib/autonomy"
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st := store.New(dataDir, log)
	ledgerKey := []byte(os.Getenv("AUTONOMY_LEDGER_KEY"))
	orch := orchestrator.New(st, ledger.New(st, ledgerKey), log)
	gateway := mcpserver.New(orch, log)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.Handle("/mcp", gateway.Handler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	zl.Info("starting autonomy mcp gateway", zap.String("addr", addr), zap.String("version", version))

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
