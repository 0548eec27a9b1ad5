// agentdeck is the orchestration server: it runs agent CLI subprocesses,
// merges their output with approval and cancellation events, brokers tool
// approvals between the agent-side gate and the frontend, and persists
// sessions, permission rules and chat transcripts.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	agentapi "github.com/agentdeck/agentdeck/internal/agent/api"
	"github.com/agentdeck/agentdeck/internal/agent/supervisor"
	"github.com/agentdeck/agentdeck/internal/approval"
	"github.com/agentdeck/agentdeck/internal/common/config"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/gateway/ws"
	"github.com/agentdeck/agentdeck/internal/history"
	"github.com/agentdeck/agentdeck/internal/permission"
	"github.com/agentdeck/agentdeck/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting agentdeck...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		log.Fatal("Failed to create data directory", zap.Error(err))
	}

	// Stores.
	sessions := session.NewStore(cfg.Storage.SessionsPath(), log)
	rules := permission.NewStore(cfg.Storage.RulesPath(), log)
	transcripts, err := history.NewStore(cfg.Storage.HistoryPath(), log)
	if err != nil {
		log.Fatal("Failed to open history store", zap.Error(err))
	}
	defer transcripts.Close()

	// Supervisor: runs the agent CLI and merges its streams.
	sup := supervisor.New(supervisor.Options{
		CLIPath:        cfg.Agent.CLIPath,
		GateBinary:     cfg.Agent.GateBinary,
		GateURL:        cfg.Server.BaseURL(),
		DefaultModel:   cfg.Agent.DefaultModel,
		CompactTimeout: cfg.Agent.CompactTimeoutDuration(),
		CancelGrace:    cfg.Agent.CancelGraceDuration(),
	}, sessions, log)

	// Approval broker: routes gated tool calls to the user via the
	// supervisor's inject path.
	broker := approval.NewBroker(rules, sessions, sup, cfg.Approval.WaitTimeoutDuration(), log)

	// WebSocket hub mirrors event streams to subscribed frontends.
	hub := ws.NewHub(log)
	go hub.Run(ctx)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(agentapi.Recovery(log))
	router.Use(agentapi.CORS())
	router.Use(agentapi.RequestLogger(log))
	router.Use(agentapi.ErrorHandler(log))

	agentapi.RegisterRoutes(router, sup, sessions, rules, transcripts, hub, log)
	approval.RegisterRoutes(router, broker, log)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeoutDuration(),
		// WriteTimeout stays zero: SSE responses are held open for the
		// lifetime of a run.
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("HTTP server listening",
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down agentdeck...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("agentdeck stopped")
}
