package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/knowledge-pipeline/api/handlers"
	"github.com/feichai0017/knowledge-pipeline/api/routes"
	"github.com/feichai0017/knowledge-pipeline/config"
	"github.com/feichai0017/knowledge-pipeline/internal/app"
	"github.com/feichai0017/knowledge-pipeline/pkg/logger"
)

func main() {
	cfg, err := config.GetAppConfig()
	if err != nil {
		panic(err)
	}

	// init logger
	log, err := app.NewLogger(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize application", logger.Error(err))
	}
	defer a.Close()

	ingest, err := a.IngestService(ctx)
	if err != nil {
		log.Fatal("Failed to create ingest service", logger.Error(err))
	}

	if cfg.Server.EmbeddedWorker {
		documentWorker, err := a.DocumentWorker(ctx)
		if err != nil {
			log.Fatal("Failed to create document worker", logger.Error(err))
		}
		// in-flight tasks finish on shutdown
		if err := documentWorker.Start(context.WithoutCancel(ctx)); err != nil {
			log.Fatal("Failed to start embedded worker", logger.Error(err))
		}
		defer documentWorker.Stop()
		log.Info("Embedded worker started", logger.Int("workers", cfg.Worker.Workers))
	}

	checks := make(map[string]handlers.HealthCheck)
	for name, fn := range a.HealthChecks() {
		checks[name] = fn
	}

	// init handlers
	h := handlers.NewHandlers(handlers.Deps{
		Ingester:  ingest,
		Documents: a.Store,
		RAG:       a.Pipeline(),
		Resolver:  a.Resolver,
		Models:    a.Models,
		Backend:   a.Ollama,
		Queue:     a.Queue,
		Index:     a.Index,
		Embedding: a.Embedding,
		Checks:    checks,
	}, log)

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.MaxMultipartMemory = 32 << 20
	routes.SetupRoutes(r, h, log, nil)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	// start server
	go func() {
		log.Info("Server starting", logger.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	// graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
		os.Exit(1)
	}
	log.Info("Server stopped")
}
