package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/feichai0017/knowledge-pipeline/config"
	"github.com/feichai0017/knowledge-pipeline/internal/app"
	"github.com/feichai0017/knowledge-pipeline/pkg/logger"
)

func main() {
	cfg, err := config.GetAppConfig()
	if err != nil {
		panic(err)
	}

	// 初始化日志
	log, err := app.NewLogger(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// 内存后端的数据只在 server 进程里可见
	if cfg.UsesMemoryBackend() {
		log.Error("Memory backends run inside the server process, use server.embeddedWorker instead")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize application", logger.Error(err))
		os.Exit(1)
	}
	defer a.Close()

	// 创建 worker
	documentWorker, err := a.DocumentWorker(ctx)
	if err != nil {
		log.Error("Failed to create document worker", logger.Error(err))
		os.Exit(1)
	}

	// 启动 worker; in-flight tasks finish on shutdown, Stop waits for them
	if err := documentWorker.Start(context.WithoutCancel(ctx)); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}
	log.Info("Worker started", logger.Int("workers", cfg.Worker.Workers))

	// 等待中断信号
	<-ctx.Done()

	// 优雅关闭
	log.Info("Shutting down worker...")
	if err := documentWorker.Stop(); err != nil {
		log.Error("Worker stopped with error", logger.Error(err))
	}
	log.Info("Worker stopped")
}
