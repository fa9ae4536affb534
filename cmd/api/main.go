package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gacha-admin/internal/boot"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// .env 仅本地开发使用，不存在时忽略
	_ = godotenv.Load()

	// 支持通过环境变量 CONFIG_PATH 指定配置文件，默认使用 dev；不存在则回退 example
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/config.dev.yaml"
	}
	if _, err := os.Stat(cfgPath); err != nil {
		fallback := "configs/config.example.yaml"
		if _, err2 := os.Stat(fallback); err2 == nil {
			log.Printf("config %s not found, fallback to %s", cfgPath, fallback)
			cfgPath = fallback
		} else {
			log.Fatalf("config file not found: %s (fallback %s also missing)", cfgPath, fallback)
		}
	}
	if abs, err := filepath.Abs(cfgPath); err == nil {
		cfgPath = abs
	}

	app, err := boot.InitApp(cfgPath)
	if err != nil {
		log.Fatalf("init app: %v", err)
	}

	srv := &http.Server{
		Addr:              app.Config.HTTP.Addr,
		Handler:           app.HTTP,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bgDone := make(chan struct{})
	go func() {
		defer close(bgDone)
		if err := app.Run(ctx); err != nil {
			app.Logger.Error("background_task_failed", zap.Error(err))
		}
	}()

	go func() {
		app.Logger.Info("http_server_start",
			zap.String("addr", app.Config.HTTP.Addr),
			zap.String("config", cfgPath),
			zap.String("driver", app.Config.Repository.Driver),
			zap.String("instance_id", string(app.InstanceID)),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Error("http_server_error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	app.Logger.Info("shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error("http_shutdown_error", zap.Error(err))
	}
	select {
	case <-bgDone:
	case <-shutdownCtx.Done():
		app.Logger.Warn("background_tasks_timeout")
	}
	app.Close()
	log.Println("cleanup_done")
}
