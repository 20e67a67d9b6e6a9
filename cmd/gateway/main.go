package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pharmai/gateway/apigateway"
	"github.com/pharmai/gateway/config"
	"github.com/pharmai/gateway/store"
)

func main() {
	// 命令行参数
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("加载配置失败")
	}

	setupLogger(cfg.Logging)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("API Gateway 异常退出")
		os.Exit(1)
	}
}

// run 连接数据库并运行网关直到 ctx 取消，返回前关闭数据库连接
func run(ctx context.Context, cfg *config.Config) error {
	// 数据库连接失败不影响网关服务
	var db apigateway.Database
	mongo, err := store.Connect(ctx, cfg.Mongo)
	switch {
	case err == nil:
		db = mongo
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mongo.Close(closeCtx); err != nil {
				log.Warn().Err(err).Msg("关闭 MongoDB 失败")
			}
		}()
	case errors.Is(err, store.ErrNotConfigured):
		log.Warn().Msg("未设置 MONGO_URI，跳过数据库连接")
	default:
		log.Error().Err(err).Msg("MongoDB 连接失败，网关继续运行")
	}

	return apigateway.New(cfg, db).Start(ctx)
}

// setupLogger 配置日志
func setupLogger(cfg config.LoggingConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
