// Package store 启动时建立文档库连接。
//
// 会话存储由外部 Agent 服务负责，网关本身不读写任何集合，
// 这里只负责连接、就绪探测和关闭。
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/pharmai/gateway/config"
)

// ErrNotConfigured 未设置 MONGO_URI
var ErrNotConfigured = errors.New("mongo uri is not configured")

// Store 进程级 Mongo 连接
type Store struct {
	client   *mongo.Client
	database string
}

// Connect 连接并 ping 主节点
func Connect(ctx context.Context, cfg config.MongoConfig) (*Store, error) {
	if cfg.URI == "" {
		return nil, ErrNotConfigured
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.ConnectTimeout)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("连接 MongoDB 失败: %w", err)
	}

	s := &Store{client: client, database: cfg.Database}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := s.Ping(pingCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	log.Info().Str("database", cfg.Database).Msg("MongoDB 已连接")
	return s, nil
}

// Ping 就绪探测
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("MongoDB ping 失败: %w", err)
	}
	return nil
}

// Database 数据库名
func (s *Store) Database() string {
	return s.database
}

// Close 断开连接
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
