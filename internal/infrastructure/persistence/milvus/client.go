// Package milvus 提供素材切片的 Milvus 向量存储
package milvus

import (
	"context"
	"fmt"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"manuscript-ai-api/internal/config"
)

var tracer = otel.Tracer("milvus")

const connectTimeout = 10 * time.Second

// Client Milvus 连接与集合命名
type Client struct {
	milvus client.Client
	config *config.MilvusConfig
}

// NewClient 连接 Milvus；只在配置了用户名和密码时启用认证
func NewClient(ctx context.Context, cfg *config.MilvusConfig) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mc := client.Config{Address: addr}
	if cfg.User != "" && cfg.Password != "" {
		mc.Username = cfg.User
		mc.Password = cfg.Password
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	c, err := client.NewClient(ctx, mc)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus at %s: %w", addr, err)
	}
	return &Client{milvus: c, config: cfg}, nil
}

func (c *Client) Close() error {
	return c.milvus.Close()
}

// HealthCheck 就绪探测，用切片集合是否可查询判断
func (c *Client) HealthCheck(ctx context.Context) error {
	name := c.CollectionName(CollectionContentChunks)
	ctx, span := tracer.Start(ctx, "milvus.HealthCheck",
		trace.WithAttributes(attribute.String("collection", name)))
	defer span.End()

	if _, err := c.milvus.HasCollection(ctx, name); err != nil {
		span.RecordError(err)
		return fmt.Errorf("milvus health check failed: %w", err)
	}
	return nil
}

// CollectionName 加上部署前缀的集合名
func (c *Client) CollectionName(name string) string {
	if c.config.CollectionPrefix == "" {
		return name
	}
	return c.config.CollectionPrefix + "_" + name
}
