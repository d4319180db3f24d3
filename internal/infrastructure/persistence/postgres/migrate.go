package postgres

import (
	"context"
	"fmt"
)

// AutoMigrate 创建 vector 扩展与全部表，仅用于开发环境初始化
func (c *Client) AutoMigrate(ctx context.Context) error {
	db := c.db.WithContext(ctx)
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	if err := db.AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("failed to migrate tables: %w", err)
	}
	return nil
}
