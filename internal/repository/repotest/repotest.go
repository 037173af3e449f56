// Package repotest 为测试提供已迁移的内存 SQLite 仓储
package repotest

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	"tron-storefront/internal/repository"
)

// NewStore 创建基于全新内存数据库的 Store
// 连接池固定为 1，因为每个 SQLite :memory: 连接都是独立的数据库
func NewStore(t *testing.T) *repository.Store {
	t.Helper()
	db, err := repository.Open(sqlite.Open(":memory:"))
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, repository.Migrate(db))
	return repository.NewStore(db)
}
