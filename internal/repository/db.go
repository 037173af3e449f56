package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tron-storefront/internal/model"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// Open 通过 dialector 建立数据库连接
// 关闭 SQL 日志并开启错误翻译，唯一约束冲突统一返回 gorm.ErrDuplicatedKey
func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// Migrate 自动迁移全部模型
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(model.All()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Store 仓储集合，便于业务层在同一事务中使用多个仓储
type Store struct {
	db        *gorm.DB
	Orders    *OrderRepository
	Products  *ProductRepository
	Payments  *PaymentRepository
	Unmatched *UnmatchedRepository
}

// NewStore 创建仓储集合
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:        db,
		Orders:    NewOrderRepository(db),
		Products:  NewProductRepository(db),
		Payments:  NewPaymentRepository(db),
		Unmatched: NewUnmatchedRepository(db),
	}
}

// Transaction 在事务中执行 fn，已处于事务中的 Store 再次调用时使用保存点
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

// DB 返回底层 gorm 句柄
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Ping 检查数据库连接是否可用
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.DB().DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
