// Package gormstore implements the ledger store on Gorm + SQLite.
package gormstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sentinel/internal/store"
	"sentinel/internal/store/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type GormStore struct {
	db *gorm.DB
}

func Open(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: database path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	return newGormStore(db)
}

func NewFromDB(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm store: db cannot be nil")
	}
	return newGormStore(db)
}

func newGormStore(db *gorm.DB) (*GormStore, error) {
	models := []interface{}{
		&model.PositionModel{},
		&model.PriceOrderModel{},
		&model.TradeModel{},
		&model.PositionCloseEventModel{},
		&model.InconsistentStateModel{},
		&model.ConfigEntryModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		// SQLite + WAL: keep the pool small so writers rarely contend.
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Begin(ctx context.Context) (store.UnitOfWork, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &gormUnitOfWork{tx: tx}, nil
}

func (s *GormStore) Positions() store.PositionRepository {
	return &positionRepo{db: s.db}
}

func (s *GormStore) Orders() store.PriceOrderRepository {
	return &priceOrderRepo{db: s.db}
}

func (s *GormStore) Trades() store.TradeRepository {
	return &tradeRepo{db: s.db}
}

func (s *GormStore) CloseEvents() store.CloseEventRepository {
	return &closeEventRepo{db: s.db}
}

func (s *GormStore) Inconsistencies() store.InconsistencyRepository {
	return &inconsistencyRepo{db: s.db}
}

func (s *GormStore) KV() store.KVRepository {
	return &kvRepo{db: s.db}
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type gormUnitOfWork struct {
	tx   *gorm.DB
	done bool
}

func (u *gormUnitOfWork) Commit() error {
	if u == nil || u.tx == nil || u.done {
		return fmt.Errorf("unit of work already finished")
	}
	u.done = true
	return u.tx.Commit().Error
}

func (u *gormUnitOfWork) Rollback() error {
	if u == nil || u.tx == nil || u.done {
		return nil
	}
	u.done = true
	return u.tx.Rollback().Error
}

func (u *gormUnitOfWork) Positions() store.PositionRepository {
	return &positionRepo{db: u.tx}
}

func (u *gormUnitOfWork) Orders() store.PriceOrderRepository {
	return &priceOrderRepo{db: u.tx}
}

func (u *gormUnitOfWork) Trades() store.TradeRepository {
	return &tradeRepo{db: u.tx}
}

func (u *gormUnitOfWork) CloseEvents() store.CloseEventRepository {
	return &closeEventRepo{db: u.tx}
}

var (
	_ store.Store      = (*GormStore)(nil)
	_ store.UnitOfWork = (*gormUnitOfWork)(nil)
)
