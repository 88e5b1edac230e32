package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	_ "modernc.org/sqlite"
)

// Store 用 Gorm + SQLite 落盘交易流水。
type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("journal: 路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&TradeEvent{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP
	// reads while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Append 落一条流水。payload 可以是任意可编码对象，nil 则省略。
func (s *Store) Append(ctx context.Context, evt TradeEvent, payload any) error {
	if s == nil || s.db == nil {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err == nil {
			evt.Payload = datatypes.JSON(raw)
		}
	}
	return s.db.WithContext(ctx).Create(&evt).Error
}

// Recent 返回最近 limit 条流水，按时间倒序。
func (s *Store) Recent(ctx context.Context, limit int) ([]TradeEvent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	var out []TradeEvent
	err := s.db.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&out).Error
	return out, err
}

// SummarySince 聚合 since 之后的流水。
func (s *Store) SummarySince(ctx context.Context, since time.Time) (Summary, error) {
	sum := Summary{Since: since}
	if s == nil || s.db == nil {
		return sum, nil
	}
	base := func() *gorm.DB {
		return s.db.WithContext(ctx).Model(&TradeEvent{}).Where("created_at >= ?", since)
	}
	if err := base().Where("kind IN ?", []EventKind{KindSignalRaised, KindSignalReplaced}).Count(&sum.Signals).Error; err != nil {
		return sum, err
	}
	if err := base().Where("kind = ?", KindOrderSubmitted).Count(&sum.Orders).Error; err != nil {
		return sum, err
	}
	if err := base().Where("kind = ?", KindOrderFilled).Count(&sum.Fills).Error; err != nil {
		return sum, err
	}
	if err := base().Where("kind IN ?", []EventKind{KindPositionClosed, KindPanicClose}).Count(&sum.Closes).Error; err != nil {
		return sum, err
	}
	if err := base().Where("kind = ?", KindTrailingMoved).Count(&sum.TrailingMove).Error; err != nil {
		return sum, err
	}
	var pnl struct{ Total float64 }
	if err := base().Where("kind IN ?", []EventKind{KindPositionClosed, KindPanicClose}).
		Select("COALESCE(SUM(pnl),0) AS total").Scan(&pnl).Error; err != nil {
		return sum, err
	}
	sum.RealizedPnL = pnl.Total
	return sum, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
