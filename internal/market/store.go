package market

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	_ "modernc.org/sqlite"
)

// Manifest 记录某个标的日线库的统计信息。
type Manifest struct {
	Symbol     string         `json:"symbol"`
	MinDate    string         `json:"min_date"`
	MaxDate    string         `json:"max_date"`
	Rows       int64          `json:"rows"`
	LastSyncAt int64          `json:"last_sync_at"`
	Path       string         `json:"path"`
	Meta       map[string]any `json:"meta,omitempty"`
}

type barModel struct {
	Date       string `gorm:"primaryKey;size:10"`
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	InsertedAt int64 `gorm:"autoCreateTime:milli"`
}

func (barModel) TableName() string { return "bars" }

type manifestModel struct {
	ID         int `gorm:"primaryKey;autoIncrement:false"`
	Symbol     string
	MinDate    string
	MaxDate    string
	RowCount   int64
	LastSyncAt int64
	Meta       datatypes.JSONMap
}

func (manifestModel) TableName() string { return "manifest" }

const insertBatchSize = 500

// Store 是基于 SQLite 的日线仓库，每个标的一个库文件。
// 同时实现 Provider，可直接作为回测数据源。
type Store struct {
	root string

	mu  sync.Mutex
	dbs map[string]*gorm.DB
}

func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("data root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root, dbs: make(map[string]*gorm.DB)}, nil
}

func (s *Store) Name() string { return "sqlite" }

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for k, db := range s.dbs {
		if db == nil {
			continue
		}
		if sqlDB, err := db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		delete(s.dbs, k)
	}
	return firstErr
}

func (s *Store) db(symbol string) (*gorm.DB, string, error) {
	key := strings.ToUpper(strings.TrimSpace(symbol))
	if key == "" {
		return nil, "", fmt.Errorf("symbol 不能为空")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.dbPath(key)
	if db, ok := s.dbs[key]; ok && db != nil {
		return db, path, nil
	}
	// modernc 驱动注册名为 "sqlite"，无需 cgo
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, "", err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	if err := ensureSchema(db, key); err != nil {
		_ = sqlDB.Close()
		return nil, "", err
	}
	s.dbs[key] = db
	return db, path, nil
}

func (s *Store) dbPath(symbol string) string {
	return filepath.Join(s.root, symbol+".db")
}

func ensureSchema(db *gorm.DB, symbol string) error {
	if err := db.AutoMigrate(&barModel{}, &manifestModel{}); err != nil {
		return fmt.Errorf("初始化 %s 日线库失败: %w", symbol, err)
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&manifestModel{ID: 1, Symbol: symbol}).Error
}

// InsertSeries 批量写入日线（同一日期将被覆盖）。
func (s *Store) InsertSeries(ctx context.Context, series Series) (int, error) {
	return s.ImportSeries(ctx, series, "")
}

// ImportSeries 与 InsertSeries 相同，额外在 manifest 中记录数据来源。
func (s *Store) ImportSeries(ctx context.Context, series Series, origin string) (int, error) {
	if len(series.Bars) == 0 {
		return 0, nil
	}
	db, _, err := s.db(series.Symbol)
	if err != nil {
		return 0, err
	}
	rows := make([]barModel, len(series.Bars))
	for i, b := range series.Bars {
		rows[i] = barModel{Date: b.Key(), Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
	}
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "date"}},
			DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume"}),
		}).CreateInBatches(rows, insertBatchSize).Error
	})
	if err != nil {
		return 0, err
	}
	meta := datatypes.JSONMap{"batch_rows": len(rows)}
	if origin = strings.TrimSpace(origin); origin != "" {
		meta["origin"] = origin
	}
	return len(rows), s.refreshManifest(ctx, db, meta)
}

func (s *Store) refreshManifest(ctx context.Context, db *gorm.DB, meta datatypes.JSONMap) error {
	var agg struct {
		MinDate  string
		MaxDate  string
		RowCount int64
	}
	err := db.WithContext(ctx).Model(&barModel{}).
		Select("COALESCE(MIN(date), '') AS min_date, COALESCE(MAX(date), '') AS max_date, COUNT(1) AS row_count").
		Scan(&agg).Error
	if err != nil {
		return err
	}
	return db.WithContext(ctx).Model(&manifestModel{ID: 1}).Updates(map[string]any{
		"min_date":     agg.MinDate,
		"max_date":     agg.MaxDate,
		"row_count":    agg.RowCount,
		"last_sync_at": time.Now().UnixMilli(),
		"meta":         meta,
	}).Error
}

func (s *Store) Manifest(ctx context.Context, symbol string) (Manifest, error) {
	db, path, err := s.db(symbol)
	if err != nil {
		return Manifest{}, err
	}
	var row manifestModel
	if err := db.WithContext(ctx).First(&row, 1).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Manifest{}, fmt.Errorf("%s manifest 缺失", symbol)
		}
		return Manifest{}, err
	}
	return Manifest{
		Symbol:     row.Symbol,
		MinDate:    row.MinDate,
		MaxDate:    row.MaxDate,
		Rows:       row.RowCount,
		LastSyncAt: row.LastSyncAt,
		Path:       path,
		Meta:       row.Meta,
	}, nil
}

// History 返回 [start, end] 的日线（闭区间，零值表示不限制），按日期升序。
func (s *Store) History(ctx context.Context, symbol string, start, end time.Time) (Series, error) {
	db, _, err := s.db(symbol)
	if err != nil {
		return Series{}, err
	}
	startKey, endKey := "0000-00-00", "9999-99-99"
	if !start.IsZero() {
		startKey = DateKey(start)
	}
	if !end.IsZero() {
		endKey = DateKey(end)
	}
	if endKey < startKey {
		startKey, endKey = endKey, startKey
	}
	var rows []barModel
	err = db.WithContext(ctx).
		Where("date BETWEEN ? AND ?", startKey, endKey).
		Order("date ASC").
		Find(&rows).Error
	if err != nil {
		return Series{}, err
	}
	series := Series{Symbol: symbol, Bars: make([]Bar, 0, len(rows))}
	for _, r := range rows {
		date, err := ParseDate(r.Date)
		if err != nil {
			return Series{}, err
		}
		series.Bars = append(series.Bars, Bar{Date: date, Open: r.Open, High: r.High, Low: r.Low, Close: r.Close, Volume: r.Volume})
	}
	return series, nil
}
