// Package alertdb persists generated alerts in SQLite via GORM. Inserts
// are keyed on the deterministic alert ID and ignore conflicts, so a
// redelivered alert lands exactly once no matter how often the archiver
// sees it.
package alertdb

import (
	"context"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/c360/agrostream/errors"
	"github.com/c360/agrostream/telemetry"
)

// alertRecord is the persisted shape of a telemetry.Alert.
type alertRecord struct {
	AlertID      string    `gorm:"column:alert_id;primaryKey"`
	PropertyID   string    `gorm:"column:property_id;index"`
	PlotID       string    `gorm:"column:plot_id;index"`
	Rule         string    `gorm:"column:rule"`
	Severity     string    `gorm:"column:severity"`
	Message      string    `gorm:"column:message"`
	CreatedAtUTC time.Time `gorm:"column:created_at_utc;index"`
}

func (alertRecord) TableName() string {
	return "alerts"
}

func toRecord(a telemetry.Alert) alertRecord {
	return alertRecord{
		AlertID:      a.AlertID,
		PropertyID:   a.PropertyID,
		PlotID:       a.PlotID,
		Rule:         a.Rule,
		Severity:     string(a.Severity),
		Message:      a.Message,
		CreatedAtUTC: a.CreatedAtUTC,
	}
}

func fromRecord(r alertRecord) telemetry.Alert {
	return telemetry.Alert{
		AlertID:      r.AlertID,
		PropertyID:   r.PropertyID,
		PlotID:       r.PlotID,
		Rule:         r.Rule,
		Severity:     telemetry.Severity(r.Severity),
		Message:      r.Message,
		CreatedAtUTC: r.CreatedAtUTC.UTC(),
	}
}

// Store is the alert repository.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the SQLite database at path and migrates the
// alerts table. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Store", "Open",
			"database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.WrapFatal(err, "Store", "Open", "open sqlite database")
	}

	if err := db.AutoMigrate(&alertRecord{}); err != nil {
		return nil, errors.WrapFatal(err, "Store", "Open", "migrate alerts table")
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.WrapTransient(err, "Store", "Close", "get connection pool")
	}
	return sqlDB.Close()
}

// Insert stores an alert. A conflicting alert ID is ignored, making the
// operation safe under redelivery. Returns true when a new row was
// written.
func (s *Store) Insert(ctx context.Context, alert telemetry.Alert) (bool, error) {
	if err := alert.Validate(); err != nil {
		return false, err
	}

	record := toRecord(alert)
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "alert_id"}},
			DoNothing: true,
		}).
		Create(&record)
	if result.Error != nil {
		return false, errors.WrapTransient(result.Error, "Store", "Insert", "insert alert")
	}

	return result.RowsAffected > 0, nil
}

// ListLatest returns up to limit alerts, newest first.
func (s *Store) ListLatest(ctx context.Context, limit int) ([]telemetry.Alert, error) {
	var records []alertRecord
	err := s.db.WithContext(ctx).
		Order("created_at_utc DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "ListLatest", "query alerts")
	}

	return collect(records), nil
}

// ListByPlot returns up to limit alerts for one plot, newest first.
func (s *Store) ListByPlot(ctx context.Context, plotID string, limit int) ([]telemetry.Alert, error) {
	if plotID == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingField, "Store", "ListByPlot",
			"plot id is required")
	}

	var records []alertRecord
	err := s.db.WithContext(ctx).
		Where("plot_id = ?", plotID).
		Order("created_at_utc DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "ListByPlot", "query alerts")
	}

	return collect(records), nil
}

type summaryRow struct {
	PlotID   string
	Severity string
	Count    int64
}

// Summarize counts alerts created since the given cutoff, grouped by
// plot and severity.
func (s *Store) Summarize(ctx context.Context, since time.Time) (map[string]map[string]int64, error) {
	var rows []summaryRow
	err := s.db.WithContext(ctx).
		Model(&alertRecord{}).
		Select("plot_id, severity, COUNT(*) as count").
		Where("created_at_utc >= ?", since).
		Group("plot_id").
		Group("severity").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "Summarize", "aggregate alerts")
	}

	summary := make(map[string]map[string]int64, len(rows))
	for _, row := range rows {
		if summary[row.PlotID] == nil {
			summary[row.PlotID] = make(map[string]int64)
		}
		summary[row.PlotID][row.Severity] = row.Count
	}
	return summary, nil
}

func collect(records []alertRecord) []telemetry.Alert {
	alerts := make([]telemetry.Alert, len(records))
	for i, r := range records {
		alerts[i] = fromRecord(r)
	}
	return alerts
}
