package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Stat columns of daily_stats.
const (
	StatAutoAssigned    = "auto_assigned"
	StatSelfAssigned    = "self_assigned"
	StatNoCandidate     = "no_candidate"
	StatAlreadyAssigned = "already_assigned"
)

// StatsStore keeps per-operator daily counters of assignment attempts.
type StatsStore struct {
	DB *gorm.DB
}

// Record bumps one counter for operatorID on the day of at using a single
// upsert (supported by both Postgres and SQLite).
func (s *StatsStore) Record(ctx context.Context, operatorID uint, column string, at time.Time) error {
	row := DailyStat{OperatorID: operatorID, Date: at.UTC().Format("2006-01-02")}
	switch column {
	case StatAutoAssigned:
		row.AutoAssigned = 1
	case StatSelfAssigned:
		row.SelfAssigned = 1
	case StatNoCandidate:
		row.NoCandidate = 1
	case StatAlreadyAssigned:
		row.AlreadyAssigned = 1
	default:
		return fmt.Errorf("unknown stat %q", column)
	}

	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "operator_id"}, {Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			column: gorm.Expr(column+" + ?", 1),
		}),
	}).Create(&row).Error
}

// Recent returns the last 30 days of counters for operatorID, newest first.
func (s *StatsStore) Recent(ctx context.Context, operatorID uint) ([]DailyStat, error) {
	var out []DailyStat
	err := s.DB.WithContext(ctx).Where("operator_id = ?", operatorID).Order("date desc").Limit(30).Find(&out).Error
	return out, err
}
