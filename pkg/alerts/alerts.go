// Package alerts is the operational notice board shown on dashboards and the
// public landing page.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arnavshah/relief-dispatch-go/pkg/config"
	"github.com/arnavshah/relief-dispatch-go/pkg/database"
	"github.com/arnavshah/relief-dispatch-go/pkg/models"
)

// DefaultLimit caps Active when no limit is given.
const DefaultLimit = 50

// Store keeps alerts.
type Store interface {
	// Post stores a new active alert.
	Post(ctx context.Context, in models.PostAlertInput, postedBy string) (models.Alert, error)
	// Active returns active alerts, newest first.
	Active(ctx context.Context, limit int) ([]models.Alert, error)
	// LatestCritical returns the newest active Critical alert, or nil.
	LatestCritical(ctx context.Context) (*models.Alert, error)
}

// Open builds the store selected by cfg. The returned close function releases
// any connection the store opened itself.
func Open(ctx context.Context, cfg config.AlertsConfig, db *gorm.DB) (Store, func(context.Context) error, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "sql":
		return &SQLStore{DB: db}, func(context.Context) error { return nil }, nil
	case "mongo":
		s, err := NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown alerts backend %q", cfg.Backend)
}

func newAlert(in models.PostAlertInput, postedBy string, now time.Time) (models.Alert, error) {
	msg := strings.TrimSpace(in.Message)
	if msg == "" {
		return models.Alert{}, errors.New("alert message is empty")
	}
	valid := false
	for _, s := range models.Severities {
		if in.Severity == s {
			valid = true
			break
		}
	}
	if !valid {
		return models.Alert{}, fmt.Errorf("unknown severity %q", in.Severity)
	}
	return models.Alert{
		ID:        uuid.NewString(),
		Severity:  in.Severity,
		Message:   msg,
		IsActive:  true,
		PostedBy:  postedBy,
		Timestamp: now.UTC().Truncate(time.Millisecond),
	}, nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}

// SQLStore keeps alerts in the relational database.
type SQLStore struct {
	DB *gorm.DB
}

func (s *SQLStore) Post(ctx context.Context, in models.PostAlertInput, postedBy string) (models.Alert, error) {
	a, err := newAlert(in, postedBy, time.Now())
	if err != nil {
		return models.Alert{}, err
	}
	rec := database.AlertRecord{
		ID:        a.ID,
		Severity:  a.Severity,
		Message:   a.Message,
		IsActive:  a.IsActive,
		PostedBy:  a.PostedBy,
		Timestamp: a.Timestamp,
	}
	if err := s.DB.WithContext(ctx).Create(&rec).Error; err != nil {
		return models.Alert{}, err
	}
	return a, nil
}

func (s *SQLStore) Active(ctx context.Context, limit int) ([]models.Alert, error) {
	var recs []database.AlertRecord
	err := s.DB.WithContext(ctx).
		Where("is_active = ?", true).
		Order("timestamp desc").
		Limit(limitOrDefault(limit)).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]models.Alert, 0, len(recs))
	for _, r := range recs {
		out = append(out, fromRecord(r))
	}
	return out, nil
}

func (s *SQLStore) LatestCritical(ctx context.Context) (*models.Alert, error) {
	var rec database.AlertRecord
	err := s.DB.WithContext(ctx).
		Where("is_active = ? AND severity = ?", true, models.SeverityCritical).
		Order("timestamp desc").
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a := fromRecord(rec)
	return &a, nil
}

func fromRecord(r database.AlertRecord) models.Alert {
	return models.Alert{
		ID:        r.ID,
		Severity:  r.Severity,
		Message:   r.Message,
		IsActive:  r.IsActive,
		PostedBy:  r.PostedBy,
		Timestamp: r.Timestamp,
	}
}
