package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/arnavshah/relief-dispatch-go/pkg/config"
	"github.com/arnavshah/relief-dispatch-go/pkg/logger"
	"github.com/arnavshah/relief-dispatch-go/pkg/models"
)

// ErrRecordNotFound is returned by lookups that match no row.
var ErrRecordNotFound = gorm.ErrRecordNotFound

// Account represents the accounts table: requesters, volunteers and staff.
type Account struct {
	ID           uint        `gorm:"primaryKey" json:"id"`
	Username     string      `gorm:"uniqueIndex;size:150;not null" json:"username"`
	PasswordHash string      `gorm:"not null" json:"-"`
	FullName     string      `gorm:"size:100" json:"full_name"`
	PhoneNumber  string      `gorm:"size:20" json:"phone_number"`
	Role         models.Role `gorm:"size:20;not null" json:"role"`
	IsActive     bool        `gorm:"not null;default:false" json:"is_active"`
	IsStaff      bool        `gorm:"not null;default:false" json:"is_staff"`
	IsSuperuser  bool        `gorm:"not null;default:false" json:"is_superuser"`
	SkillsBio    string      `gorm:"size:500" json:"skills_bio"`
	Latitude     *float64    `json:"latitude,omitempty"`
	Longitude    *float64    `json:"longitude,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Operator returns the identity and privilege flags of the account.
func (a Account) Operator() models.Operator {
	return models.Operator{
		ID:          a.ID,
		Username:    a.Username,
		IsActive:    a.IsActive,
		IsStaff:     a.IsStaff,
		IsSuperuser: a.IsSuperuser,
	}
}

// Location returns the responder's coordinates, or nil until both are set.
func (a Account) Location() *models.Coordinates {
	return coordinates(a.Latitude, a.Longitude)
}

// ReliefRequest represents the relief_requests table.
type ReliefRequest struct {
	ID                  uint               `gorm:"primaryKey"`
	RequesterID         uint               `gorm:"index;not null"`
	RequestType         models.RequestType `gorm:"size:50;not null"`
	Description         string             `gorm:"not null"`
	Latitude            float64            `gorm:"not null"`
	Longitude           float64            `gorm:"not null"`
	Status              models.Status      `gorm:"size:20;index;not null;default:PENDING"`
	AssignedResponderID *uint              `gorm:"index"`
	CreatedAt           time.Time          `gorm:"index"`
	UpdatedAt           time.Time
}

// View converts the row to its API representation.
func (r ReliefRequest) View() models.ReliefRequestView {
	return models.ReliefRequestView{
		ID:                  r.ID,
		RequesterID:         r.RequesterID,
		RequestType:         r.RequestType,
		Description:         r.Description,
		Location:            models.Coordinates{Lat: r.Latitude, Lon: r.Longitude},
		Status:              r.Status,
		AssignedResponderID: r.AssignedResponderID,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

// Consistent reports whether the row satisfies the responder invariant:
// a responder is set exactly when the status holds one.
func (r ReliefRequest) Consistent() bool {
	return (r.AssignedResponderID != nil) == r.Status.HoldsResponder()
}

// AlertRecord represents the alerts table used by the SQL alert board.
type AlertRecord struct {
	ID        string          `gorm:"primaryKey;size:36"`
	Severity  models.Severity `gorm:"size:10;not null"`
	Message   string          `gorm:"size:500;not null"`
	IsActive  bool            `gorm:"index;not null"`
	PostedBy  string          `gorm:"size:150"`
	Timestamp time.Time       `gorm:"index"`
}

// TableName keeps the table name short.
func (AlertRecord) TableName() string {
	return "alerts"
}

// DailyStat represents the daily_stats table: per operator and day, how their
// assignment attempts turned out.
type DailyStat struct {
	ID              uint   `gorm:"primaryKey" json:"id"`
	OperatorID      uint   `gorm:"uniqueIndex:idx_operator_date;not null" json:"operator_id"`
	Date            string `gorm:"uniqueIndex:idx_operator_date;size:10;not null" json:"date"`
	AutoAssigned    int    `gorm:"default:0" json:"auto_assigned"`
	SelfAssigned    int    `gorm:"default:0" json:"self_assigned"`
	NoCandidate     int    `gorm:"default:0" json:"no_candidate"`
	AlreadyAssigned int    `gorm:"default:0" json:"already_assigned"`
}

// Open connects to Postgres when a DSN is configured and to SQLite otherwise,
// then migrates the schema.
func Open(cfg config.DatabaseConfig, log logger.Logger) (*gorm.DB, error) {
	if log == nil {
		log = logger.NopLogger{}
	}
	gormCfg := &gorm.Config{
		Logger: gormlogger.New(logger.Printf{Logger: log}, gormlogger.Config{
			SlowThreshold:             time.Duration(cfg.SlowQueryMS) * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	}

	var db *gorm.DB
	var err error
	if cfg.DSN != "" {
		db, err = gorm.Open(postgres.New(postgres.Config{
			DSN:                  cfg.DSN,
			PreferSimpleProtocol: true,
		}), gormCfg)
	} else {
		db, err = gorm.Open(sqlite.Open(sqliteDSN(cfg.Path)), gormCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if cfg.DSN == "" {
		// SQLite allows one writer; a single connection turns lock contention
		// into queueing instead of SQLITE_BUSY errors.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Account{}, &ReliefRequest{}, &AlertRecord{}, &DailyStat{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func sqliteDSN(path string) string {
	return path + "?_busy_timeout=5000&_foreign_keys=on"
}

func coordinates(lat, lon *float64) *models.Coordinates {
	if lat == nil || lon == nil {
		return nil
	}
	return &models.Coordinates{Lat: *lat, Lon: *lon}
}
