// Package testutil builds throwaway databases and fixtures for tests.
package testutil

import (
	"path/filepath"
	"testing"

	"gorm.io/gorm"

	"github.com/arnavshah/relief-dispatch-go/pkg/config"
	"github.com/arnavshah/relief-dispatch-go/pkg/database"
	"github.com/arnavshah/relief-dispatch-go/pkg/models"
)

// SetupTestDB opens a fresh file-backed SQLite database with the full schema.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "relief_test.db"),
		SlowQueryMS: 1000,
	}, nil)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// ResponderOpts describes a responder fixture.
type ResponderOpts struct {
	Username  string
	Volunteer bool
	Inactive  bool
	NotStaff  bool
	Skills    string
	Location  *models.Coordinates
}

// CreateResponder inserts an account and returns it.
func CreateResponder(t *testing.T, db *gorm.DB, o ResponderOpts) database.Account {
	t.Helper()

	acc := database.Account{
		Username:     o.Username,
		PasswordHash: "x",
		Role:         models.RoleVictim,
		IsActive:     !o.Inactive,
		IsStaff:      !o.NotStaff,
		SkillsBio:    o.Skills,
	}
	if o.Volunteer {
		acc.Role = models.RoleVolunteer
	}
	if o.Location != nil {
		lat, lon := o.Location.Lat, o.Location.Lon
		acc.Latitude, acc.Longitude = &lat, &lon
	}
	if err := db.Create(&acc).Error; err != nil {
		t.Fatalf("Failed to create responder %s: %v", o.Username, err)
	}
	// gorm skips zero values that carry a default tag, so write the flags explicitly.
	if err := db.Model(&acc).Updates(map[string]interface{}{"is_active": acc.IsActive, "is_staff": acc.IsStaff}).Error; err != nil {
		t.Fatalf("Failed to set responder flags: %v", err)
	}
	return acc
}

// CreateRequest inserts a relief request in the given state.
func CreateRequest(t *testing.T, db *gorm.DB, rt models.RequestType, status models.Status, responderID *uint) database.ReliefRequest {
	t.Helper()

	req := database.ReliefRequest{
		RequesterID:         1,
		RequestType:         rt,
		Description:         "help needed",
		Latitude:            0,
		Longitude:           0,
		Status:              status,
		AssignedResponderID: responderID,
	}
	if err := db.Create(&req).Error; err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	return req
}

// LoadRequest re-reads a request row.
func LoadRequest(t *testing.T, db *gorm.DB, id uint) database.ReliefRequest {
	t.Helper()

	var req database.ReliefRequest
	if err := db.First(&req, id).Error; err != nil {
		t.Fatalf("Failed to load request %d: %v", id, err)
	}
	return req
}

// Staff returns an operator allowed to assign.
func Staff(id uint) models.Operator {
	return models.Operator{ID: id, Username: "operator", IsActive: true, IsStaff: true}
}
