package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/arnavshah/relief-dispatch-go/pkg/models"
)

// RequestStore reads and creates relief requests. Status and responder
// changes go through the assignment coordinator, never through this store.
type RequestStore struct {
	DB *gorm.DB
}

// RequestFilter narrows the staff request list.
type RequestFilter struct {
	// Statuses limits the list; empty means every status except COMPLETED.
	Statuses []models.Status
	Limit    int
}

// Create stores a new PENDING request for requesterID.
func (s *RequestStore) Create(ctx context.Context, requesterID uint, t models.RequestType, description string, loc models.Coordinates) (*ReliefRequest, error) {
	req := &ReliefRequest{
		RequesterID: requesterID,
		RequestType: t,
		Description: description,
		Latitude:    loc.Lat,
		Longitude:   loc.Lon,
		Status:      models.StatusPending,
	}
	if err := s.DB.WithContext(ctx).Create(req).Error; err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

// Get loads one request by id.
func (s *RequestStore) Get(ctx context.Context, id uint) (*ReliefRequest, error) {
	var req ReliefRequest
	if err := s.DB.WithContext(ctx).First(&req, id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

// List returns requests for the staff dashboard, oldest first.
func (s *RequestStore) List(ctx context.Context, f RequestFilter) ([]ReliefRequest, error) {
	q := s.DB.WithContext(ctx).Model(&ReliefRequest{})
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", statusStrings(f.Statuses))
	} else {
		q = q.Where("status <> ?", string(models.StatusCompleted))
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []ReliefRequest
	if err := q.Order("created_at asc").Order("id asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return out, nil
}

// ListByRequester returns one requester's own requests, newest first.
func (s *RequestStore) ListByRequester(ctx context.Context, requesterID uint) ([]ReliefRequest, error) {
	var out []ReliefRequest
	err := s.DB.WithContext(ctx).
		Where("requester_id = ?", requesterID).
		Order("created_at desc").Order("id desc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list own requests: %w", err)
	}
	return out, nil
}
