package assignment

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/arnavshah/relief-dispatch-go/pkg/database"
	"github.com/arnavshah/relief-dispatch-go/pkg/matching"
	"github.com/arnavshah/relief-dispatch-go/pkg/models"
)

// Preview is the ranking an auto-assign would use right now.
type Preview struct {
	Request   models.ReliefRequestView `json:"request"`
	Ranked    []matching.Ranked        `json:"candidates"`
	Selection *matching.Selection      `json:"selection,omitempty"`
}

// Preview ranks candidates for a request without taking the lock or writing
// anything. The result can be stale by the time it is returned.
func (c *Coordinator) Preview(ctx context.Context, requestID uint, maxActiveTasks int) (*Preview, error) {
	db := c.db.WithContext(ctx)

	var req database.ReliefRequest
	if err := db.Take(&req, requestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("request %d: %w", requestID, ErrNotFound)
		}
		return nil, err
	}

	candidates, err := c.candidates.EligibleCandidates(db)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}

	target := matching.Target{
		Type:     req.RequestType,
		Location: models.Coordinates{Lat: req.Latitude, Lon: req.Longitude},
	}
	p := &Preview{Request: req.View(), Ranked: matching.Rank(target, candidates)}
	if sel, ok := matching.Pick(p.Ranked, maxActiveTasks); ok {
		p.Selection = &sel
	}
	return p, nil
}

// Load reports each eligible responder's active task count and how evenly
// work is spread across them.
func (c *Coordinator) Load(ctx context.Context) (models.LoadReport, error) {
	candidates, err := c.candidates.EligibleCandidates(c.db.WithContext(ctx))
	if err != nil {
		return models.LoadReport{}, fmt.Errorf("load candidates: %w", err)
	}
	c.metrics.SetEligibleResponders(len(candidates))

	report := models.LoadReport{
		Responders:    make([]models.ResponderLoad, 0, len(candidates)),
		FairnessScore: matching.LoadFairness(candidates),
	}
	for _, cand := range candidates {
		report.Responders = append(report.Responders, models.ResponderLoad{
			ID:          cand.ResponderID,
			Username:    cand.Username,
			Volunteer:   cand.RoleRank == matching.RoleRankVolunteer,
			ActiveTasks: cand.ActiveTasks,
			Location:    cand.Location,
		})
	}
	return report, nil
}
