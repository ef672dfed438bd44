// Package assignment moves relief requests from PENDING to ASSIGNED exactly
// once, however many operators trigger it at the same time.
//
// Every mutation of a request's status or responder runs while holding the
// per-request lock and inside one database transaction that re-reads the row
// after the lock is taken. Responder load is recomputed inside that same
// transaction on every attempt.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/arnavshah/relief-dispatch-go/pkg/database"
	"github.com/arnavshah/relief-dispatch-go/pkg/events"
	"github.com/arnavshah/relief-dispatch-go/pkg/logger"
	"github.com/arnavshah/relief-dispatch-go/pkg/matching"
	"github.com/arnavshah/relief-dispatch-go/pkg/metrics"
	"github.com/arnavshah/relief-dispatch-go/pkg/models"
)

// CandidateSource yields eligible responders as seen by tx.
type CandidateSource interface {
	EligibleCandidates(tx *gorm.DB) ([]matching.Candidate, error)
}

// StatsRecorder counts attempts per operator and day.
type StatsRecorder interface {
	Record(ctx context.Context, operatorID uint, column string, at time.Time) error
}

// Options carries the coordinator's optional collaborators.
type Options struct {
	Events  events.Publisher
	Metrics metrics.Recorder
	Stats   StatsRecorder
	Logger  logger.Logger
	// LockTimeout bounds the wait for a busy request; zero waits as long as ctx allows.
	LockTimeout time.Duration
	// EventTimeout bounds event delivery after commit.
	EventTimeout time.Duration
	Now          func() time.Time
}

// Coordinator is the only writer of request status and assigned responder.
type Coordinator struct {
	db           *gorm.DB
	candidates   CandidateSource
	locks        *KeyedMutex
	events       events.Publisher
	metrics      metrics.Recorder
	stats        StatsRecorder
	log          logger.Logger
	lockTimeout  time.Duration
	eventTimeout time.Duration
	now          func() time.Time
}

// NewCoordinator wires a coordinator over db.
func NewCoordinator(db *gorm.DB, candidates CandidateSource, opts Options) *Coordinator {
	c := &Coordinator{
		db:           db,
		candidates:   candidates,
		locks:        NewKeyedMutex(),
		events:       opts.Events,
		metrics:      opts.Metrics,
		stats:        opts.Stats,
		log:          opts.Logger,
		lockTimeout:  opts.LockTimeout,
		eventTimeout: opts.EventTimeout,
		now:          opts.Now,
	}
	if c.events == nil {
		c.events = events.NopPublisher{}
	}
	if c.metrics == nil {
		c.metrics = metrics.NopRecorder{}
	}
	if c.log == nil {
		c.log = logger.NopLogger{}
	}
	if c.eventTimeout == 0 {
		c.eventTimeout = 5 * time.Second
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// AutoAssign picks the best responder for a PENDING request and assigns it.
// Concurrent calls on the same request are serialized; exactly one of them
// can observe PENDING and succeed, the others report KindAlreadyAssigned.
// The returned error is reserved for infrastructure failures.
func (c *Coordinator) AutoAssign(ctx context.Context, actor models.Operator, requestID uint, maxActiveTasks int) (Outcome, error) {
	start := time.Now()
	if !actor.CanAssign() {
		out := Outcome{Kind: KindUnauthorized, RequestID: requestID}
		c.finish(ctx, actor, events.ModeAuto, out, nil, start)
		return out, nil
	}

	var out Outcome
	var req database.ReliefRequest
	err := c.withRequestLock(ctx, requestID, func(tx *gorm.DB) error {
		found, err := lockRequest(tx, requestID, &req)
		if err != nil || !found {
			out = Outcome{Kind: KindNotFound, RequestID: requestID}
			return err
		}
		if req.Status != models.StatusPending {
			out = alreadyAssigned(req)
			return nil
		}

		candidates, err := c.candidates.EligibleCandidates(tx)
		if err != nil {
			return err
		}
		c.metrics.SetEligibleResponders(len(candidates))

		target := matching.Target{
			Type:     req.RequestType,
			Location: models.Coordinates{Lat: req.Latitude, Lon: req.Longitude},
		}
		sel, ok := matching.Select(target, candidates, maxActiveTasks)
		if !ok {
			out = Outcome{Kind: KindNoCandidate, RequestID: requestID, Status: req.Status}
			return nil
		}
		out, err = c.claim(tx, &req, sel.ResponderID)
		out.OverCapacity = sel.OverCapacity && out.Kind == KindAssigned
		if err == nil && out.Kind == KindAssigned {
			c.log.Debugw("responder selected", map[string]any{
				"request_id":    requestID,
				"responder_id":  sel.ResponderID,
				"skill_match":   sel.SkillMatch,
				"active_tasks":  sel.ActiveTasks,
				"distance_km":   sel.DistanceKM,
				"reason":        sel.Reason,
				"over_capacity": sel.OverCapacity,
			})
		}
		return err
	})
	if err != nil {
		c.metrics.ObserveAssignment("error", time.Since(start))
		return Outcome{}, fmt.Errorf("auto-assign request %d: %w", requestID, err)
	}
	c.finish(ctx, actor, events.ModeAuto, out, &req, start)
	return out, nil
}

// SelfAssign gives a PENDING request to the acting operator without ranking.
// It obeys the same precondition and per-request exclusivity as AutoAssign.
func (c *Coordinator) SelfAssign(ctx context.Context, actor models.Operator, requestID uint) (Outcome, error) {
	start := time.Now()
	if !actor.CanAssign() {
		out := Outcome{Kind: KindUnauthorized, RequestID: requestID}
		c.finish(ctx, actor, events.ModeSelf, out, nil, start)
		return out, nil
	}

	var out Outcome
	var req database.ReliefRequest
	err := c.withRequestLock(ctx, requestID, func(tx *gorm.DB) error {
		found, err := lockRequest(tx, requestID, &req)
		if err != nil || !found {
			out = Outcome{Kind: KindNotFound, RequestID: requestID}
			return err
		}
		if req.Status != models.StatusPending {
			out = alreadyAssigned(req)
			return nil
		}
		out, err = c.claim(tx, &req, actor.ID)
		return err
	})
	if err != nil {
		c.metrics.ObserveAssignment("error", time.Since(start))
		return Outcome{}, fmt.Errorf("self-assign request %d: %w", requestID, err)
	}
	c.finish(ctx, actor, events.ModeSelf, out, &req, start)
	return out, nil
}

// UpdateStatus is the manual status editor. It follows the lifecycle graph,
// may reopen an active request back to PENDING, and keeps the responder
// invariant: CANCELLED and PENDING clear the responder, and ASSIGNED can only
// be reached through AutoAssign or SelfAssign.
func (c *Coordinator) UpdateStatus(ctx context.Context, actor models.Operator, requestID uint, to models.Status) (Outcome, error) {
	start := time.Now()
	if !actor.CanAssign() {
		out := Outcome{Kind: KindUnauthorized, RequestID: requestID}
		c.finish(ctx, actor, events.ModeStatus, out, nil, start)
		return out, nil
	}

	var out Outcome
	var req database.ReliefRequest
	err := c.withRequestLock(ctx, requestID, func(tx *gorm.DB) error {
		found, err := lockRequest(tx, requestID, &req)
		if err != nil || !found {
			out = Outcome{Kind: KindNotFound, RequestID: requestID}
			return err
		}
		from := req.Status
		if from == to {
			out = outcomeOf(KindUnchanged, req)
			return nil
		}
		var prev uint
		if req.AssignedResponderID != nil {
			prev = *req.AssignedResponderID
		}

		updates := map[string]interface{}{"status": string(to), "updated_at": c.now()}
		switch {
		case to == models.StatusPending && models.CanReopen(from):
			updates["assigned_responder_id"] = nil
		case to == models.StatusAssigned, !models.CanTransition(from, to):
			out = Outcome{Kind: KindInvalidTransition, RequestID: requestID, Status: from}
			return nil
		case to == models.StatusCancelled:
			updates["assigned_responder_id"] = nil
		}

		res := tx.Model(&database.ReliefRequest{}).
			Where("id = ? AND status = ?", requestID, string(from)).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return c.reload(tx, &req, &out, KindInvalidTransition)
		}
		if err := tx.Take(&req, requestID).Error; err != nil {
			return err
		}
		out = outcomeOf(KindUpdated, req)
		if out.ResponderID == 0 {
			out.PreviousResponderID = prev
		}
		return nil
	})
	if err != nil {
		c.metrics.ObserveAssignment("error", time.Since(start))
		return Outcome{}, fmt.Errorf("update status of request %d: %w", requestID, err)
	}
	c.finish(ctx, actor, events.ModeStatus, out, &req, start)
	return out, nil
}

// withRequestLock runs fn in a transaction while holding the lock for id.
// The lock is released on every return path, panics included.
func (c *Coordinator) withRequestLock(ctx context.Context, id uint, fn func(tx *gorm.DB) error) error {
	lockCtx := ctx
	if c.lockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, c.lockTimeout)
		defer cancel()
	}
	unlock, err := c.locks.Lock(lockCtx, id)
	if err != nil {
		return fmt.Errorf("wait for request lock: %w", err)
	}
	defer unlock()

	return c.db.WithContext(ctx).Transaction(fn)
}

// claim writes responderID and ASSIGNED onto a request still PENDING.
func (c *Coordinator) claim(tx *gorm.DB, req *database.ReliefRequest, responderID uint) (Outcome, error) {
	now := c.now()
	res := tx.Model(&database.ReliefRequest{}).
		Where("id = ? AND status = ?", req.ID, string(models.StatusPending)).
		Updates(map[string]interface{}{
			"assigned_responder_id": responderID,
			"status":                string(models.StatusAssigned),
			"updated_at":            now,
		})
	if res.Error != nil {
		return Outcome{}, res.Error
	}
	var out Outcome
	if res.RowsAffected != 1 {
		// another process changed the row between read and write
		err := c.reload(tx, req, &out, KindAlreadyAssigned)
		return out, err
	}
	req.Status = models.StatusAssigned
	req.AssignedResponderID = &responderID
	req.UpdatedAt = now
	return outcomeOf(KindAssigned, *req), nil
}

func (c *Coordinator) reload(tx *gorm.DB, req *database.ReliefRequest, out *Outcome, kind Kind) error {
	if err := tx.Take(req, req.ID).Error; err != nil {
		return err
	}
	*out = outcomeOf(kind, *req)
	return nil
}

// finish records metrics, stats and events for a completed attempt and logs it.
// None of these can undo the committed change.
func (c *Coordinator) finish(ctx context.Context, actor models.Operator, mode string, out Outcome, req *database.ReliefRequest, start time.Time) {
	label := out.Kind.String()
	if out.OverCapacity {
		label += "_over_capacity"
	}
	c.metrics.ObserveAssignment(label, time.Since(start))

	fields := map[string]any{
		"request_id":  out.RequestID,
		"operator_id": actor.ID,
		"mode":        mode,
		"outcome":     out.Kind.String(),
		"status":      out.Status,
	}
	if out.ResponderID != 0 {
		fields["responder_id"] = out.ResponderID
	}
	if out.OverCapacity {
		fields["over_capacity"] = true
	}
	c.log.Infow("assignment attempt", fields)

	if c.stats != nil {
		if column := statColumn(mode, out.Kind); column != "" {
			if err := c.stats.Record(ctx, actor.ID, column, c.now()); err != nil {
				c.log.Warnf("record stats for operator %d: %v", actor.ID, err)
			}
		}
	}

	if out.Succeeded() && req != nil {
		ev := events.AssignmentEvent{
			RequestID:           req.ID,
			ResponderID:         out.ResponderID,
			PreviousResponderID: out.PreviousResponderID,
			OperatorID:          actor.ID,
			RequestType:         req.RequestType,
			Status:              out.Status,
			Mode:                mode,
			OverCapacity:        out.OverCapacity,
			Location:            models.Coordinates{Lat: req.Latitude, Lon: req.Longitude},
			At:                  req.UpdatedAt,
		}
		if ev.Recipient() == 0 {
			// nobody held the request, so no responder topic to notify
			return
		}
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.eventTimeout)
		defer cancel()
		if err := c.events.PublishAssignment(pubCtx, ev); err != nil {
			c.log.Errorf("publish assignment event for request %d: %v", req.ID, err)
		}
	}
}

func lockRequest(tx *gorm.DB, id uint, req *database.ReliefRequest) (bool, error) {
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func alreadyAssigned(req database.ReliefRequest) Outcome {
	return outcomeOf(KindAlreadyAssigned, req)
}

func outcomeOf(kind Kind, req database.ReliefRequest) Outcome {
	out := Outcome{Kind: kind, RequestID: req.ID, Status: req.Status}
	if req.AssignedResponderID != nil {
		out.ResponderID = *req.AssignedResponderID
	}
	return out
}

func statColumn(mode string, kind Kind) string {
	switch kind {
	case KindAssigned:
		if mode == events.ModeSelf {
			return database.StatSelfAssigned
		}
		return database.StatAutoAssigned
	case KindNoCandidate:
		return database.StatNoCandidate
	case KindAlreadyAssigned:
		return database.StatAlreadyAssigned
	}
	return ""
}
