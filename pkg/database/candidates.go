package database

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/arnavshah/relief-dispatch-go/pkg/matching"
	"github.com/arnavshah/relief-dispatch-go/pkg/models"
)

// CandidateRepository reads eligible responders together with their live load.
type CandidateRepository struct{}

type candidateRow struct {
	ID          uint
	Username    string
	Role        models.Role
	SkillsBio   string
	Latitude    *float64
	Longitude   *float64
	ActiveTasks int
}

// EligibleCandidates returns every active staff account with the number of
// requests it currently holds in an active status. The count is aggregated in
// the same query, so called with a transaction handle it reflects exactly the
// state that transaction sees.
func (CandidateRepository) EligibleCandidates(tx *gorm.DB) ([]matching.Candidate, error) {
	var rows []candidateRow
	err := tx.Table("accounts AS a").
		Select("a.id, a.username, a.role, a.skills_bio, a.latitude, a.longitude, COUNT(r.id) AS active_tasks").
		Joins("LEFT JOIN relief_requests AS r ON r.assigned_responder_id = a.id AND r.status IN ?", statusStrings(models.ActiveStatuses)).
		Where("a.is_active = ? AND a.is_staff = ?", true, true).
		Group("a.id, a.username, a.role, a.skills_bio, a.latitude, a.longitude").
		Order("a.id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}

	candidates := make([]matching.Candidate, 0, len(rows))
	for _, row := range rows {
		rank := matching.RoleRankOther
		if row.Role == models.RoleVolunteer {
			rank = matching.RoleRankVolunteer
		}
		candidates = append(candidates, matching.Candidate{
			ResponderID:    row.ID,
			Username:       row.Username,
			RoleRank:       rank,
			ActiveTasks:    row.ActiveTasks,
			CapabilityText: row.SkillsBio,
			Location:       coordinates(row.Latitude, row.Longitude),
		})
	}
	return candidates, nil
}

func statusStrings(statuses []models.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
