// Package matching ranks responders for a single relief request.
//
// Ranking is a pure computation over a candidate snapshot: the same target and
// candidates always produce the same order.
package matching

import (
	"sort"
	"strings"

	"github.com/arnavshah/relief-dispatch-go/pkg/geo"
	"github.com/arnavshah/relief-dispatch-go/pkg/models"
)

// DefaultMaxActiveTasks is the capacity threshold used when none is given
const DefaultMaxActiveTasks = 1

// UnknownDistancePenaltyKM stands in for the distance of a candidate without a
// location. It is far above any great-circle distance on Earth.
const UnknownDistancePenaltyKM = 1_000_000.0

// Role ranks; lower is preferred
const (
	RoleRankVolunteer = 0
	RoleRankOther     = 1
)

// Target is the part of a relief request the ranking looks at
type Target struct {
	Type     models.RequestType
	Location models.Coordinates
}

// Candidate is an eligible responder as seen at selection time
type Candidate struct {
	ResponderID    uint                `json:"responder_id"`
	Username       string              `json:"username"`
	RoleRank       int                 `json:"role_rank"`
	ActiveTasks    int                 `json:"active_tasks"`
	CapabilityText string              `json:"-"`
	Location       *models.Coordinates `json:"location,omitempty"`
}

// Ranked is a candidate together with the criteria it was ordered by
type Ranked struct {
	Candidate
	SkillMatch    bool    `json:"skill_match"`
	DistanceKM    float64 `json:"distance_km"`
	DistanceKnown bool    `json:"distance_known"`
}

// Selection is the outcome of picking one responder from a ranking
type Selection struct {
	Ranked
	// OverCapacity is set when every candidate was at or above the threshold
	// and the top-ranked one was chosen anyway.
	OverCapacity bool   `json:"over_capacity"`
	Reason       string `json:"reason"`
}

// SkillMatch reports whether the request type keyword occurs in the capability
// text, ignoring case. Empty text never matches.
func SkillMatch(t models.RequestType, capability string) bool {
	if capability == "" || t == "" {
		return false
	}
	return strings.Contains(strings.ToLower(capability), t.Keyword())
}

// Rank scores every candidate against target and returns them best first.
// The input slice is left untouched.
func Rank(target Target, candidates []Candidate) []Ranked {
	ranked := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		r := Ranked{Candidate: c, SkillMatch: SkillMatch(target.Type, c.CapabilityText)}
		loc := target.Location
		if d, ok := geo.Distance(&loc, c.Location); ok {
			r.DistanceKM = d
			r.DistanceKnown = true
		} else {
			r.DistanceKM = UnknownDistancePenaltyKM
		}
		ranked = append(ranked, r)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return less(ranked[i], ranked[j])
	})
	return ranked
}

// less orders by skill match, role rank, active tasks, distance, then id.
func less(a, b Ranked) bool {
	if a.SkillMatch != b.SkillMatch {
		return a.SkillMatch
	}
	if a.RoleRank != b.RoleRank {
		return a.RoleRank < b.RoleRank
	}
	if a.ActiveTasks != b.ActiveTasks {
		return a.ActiveTasks < b.ActiveTasks
	}
	if a.DistanceKM != b.DistanceKM {
		return a.DistanceKM < b.DistanceKM
	}
	return a.ResponderID < b.ResponderID
}

// Select ranks the candidates and returns the first one under maxActiveTasks.
// When nobody is under capacity the top-ranked candidate is returned with
// OverCapacity set. It returns false only when candidates is empty.
func Select(target Target, candidates []Candidate, maxActiveTasks int) (Selection, bool) {
	return Pick(Rank(target, candidates), maxActiveTasks)
}

// Pick applies the capacity policy of Select to an already ranked slice.
func Pick(ranked []Ranked, maxActiveTasks int) (Selection, bool) {
	if len(ranked) == 0 {
		return Selection{}, false
	}
	if maxActiveTasks < 1 {
		maxActiveTasks = DefaultMaxActiveTasks
	}

	for _, r := range ranked {
		if r.ActiveTasks < maxActiveTasks {
			return Selection{Ranked: r, Reason: "best-ranked-under-capacity"}, true
		}
	}
	return Selection{Ranked: ranked[0], OverCapacity: true, Reason: "fallback-all-at-capacity"}, true
}
