package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/trezcool/engage/core"
	"github.com/trezcool/engage/core/learner"
	"github.com/trezcool/engage/core/risk"
)

type learnerRepository struct {
	db *DB
}

var _ learner.Repository = (*learnerRepository)(nil) // interface compliance check

func NewLearnerRepository(db *DB) learner.Repository {
	return &learnerRepository{db: db}
}

// all returns copies of every learner, oldest first.
func (repo *learnerRepository) all() []learner.Learner {
	learners := make([]learner.Learner, 0, len(repo.db.learners))
	for _, l := range repo.db.learners {
		learners = append(learners, *l)
	}
	sort.Slice(learners, func(i, j int) bool {
		return compareLearners(learners[i], learners[j], core.DBOrdering{Field: "created_at", Ascending: true}) < 0
	})
	return learners
}

func (repo *learnerRepository) emailTaken(email, exclID string) bool {
	for _, l := range repo.db.learners {
		if l.Email == email && l.ID != exclID {
			return true
		}
	}
	return false
}

func (repo *learnerRepository) CreateLearner(_ context.Context, l learner.Learner) (learner.Learner, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.learners[l.ID]; ok {
		return learner.Learner{}, learner.ErrIDExists
	}
	if repo.emailTaken(l.Email, "") {
		return learner.Learner{}, learner.ErrEmailExists
	}
	repo.db.learners[l.ID] = &l
	return l, nil
}

func (repo *learnerRepository) UpdateLearner(_ context.Context, l learner.Learner) (learner.Learner, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.learners[l.ID]
	if !ok {
		return learner.Learner{}, learner.ErrNotFound
	}
	if repo.emailTaken(l.Email, l.ID) {
		return learner.Learner{}, learner.ErrEmailExists
	}
	l.CreatedAt = orig.CreatedAt
	repo.db.learners[l.ID] = &l
	return l, nil
}

func (repo *learnerRepository) DeleteLearner(_ context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.learners[id]; !ok {
		return learner.ErrNotFound
	}
	delete(repo.db.learners, id)

	// cascade
	nudges := repo.db.nudges[:0]
	for _, n := range repo.db.nudges {
		if n.LearnerID != id {
			nudges = append(nudges, n)
		}
	}
	repo.db.nudges = nudges
	return nil
}

func (repo *learnerRepository) GetLearner(_ context.Context, id string) (learner.Learner, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if l, ok := repo.db.learners[id]; ok {
		return *l, nil
	}
	return learner.Learner{}, learner.ErrNotFound
}

func (repo *learnerRepository) GetLearnerByEmail(_ context.Context, email string) (learner.Learner, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, l := range repo.db.learners {
		if l.Email == email {
			return *l, nil
		}
	}
	return learner.Learner{}, learner.ErrNotFound
}

func (repo *learnerRepository) QueryLearners(_ context.Context, filter *learner.QueryFilter, ordering []core.DBOrdering) ([]learner.Learner, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	learners := repo.all()
	if filter == nil {
		filter = learner.NewQueryFilter()
	}

	filtered := learners[:0]
	search := strings.ToLower(filter.Search)
	for _, l := range learners {
		if filter.RiskLabel != "" && string(l.RiskLabel) != filter.RiskLabel {
			continue
		}
		if filter.Program != "" && !strings.EqualFold(l.Program, filter.Program) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(l.Name), search) &&
			!strings.Contains(strings.ToLower(l.Email), search) &&
			!strings.Contains(strings.ToLower(l.Program), search) {
			continue
		}
		filtered = append(filtered, l)
	}

	if len(ordering) > 0 {
		sort.SliceStable(filtered, func(i, j int) bool {
			for _, ord := range ordering {
				if c := compareLearners(filtered[i], filtered[j], ord); c != 0 {
					return c < 0
				}
			}
			return false
		})
	}

	if filter.Offset >= len(filtered) {
		return []learner.Learner{}, nil
	}
	end := len(filtered)
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}
	return filtered[filter.Offset:end], nil
}

func (repo *learnerRepository) AllLearners(_ context.Context) ([]learner.Learner, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()
	return repo.all(), nil
}

func (repo *learnerRepository) UpdateRisks(_ context.Context, scored []risk.Scored, updatedAt time.Time) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, s := range scored {
		if l, ok := repo.db.learners[s.ID]; ok {
			l.RiskScore = s.RiskScore
			l.RiskLabel = s.RiskLabel
			l.UpdatedAt = updatedAt
		}
	}
	return nil
}

func (repo *learnerRepository) SaveNudge(_ context.Context, n learner.Nudge, events ...learner.Event) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.learners[n.LearnerID]; !ok {
		return learner.ErrNotFound
	}
	repo.db.nudges = append(repo.db.nudges, n)
	repo.db.events = append(repo.db.events, events...)
	return nil
}

func (repo *learnerRepository) QueryNudges(_ context.Context, learnerID string) ([]learner.Nudge, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var nudges []learner.Nudge
	for i := len(repo.db.nudges) - 1; i >= 0; i-- {
		if n := repo.db.nudges[i]; n.LearnerID == learnerID {
			nudges = append(nudges, n)
		}
	}
	sort.SliceStable(nudges, func(i, j int) bool { return nudges[i].CreatedAt.After(nudges[j].CreatedAt) })
	return nudges, nil
}

func (repo *learnerRepository) CreateEvent(_ context.Context, ev learner.Event) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	repo.db.events = append(repo.db.events, ev)
	return nil
}

func (repo *learnerRepository) QueryEvents(_ context.Context, learnerID string) ([]learner.Event, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var events []learner.Event
	for i := len(repo.db.events) - 1; i >= 0; i-- {
		if ev := repo.db.events[i]; ev.LearnerID == learnerID {
			events = append(events, ev)
		}
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.After(events[j].Timestamp) })
	return events, nil
}

// compareLearners compares a and b on ord.Field; unknown fields compare equal.
func compareLearners(a, b learner.Learner, ord core.DBOrdering) int {
	var c int
	switch ord.Field {
	case "name":
		c = strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	case "email":
		c = strings.Compare(a.Email, b.Email)
	case "program":
		c = strings.Compare(strings.ToLower(a.Program), strings.ToLower(b.Program))
	case "completed_percent":
		c = compareFloats(a.CompletedPercent, b.CompletedPercent)
	case "avg_quiz_score":
		c = compareFloats(a.AvgQuizScore, b.AvgQuizScore)
	case "consecutive_missed_sessions":
		c = a.ConsecutiveMissedSessions - b.ConsecutiveMissedSessions
	case "risk_score":
		c = compareFloats(a.RiskScore, b.RiskScore)
	case "created_at":
		c = a.CreatedAt.Compare(b.CreatedAt)
		if c == 0 {
			c = strings.Compare(a.ID, b.ID)
		}
	case "updated_at":
		c = a.UpdatedAt.Compare(b.UpdatedAt)
	}
	if !ord.Ascending {
		c = -c
	}
	return c
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
