package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/engage/core"
	"github.com/trezcool/engage/core/learner"
	"github.com/trezcool/engage/core/risk"
)

const (
	learnersTable = "learners"
	nudgesTable   = "nudges"
	eventsTable   = "events"

	uniqueViolation = "23505"
	learnersPKey    = "learners_pkey"
)

var (
	psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

	learnerColumns = []string{
		"id", "name", "email", "phone", "program", "last_login",
		"completed_percent", "avg_quiz_score", "consecutive_missed_sessions",
		"risk_score", "risk_label", "created_at", "updated_at",
	}
	nudgeColumns = []string{
		"id", "learner_id", "channel", "type", "content",
		"gpt_prompt_version", "gpt_fallback", "status", "created_at",
	}
	eventColumns = []string{"id", "learner_id", "type", "metadata", "timestamp"}
)

type learnerRepository struct {
	db *sqlx.DB
}

var _ learner.Repository = (*learnerRepository)(nil) // interface compliance check

func NewLearnerRepository(db *sqlx.DB) learner.Repository {
	return &learnerRepository{db: db}
}

// trapNoRowsErr maps psql "no rows" err to learner.ErrNotFound
func trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return learner.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

// trapUniqueErr maps psql unique violations to learner.ErrIDExists or learner.ErrEmailExists
func trapUniqueErr(err error, msg string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		if pqErr.Constraint == learnersPKey {
			return learner.ErrIDExists
		}
		return learner.ErrEmailExists
	}
	return errors.Wrap(err, msg)
}

func learnerValues(l learner.Learner) []interface{} {
	return []interface{}{
		l.ID, l.Name, l.Email, l.Phone, l.Program, l.LastLogin,
		l.CompletedPercent, l.AvgQuizScore, l.ConsecutiveMissedSessions,
		l.RiskScore, string(l.RiskLabel), l.CreatedAt.UTC(), l.UpdatedAt.UTC(),
	}
}

func (repo *learnerRepository) CreateLearner(ctx context.Context, l learner.Learner) (learner.Learner, error) {
	q, args, err := psql.Insert(learnersTable).Columns(learnerColumns...).Values(learnerValues(l)...).ToSql()
	if err != nil {
		return learner.Learner{}, errors.Wrap(err, "building query")
	}
	if _, err = repo.db.ExecContext(ctx, q, args...); err != nil {
		return learner.Learner{}, trapUniqueErr(err, "inserting learner")
	}
	return l, nil
}

func (repo *learnerRepository) UpdateLearner(ctx context.Context, l learner.Learner) (learner.Learner, error) {
	q, args, err := psql.Update(learnersTable).
		SetMap(map[string]interface{}{
			"name":                        l.Name,
			"email":                       l.Email,
			"phone":                       l.Phone,
			"program":                     l.Program,
			"last_login":                  l.LastLogin,
			"completed_percent":           l.CompletedPercent,
			"avg_quiz_score":              l.AvgQuizScore,
			"consecutive_missed_sessions": l.ConsecutiveMissedSessions,
			"risk_score":                  l.RiskScore,
			"risk_label":                  string(l.RiskLabel),
			"updated_at":                  l.UpdatedAt.UTC(),
		}).
		Where(sq.Eq{"id": l.ID}).
		Suffix("RETURNING " + strings.Join(learnerColumns, ", ")).
		ToSql()
	if err != nil {
		return learner.Learner{}, errors.Wrap(err, "building query")
	}

	var updated learner.Learner
	if err = repo.db.GetContext(ctx, &updated, q, args...); err != nil {
		if err == sql.ErrNoRows {
			return learner.Learner{}, learner.ErrNotFound
		}
		return learner.Learner{}, trapUniqueErr(err, "updating learner")
	}
	return updated, nil
}

func (repo *learnerRepository) DeleteLearner(ctx context.Context, id string) error {
	q, args, err := psql.Delete(learnersTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	res, err := repo.db.ExecContext(ctx, q, args...)
	if err != nil {
		return errors.Wrap(err, "deleting learner")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "deleting learner")
	}
	if n == 0 {
		return learner.ErrNotFound
	}
	return nil
}

func (repo *learnerRepository) getLearner(ctx context.Context, where sq.Sqlizer) (learner.Learner, error) {
	q, args, err := psql.Select(learnerColumns...).From(learnersTable).Where(where).Limit(1).ToSql()
	if err != nil {
		return learner.Learner{}, errors.Wrap(err, "building query")
	}
	var l learner.Learner
	if err = repo.db.GetContext(ctx, &l, q, args...); err != nil {
		return learner.Learner{}, trapNoRowsErr(err, "getting learner")
	}
	return l, nil
}

func (repo *learnerRepository) GetLearner(ctx context.Context, id string) (learner.Learner, error) {
	return repo.getLearner(ctx, sq.Eq{"id": id})
}

func (repo *learnerRepository) GetLearnerByEmail(ctx context.Context, email string) (learner.Learner, error) {
	return repo.getLearner(ctx, sq.Eq{"email": email})
}

func (repo *learnerRepository) QueryLearners(ctx context.Context, filter *learner.QueryFilter, ordering []core.DBOrdering) ([]learner.Learner, error) {
	if filter == nil {
		filter = learner.NewQueryFilter()
	}
	query := psql.Select(learnerColumns...).From(learnersTable)

	if filter.RiskLabel != "" {
		query = query.Where(sq.Eq{"risk_label": filter.RiskLabel})
	}
	if filter.Program != "" {
		query = query.Where(sq.ILike{"program": filter.Program})
	}
	// learners with Name, Email or Program matching the search keyword
	if filter.Search != "" {
		val := "%" + filter.Search + "%"
		query = query.Where(sq.Or{
			sq.ILike{"name": val},
			sq.ILike{"email": val},
			sq.ILike{"program": val},
		})
	}

	orderList := make([]string, 0, len(ordering)+1)
	for _, ord := range core.FilterOrdering(ordering, learner.OrderingFields) {
		orderList = append(orderList, ord.String())
	}
	orderList = append(orderList, "created_at ASC", "id ASC")
	query = query.OrderBy(orderList...)

	if filter.Limit > 0 {
		query = query.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		query = query.Offset(uint64(filter.Offset))
	}

	q, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	learners := make([]learner.Learner, 0)
	if err = repo.db.SelectContext(ctx, &learners, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying learners")
	}
	return learners, nil
}

func (repo *learnerRepository) AllLearners(ctx context.Context) ([]learner.Learner, error) {
	q, args, err := psql.Select(learnerColumns...).From(learnersTable).OrderBy("created_at ASC", "id ASC").ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	learners := make([]learner.Learner, 0)
	if err = repo.db.SelectContext(ctx, &learners, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying learners")
	}
	return learners, nil
}

func (repo *learnerRepository) UpdateRisks(ctx context.Context, scored []risk.Scored, updatedAt time.Time) error {
	return repo.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, s := range scored {
			q, args, err := psql.Update(learnersTable).
				Set("risk_score", s.RiskScore).
				Set("risk_label", string(s.RiskLabel)).
				Set("updated_at", updatedAt.UTC()).
				Where(sq.Eq{"id": s.ID}).
				ToSql()
			if err != nil {
				return errors.Wrap(err, "building query")
			}
			if _, err = tx.ExecContext(ctx, q, args...); err != nil {
				return errors.Wrapf(err, "updating risk of learner %s", s.ID)
			}
		}
		return nil
	})
}

func (repo *learnerRepository) SaveNudge(ctx context.Context, n learner.Nudge, events ...learner.Event) error {
	return repo.inTx(ctx, func(tx *sqlx.Tx) error {
		q, args, err := psql.Insert(nudgesTable).
			Columns(nudgeColumns...).
			Values(n.ID, n.LearnerID, n.Channel, n.Type, n.Content, n.GPTPromptVersion, n.GPTFallback, n.Status, n.CreatedAt.UTC()).
			ToSql()
		if err != nil {
			return errors.Wrap(err, "building query")
		}
		if _, err = tx.ExecContext(ctx, q, args...); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code.Name() == "foreign_key_violation" {
				return learner.ErrNotFound
			}
			return errors.Wrap(err, "inserting nudge")
		}
		for _, ev := range events {
			if err = insertEvent(ctx, tx, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

func (repo *learnerRepository) QueryNudges(ctx context.Context, learnerID string) ([]learner.Nudge, error) {
	q, args, err := psql.Select(nudgeColumns...).
		From(nudgesTable).
		Where(sq.Eq{"learner_id": learnerID}).
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	nudges := make([]learner.Nudge, 0)
	if err = repo.db.SelectContext(ctx, &nudges, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying nudges")
	}
	return nudges, nil
}

func (repo *learnerRepository) CreateEvent(ctx context.Context, ev learner.Event) error {
	return insertEvent(ctx, repo.db, ev)
}

func (repo *learnerRepository) QueryEvents(ctx context.Context, learnerID string) ([]learner.Event, error) {
	q, args, err := psql.Select(eventColumns...).
		From(eventsTable).
		Where(sq.Eq{"learner_id": learnerID}).
		OrderBy("timestamp DESC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	events := make([]learner.Event, 0)
	if err = repo.db.SelectContext(ctx, &events, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying events")
	}
	return events, nil
}

func insertEvent(ctx context.Context, exec sqlx.ExecerContext, ev learner.Event) error {
	q, args, err := psql.Insert(eventsTable).
		Columns(eventColumns...).
		Values(ev.ID, ev.LearnerID, ev.Type, ev.Metadata, ev.Timestamp.UTC()).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	if _, err = exec.ExecContext(ctx, q, args...); err != nil {
		return errors.Wrap(err, "inserting event")
	}
	return nil
}

// inTx runs fn in a transaction, committed if fn succeeds.
func (repo *learnerRepository) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}
