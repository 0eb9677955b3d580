package learner

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/engage/core"
	"github.com/trezcool/engage/core/risk"
)

var (
	// errors
	ErrNotFound    = errors.New("learner not found")
	ErrEmailExists = errors.New("a learner with this email already exists")
	ErrIDExists    = errors.New("a learner with this id already exists")

	nowFunc = func() time.Time { return time.Now().UTC() }
)

type (
	Repository interface {
		CreateLearner(ctx context.Context, l Learner) (Learner, error)
		UpdateLearner(ctx context.Context, l Learner) (Learner, error)
		DeleteLearner(ctx context.Context, id string) error
		GetLearner(ctx context.Context, id string) (Learner, error)
		GetLearnerByEmail(ctx context.Context, email string) (Learner, error)
		// QueryLearners applies AND operation on the set QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of Learner.Name, Learner.Email or Learner.Program.
		QueryLearners(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Learner, error)
		AllLearners(ctx context.Context) ([]Learner, error)
		// UpdateRisks stores the risk of each learner in scored, in a single transaction.
		UpdateRisks(ctx context.Context, scored []risk.Scored, updatedAt time.Time) error
		// SaveNudge stores n together with events, atomically.
		SaveNudge(ctx context.Context, n Nudge, events ...Event) error
		QueryNudges(ctx context.Context, learnerID string) ([]Nudge, error) // newest first
		CreateEvent(ctx context.Context, ev Event) error
		QueryEvents(ctx context.Context, learnerID string) ([]Event, error) // newest first
	}

	// Recorder is told about what the service does, for metrics.
	Recorder interface {
		RiskComputed(label risk.Label)
		NudgeGenerated(channel string, fallback bool)
		SimulationRun(processed int, duration time.Duration)
	}

	ServiceInterface interface {
		Create(ctx context.Context, nl NewLearner) (Learner, error)
		Update(ctx context.Context, id string, ul UpdateLearner) (Learner, error)
		Delete(ctx context.Context, id string) error
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Learner, error)
		Get(ctx context.Context, id string) (Detail, error)
		Events(ctx context.Context, id string) ([]Event, error)
		GenerateNudge(ctx context.Context, id string, req NudgeRequest) (NudgeResult, error)
		GenerateQuiz(ctx context.Context, id string, req QuizRequest) (QuizResult, error)
		RunSimulation(ctx context.Context, req SimulationRequest) (SimulationResult, error)
		Import(ctx context.Context, records []NewLearner) (ImportResult, error)
	}

	Service struct {
		repo     Repository
		content  ContentGenerator
		mailSvc  core.EmailService
		validate *validator.Validate
		logger   core.Logger
		scorer   risk.Scorer
		recorder Recorder
		workers  int
	}
)

var _ ServiceInterface = (*Service)(nil)

func NewService(
	repo Repository,
	content ContentGenerator,
	mailSvc core.EmailService,
	validate *validator.Validate,
	logger core.Logger,
	conf *core.Config,
) *Service {
	return &Service{
		repo:     repo,
		content:  content,
		mailSvc:  mailSvc,
		validate: validate,
		logger:   logger,
		scorer:   risk.Heuristic{},
		recorder: nopRecorder{},
		workers:  conf.Nudge.Workers,
	}
}

// SetRecorder replaces the no-op Recorder.
func (svc *Service) SetRecorder(r Recorder) {
	svc.recorder = r
}

func (svc *Service) score(l *Learner, now time.Time) bool {
	res := svc.scorer.Compute(l.Snapshot(), now)
	svc.recorder.RiskComputed(res.RiskLabel)
	return l.SetRisk(res)
}

func (svc *Service) checkUniqueness(ctx context.Context, email string, excludedID string) error {
	existing, err := svc.repo.GetLearnerByEmail(ctx, email)
	switch {
	case errors.Cause(err) == ErrNotFound:
		return nil
	case err != nil:
		return errors.Wrap(err, "checking email uniqueness")
	case existing.ID != excludedID:
		return core.NewFieldError("email", ErrEmailExists)
	}
	return nil
}

func (svc *Service) Create(ctx context.Context, nl NewLearner) (Learner, error) {
	if err := svc.checkUniqueness(ctx, nl.Email, ""); err != nil {
		return Learner{}, err
	}
	if nl.ID != "" {
		if _, err := svc.repo.GetLearner(ctx, nl.ID); err == nil {
			return Learner{}, core.NewFieldError("id", ErrIDExists)
		} else if errors.Cause(err) != ErrNotFound {
			return Learner{}, errors.Wrap(err, "checking id uniqueness")
		}
	}

	now := nowFunc()
	l := newLearner(nl, now)
	svc.score(&l, now)

	l, err := svc.repo.CreateLearner(ctx, l)
	if err != nil {
		return Learner{}, errors.Wrap(err, "creating learner")
	}
	return l, nil
}

func newLearner(nl NewLearner, now time.Time) Learner {
	l := Learner{
		ID:        nl.ID,
		Name:      nl.Name,
		Email:     nl.Email,
		Phone:     null.NewString(nl.Phone, nl.Phone != ""),
		Program:   nl.Program,
		LastLogin: null.NewString(nl.LastLogin, nl.LastLogin != ""),
		RiskLabel: risk.LabelLow,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if nl.CompletedPercent != nil {
		l.CompletedPercent = *nl.CompletedPercent
	}
	if nl.AvgQuizScore != nil {
		l.AvgQuizScore = *nl.AvgQuizScore
	}
	if nl.ConsecutiveMissedSessions != nil {
		l.ConsecutiveMissedSessions = *nl.ConsecutiveMissedSessions
	}
	return l
}

func (svc *Service) Update(ctx context.Context, id string, ul UpdateLearner) (Learner, error) {
	l, err := svc.repo.GetLearner(ctx, id)
	if err != nil {
		return Learner{}, errors.Wrap(err, "getting learner")
	}
	if ul.Email != nil && *ul.Email != l.Email {
		if err = svc.checkUniqueness(ctx, *ul.Email, l.ID); err != nil {
			return Learner{}, err
		}
	}

	now := nowFunc()
	ul.apply(&l)
	l.UpdatedAt = now
	svc.score(&l, now)

	l, err = svc.repo.UpdateLearner(ctx, l)
	if err != nil {
		return Learner{}, errors.Wrap(err, "updating learner")
	}
	return l, nil
}

func (svc *Service) Delete(ctx context.Context, id string) error {
	return errors.Wrap(svc.repo.DeleteLearner(ctx, id), "deleting learner")
}

// Query returns a page of learners with their risk recomputed at call time.
// Changed scores are persisted.
func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Learner, error) {
	if filter == nil {
		filter = NewQueryFilter()
	}
	learners, err := svc.repo.QueryLearners(ctx, filter, core.FilterOrdering(ordering, OrderingFields))
	if err != nil {
		return nil, errors.Wrap(err, "querying learners")
	}
	if err = svc.rescore(ctx, learners, nowFunc()); err != nil {
		return nil, err
	}
	return learners, nil
}

// rescore recomputes the risk of learners in place and persists the changed ones.
func (svc *Service) rescore(ctx context.Context, learners []Learner, now time.Time) error {
	items := make([]risk.Item, len(learners))
	for i, l := range learners {
		items[i] = risk.Item{ID: l.ID, Snapshot: l.Snapshot()}
	}

	var changed []risk.Scored
	for i, s := range risk.ScoreAll(svc.scorer, items, now) {
		svc.recorder.RiskComputed(s.RiskLabel)
		if learners[i].SetRisk(s.Result) {
			learners[i].UpdatedAt = now
			changed = append(changed, s)
		}
	}
	if len(changed) == 0 {
		return nil
	}
	return errors.Wrap(svc.repo.UpdateRisks(ctx, changed, now), "updating risks")
}

// Get returns a learner with a fresh risk and their nudges, newest first.
func (svc *Service) Get(ctx context.Context, id string) (Detail, error) {
	l, err := svc.repo.GetLearner(ctx, id)
	if err != nil {
		return Detail{}, errors.Wrap(err, "getting learner")
	}

	learners := []Learner{l}
	if err = svc.rescore(ctx, learners, nowFunc()); err != nil {
		return Detail{}, err
	}

	nudges, err := svc.repo.QueryNudges(ctx, id)
	if err != nil {
		return Detail{}, errors.Wrap(err, "querying nudges")
	}
	if nudges == nil {
		nudges = []Nudge{}
	}
	return Detail{Learner: learners[0], Nudges: nudges}, nil
}

func (svc *Service) Events(ctx context.Context, id string) ([]Event, error) {
	if _, err := svc.repo.GetLearner(ctx, id); err != nil {
		return nil, errors.Wrap(err, "getting learner")
	}
	events, err := svc.repo.QueryEvents(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "querying events")
	}
	if events == nil {
		events = []Event{}
	}
	return events, nil
}

func (svc *Service) GenerateNudge(ctx context.Context, id string, req NudgeRequest) (NudgeResult, error) {
	l, err := svc.repo.GetLearner(ctx, id)
	if err != nil {
		return NudgeResult{}, errors.Wrap(err, "getting learner")
	}
	if req.Type == "" {
		req.Type = NudgeTypeEngagement
	}

	gen := svc.content.GenerateNudge(ctx, nudgeContext(l, req.Channel, req.Type))
	now := nowFunc()
	n := Nudge{
		ID:               uuid.New().String(),
		LearnerID:        l.ID,
		Channel:          req.Channel,
		Type:             req.Type,
		Content:          gen.Content,
		GPTPromptVersion: null.StringFrom(gen.PromptVersion),
		GPTFallback:      gen.Fallback,
		Status:           NudgeStatusGenerated,
		CreatedAt:        now,
	}
	ev := newEvent(uuid.New().String(), l.ID, EventNudgeGenerated, map[string]interface{}{
		"nudge_id":     n.ID,
		"channel":      n.Channel,
		"gpt_fallback": n.GPTFallback,
	}, now)

	if err = svc.repo.SaveNudge(ctx, n, ev); err != nil {
		return NudgeResult{}, errors.Wrap(err, "saving nudge")
	}
	svc.recorder.NudgeGenerated(n.Channel, n.GPTFallback)

	if n.Channel == ChannelEmail {
		svc.mailNudge(l, n)
	}

	return NudgeResult{
		NudgeID:       n.ID,
		Content:       n.Content,
		Channel:       n.Channel,
		GPTFallback:   n.GPTFallback,
		PromptVersion: gen.PromptVersion,
	}, nil
}

type nudgeEmailData struct {
	Name    string
	Program string
	Content string
}

func (svc *Service) mailNudge(l Learner, n Nudge) {
	if svc.mailSvc == nil {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: l.Name, Address: l.Email}},
		Subject:      fmt.Sprintf("Keep going with %s", l.Program),
		TemplateName: "nudge",
		TemplateData: nudgeEmailData{Name: l.Name, Program: l.Program, Content: n.Content},
	})
}

func (svc *Service) GenerateQuiz(ctx context.Context, id string, req QuizRequest) (QuizResult, error) {
	l, err := svc.repo.GetLearner(ctx, id)
	if err != nil {
		return QuizResult{}, errors.Wrap(err, "getting learner")
	}
	if req.Difficulty == "" {
		req.Difficulty = DefaultDifficulty
	}

	gen := svc.content.GenerateQuiz(ctx, QuizContext{
		Name:             l.Name,
		Program:          l.Program,
		CompletedPercent: l.CompletedPercent,
		Difficulty:       req.Difficulty,
		TopicFocus:       req.TopicFocus.String,
	})

	ev := newEvent(uuid.New().String(), l.ID, EventQuizGenerated, map[string]interface{}{
		"difficulty":   req.Difficulty,
		"topic_focus":  req.TopicFocus,
		"gpt_fallback": gen.Fallback,
	}, nowFunc())
	if err = svc.repo.CreateEvent(ctx, ev); err != nil {
		return QuizResult{}, errors.Wrap(err, "creating event")
	}

	return QuizResult{
		Content:       gen.Quiz,
		GPTFallback:   gen.Fallback,
		PromptVersion: gen.PromptVersion,
	}, nil
}

// Recompute scores every learner over a pool of workers and persists the changed risks.
func (svc *Service) Recompute(ctx context.Context) ([]Learner, map[risk.Label]int, error) {
	learners, err := svc.repo.AllLearners(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "getting learners")
	}

	now := nowFunc()
	items := make([]risk.Item, len(learners))
	for i, l := range learners {
		items[i] = risk.Item{ID: l.ID, Snapshot: l.Snapshot()}
	}
	scored, err := risk.ScoreAllParallel(ctx, svc.scorer, items, now, svc.workers)
	if err != nil {
		return nil, nil, errors.Wrap(err, "computing risks")
	}

	var changed []risk.Scored
	for i, s := range scored {
		svc.recorder.RiskComputed(s.RiskLabel)
		if learners[i].SetRisk(s.Result) {
			learners[i].UpdatedAt = now
			changed = append(changed, s)
		}
	}
	if len(changed) > 0 {
		if err = svc.repo.UpdateRisks(ctx, changed, now); err != nil {
			return nil, nil, errors.Wrap(err, "updating risks")
		}
	}
	return learners, risk.Counts(scored), nil
}

// RunSimulation recomputes every risk and, when asked, nudges the learners at
// or above the threshold. A failed nudge is logged and skipped.
func (svc *Service) RunSimulation(ctx context.Context, req SimulationRequest) (SimulationResult, error) {
	start := time.Now()

	learners, counts, err := svc.Recompute(ctx)
	if err != nil {
		return SimulationResult{}, err
	}

	res := SimulationResult{
		ProcessedLearners: len(learners),
		HighRiskCount:     counts[risk.LabelHigh],
		MediumRiskCount:   counts[risk.LabelMedium],
		LowRiskCount:      counts[risk.LabelLow],
	}
	if len(learners) == 0 {
		svc.recorder.SimulationRun(0, time.Since(start))
		return res, nil
	}

	if req.AutoNudge {
		for _, l := range learners {
			if l.RiskScore < req.RiskThreshold {
				continue
			}
			if err = svc.autoNudge(ctx, l); err != nil {
				svc.logger.Error(fmt.Sprintf("auto-nudging learner %s", l.ID), err, core.LogPerson{ID: l.ID, Name: l.Name, Email: l.Email})
				continue
			}
			res.AutoNudgesGenerated++
		}
	}

	ev := newEvent(uuid.New().String(), SystemID, EventSimulationRun, map[string]interface{}{
		"processed_learners": res.ProcessedLearners,
		"risk_counts": map[string]int{
			risk.LabelHigh.String():   res.HighRiskCount,
			risk.LabelMedium.String(): res.MediumRiskCount,
			risk.LabelLow.String():    res.LowRiskCount,
		},
		"auto_nudge":            req.AutoNudge,
		"auto_nudges_generated": res.AutoNudgesGenerated,
		"risk_threshold":        req.RiskThreshold,
	}, nowFunc())
	if err = svc.repo.CreateEvent(ctx, ev); err != nil {
		return SimulationResult{}, errors.Wrap(err, "creating event")
	}

	svc.recorder.SimulationRun(res.ProcessedLearners, time.Since(start))
	return res, nil
}

func (svc *Service) autoNudge(ctx context.Context, l Learner) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	gen := svc.content.GenerateNudge(ctx, nudgeContext(l, ChannelInApp, NudgeTypeRiskIntervention))
	n := Nudge{
		ID:               uuid.New().String(),
		LearnerID:        l.ID,
		Channel:          ChannelInApp,
		Type:             NudgeTypeRiskIntervention,
		Content:          gen.Content,
		GPTPromptVersion: null.StringFrom(gen.PromptVersion),
		GPTFallback:      gen.Fallback,
		Status:           NudgeStatusAutoGenerated,
		CreatedAt:        nowFunc(),
	}
	if err := svc.repo.SaveNudge(ctx, n); err != nil {
		return errors.Wrap(err, "saving nudge")
	}
	svc.recorder.NudgeGenerated(n.Channel, n.GPTFallback)
	return nil
}

// Import upserts records by email. A record that fails validation or storage
// is logged and counted as failed; only a done ctx aborts the import.
func (svc *Service) Import(ctx context.Context, records []NewLearner) (ImportResult, error) {
	var res ImportResult
	for i := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Processed++

		created, err := svc.upsert(ctx, records[i])
		if err != nil {
			res.Failed++
			svc.logger.Warn(fmt.Sprintf("importing learner %q", records[i].Email), err)
			continue
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}
	return res, nil
}

func (svc *Service) upsert(ctx context.Context, nl NewLearner) (bool, error) {
	if err := nl.Validate(svc.validate); err != nil {
		return false, err
	}
	now := nowFunc()
	incoming := newLearner(nl, now)

	existing, err := svc.repo.GetLearnerByEmail(ctx, nl.Email)
	switch {
	case errors.Cause(err) == ErrNotFound:
		svc.score(&incoming, now)
		_, err = svc.repo.CreateLearner(ctx, incoming)
		return true, errors.Wrap(err, "creating learner")
	case err != nil:
		return false, errors.Wrap(err, "getting learner by email")
	}

	incoming.ID = existing.ID
	incoming.CreatedAt = existing.CreatedAt
	svc.score(&incoming, now)
	_, err = svc.repo.UpdateLearner(ctx, incoming)
	return false, errors.Wrap(err, "updating learner")
}

type nopRecorder struct{}

func (nopRecorder) RiskComputed(risk.Label)          {}
func (nopRecorder) NudgeGenerated(string, bool)      {}
func (nopRecorder) SimulationRun(int, time.Duration) {}
