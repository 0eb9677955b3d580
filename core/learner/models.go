package learner

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx/types"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/engage/core"
	"github.com/trezcool/engage/core/risk"
)

// Channels
const (
	ChannelInApp    = "in-app"
	ChannelWhatsApp = "whatsapp"
	ChannelEmail    = "email"
)

// Nudge types & statuses
const (
	NudgeTypeEngagement       = "engagement"
	NudgeTypeCompletionBoost  = "completion_boost"
	NudgeTypeQuizReminder     = "quiz_reminder"
	NudgeTypeRiskIntervention = "risk_intervention"

	NudgeStatusGenerated     = "generated"
	NudgeStatusAutoGenerated = "auto_generated"
)

// Event types
const (
	EventNudgeGenerated = "nudge_generated"
	EventQuizGenerated  = "quiz_generated"
	EventSimulationRun  = "simulation_run"

	// SystemID is the learner ID of events about the platform itself.
	SystemID = "system"
)

const (
	DefaultLimit         = 100
	MaxLimit             = 1000
	DefaultDifficulty    = "medium"
	DefaultRiskThreshold = 0.7
)

var Channels = []string{ChannelInApp, ChannelWhatsApp, ChannelEmail}

// OrderingFields are the fields learners can be sorted by.
var OrderingFields = map[string]bool{
	"name":                        true,
	"email":                       true,
	"program":                     true,
	"completed_percent":           true,
	"avg_quiz_score":              true,
	"consecutive_missed_sessions": true,
	"risk_score":                  true,
	"created_at":                  true,
	"updated_at":                  true,
}

type Learner struct {
	ID                        string      `json:"id" db:"id"`
	Name                      string      `json:"name" db:"name"`
	Email                     string      `json:"email" db:"email"`
	Phone                     null.String `json:"phone" db:"phone"`
	Program                   string      `json:"program" db:"program"`
	LastLogin                 null.String `json:"last_login" db:"last_login"` // as received, parsed when scoring
	CompletedPercent          float64     `json:"completed_percent" db:"completed_percent"`
	AvgQuizScore              float64     `json:"avg_quiz_score" db:"avg_quiz_score"`
	ConsecutiveMissedSessions int         `json:"consecutive_missed_sessions" db:"consecutive_missed_sessions"`
	RiskScore                 float64     `json:"risk_score" db:"risk_score"`
	RiskLabel                 risk.Label  `json:"risk_label" db:"risk_label"`
	CreatedAt                 time.Time   `json:"created_at" db:"created_at"` // UTC
	UpdatedAt                 time.Time   `json:"updated_at" db:"updated_at"` // UTC
}

func (l Learner) Snapshot() risk.Snapshot {
	return risk.Snapshot{
		CompletedPercent:          null.Float64From(l.CompletedPercent),
		AvgQuizScore:              null.Float64From(l.AvgQuizScore),
		ConsecutiveMissedSessions: null.IntFrom(l.ConsecutiveMissedSessions),
		LastLogin:                 l.LastLogin,
	}
}

// SetRisk stores res and reports whether it differs from the stored risk.
func (l *Learner) SetRisk(res risk.Result) bool {
	changed := l.RiskScore != res.RiskScore || l.RiskLabel != res.RiskLabel
	l.RiskScore = res.RiskScore
	l.RiskLabel = res.RiskLabel
	return changed
}

type Detail struct {
	Learner
	Nudges []Nudge `json:"nudges"` // newest first
}

type Nudge struct {
	ID               string      `json:"id" db:"id"`
	LearnerID        string      `json:"learner_id" db:"learner_id"`
	Channel          string      `json:"channel" db:"channel"`
	Type             string      `json:"type" db:"type"`
	Content          string      `json:"content" db:"content"`
	GPTPromptVersion null.String `json:"gpt_prompt_version" db:"gpt_prompt_version"`
	GPTFallback      bool        `json:"gpt_fallback" db:"gpt_fallback"`
	Status           string      `json:"status" db:"status"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"` // UTC
}

type Event struct {
	ID        string         `json:"id" db:"id"`
	LearnerID string         `json:"learner_id" db:"learner_id"`
	Type      string         `json:"type" db:"type"`
	Metadata  types.JSONText `json:"metadata" db:"metadata"`
	Timestamp time.Time      `json:"timestamp" db:"timestamp"` // UTC
}

// newEvent marshals metadata; an unmarshalable value is stored as null.
func newEvent(id, learnerID, typ string, metadata interface{}, ts time.Time) Event {
	data, err := json.Marshal(metadata)
	if err != nil {
		data = []byte("null")
	}
	return Event{ID: id, LearnerID: learnerID, Type: typ, Metadata: types.JSONText(data), Timestamp: ts}
}

// NewLearner contains information needed to create a new Learner.
type NewLearner struct {
	ID                        string   `json:"id" validate:"omitempty,max=64,learnerid"`
	Name                      string   `json:"name" validate:"required,max=255"`
	Email                     string   `json:"email" validate:"required,email,max=255"`
	Phone                     string   `json:"phone" validate:"omitempty,phone"`
	Program                   string   `json:"program" validate:"required,max=255"`
	LastLogin                 string   `json:"last_login" validate:"max=64"`
	CompletedPercent          *float64 `json:"completed_percent" validate:"omitempty,min=0,max=100"`
	AvgQuizScore              *float64 `json:"avg_quiz_score" validate:"omitempty,min=0,max=100"`
	ConsecutiveMissedSessions *int     `json:"consecutive_missed_sessions" validate:"omitempty,min=0"`
}

func (nl *NewLearner) Clean() {
	nl.ID = core.CleanString(nl.ID)
	nl.Name = core.CleanString(nl.Name)
	nl.Email = core.CleanString(nl.Email, true /* lower */)
	nl.Phone = core.CleanString(nl.Phone)
	nl.Program = core.CleanString(nl.Program)
	nl.LastLogin = core.CleanString(nl.LastLogin)
}

func (nl *NewLearner) Validate(validate *validator.Validate) error {
	nl.Clean()
	return validate.Struct(nl)
}

// UpdateLearner defines what information may be provided to modify an existing Learner.
// Nil fields are left untouched.
type UpdateLearner struct {
	Name                      *string  `json:"name" validate:"omitempty,max=255"`
	Email                     *string  `json:"email" validate:"omitempty,email,max=255"`
	Phone                     *string  `json:"phone" validate:"omitempty,phone"`
	Program                   *string  `json:"program" validate:"omitempty,max=255"`
	LastLogin                 *string  `json:"last_login" validate:"omitempty,max=64"`
	CompletedPercent          *float64 `json:"completed_percent" validate:"omitempty,min=0,max=100"`
	AvgQuizScore              *float64 `json:"avg_quiz_score" validate:"omitempty,min=0,max=100"`
	ConsecutiveMissedSessions *int     `json:"consecutive_missed_sessions" validate:"omitempty,min=0"`
}

func (ul *UpdateLearner) Clean() {
	clean := func(s *string, lower bool) {
		if s != nil {
			*s = core.CleanString(*s, lower)
		}
	}
	clean(ul.Name, false)
	clean(ul.Email, true)
	clean(ul.Phone, false)
	clean(ul.Program, false)
	clean(ul.LastLogin, false)

	// required on the Learner: blank means unchanged
	for _, s := range []**string{&ul.Name, &ul.Email, &ul.Program} {
		if *s != nil && **s == "" {
			*s = nil
		}
	}
}

func (ul *UpdateLearner) Validate(validate *validator.Validate) error {
	ul.Clean()
	return validate.Struct(ul)
}

// apply copies the set fields onto l. An empty phone or last login clears it.
func (ul UpdateLearner) apply(l *Learner) {
	if ul.Name != nil {
		l.Name = *ul.Name
	}
	if ul.Email != nil {
		l.Email = *ul.Email
	}
	if ul.Phone != nil {
		l.Phone = null.NewString(*ul.Phone, *ul.Phone != "")
	}
	if ul.Program != nil {
		l.Program = *ul.Program
	}
	if ul.LastLogin != nil {
		l.LastLogin = null.NewString(*ul.LastLogin, *ul.LastLogin != "")
	}
	if ul.CompletedPercent != nil {
		l.CompletedPercent = *ul.CompletedPercent
	}
	if ul.AvgQuizScore != nil {
		l.AvgQuizScore = *ul.AvgQuizScore
	}
	if ul.ConsecutiveMissedSessions != nil {
		l.ConsecutiveMissedSessions = *ul.ConsecutiveMissedSessions
	}
}

type QueryFilter struct {
	RiskLabel string `json:"risk_filter" query:"risk_filter" validate:"omitempty,oneof=low medium high"`
	Search    string `json:"search" query:"search"`
	Program   string `json:"program" query:"program"`
	Limit     int    `json:"limit" query:"limit" validate:"min=1,max=1000"`
	Offset    int    `json:"offset" query:"offset" validate:"min=0"`
}

func NewQueryFilter() *QueryFilter {
	return &QueryFilter{Limit: DefaultLimit}
}

func (qf *QueryFilter) Clean() {
	qf.RiskLabel = core.CleanString(qf.RiskLabel, true /* lower */)
	qf.Search = core.CleanString(qf.Search)
	qf.Program = core.CleanString(qf.Program)
}

func (qf *QueryFilter) Validate(validate *validator.Validate) error {
	qf.Clean()
	return validate.Struct(qf)
}

type NudgeRequest struct {
	Channel string `json:"channel" validate:"required,oneof=in-app whatsapp email"`
	Type    string `json:"type" validate:"omitempty,max=64"`
}

func (nr *NudgeRequest) Validate(validate *validator.Validate) error {
	nr.Channel = core.CleanString(nr.Channel, true /* lower */)
	nr.Type = core.CleanString(nr.Type)
	if nr.Type == "" {
		nr.Type = NudgeTypeEngagement
	}
	return validate.Struct(nr)
}

type NudgeResult struct {
	NudgeID       string `json:"nudge_id"`
	Content       string `json:"content"`
	Channel       string `json:"channel"`
	GPTFallback   bool   `json:"gpt_fallback"`
	PromptVersion string `json:"prompt_version"`
}

type QuizRequest struct {
	Difficulty string      `json:"difficulty" validate:"omitempty,max=32"`
	TopicFocus null.String `json:"topic_focus" validate:"-"`
}

func (qr *QuizRequest) Validate(validate *validator.Validate) error {
	qr.Difficulty = core.CleanString(qr.Difficulty, true /* lower */)
	if qr.Difficulty == "" {
		qr.Difficulty = DefaultDifficulty
	}
	if qr.TopicFocus.Valid {
		qr.TopicFocus.String = core.CleanString(qr.TopicFocus.String)
		qr.TopicFocus.Valid = qr.TopicFocus.String != ""
	}
	return validate.Struct(qr)
}

type QuizResult struct {
	Content       Quiz   `json:"content"`
	GPTFallback   bool   `json:"gpt_fallback"`
	PromptVersion string `json:"prompt_version"`
}

type SimulationRequest struct {
	AutoNudge     bool    `json:"auto_nudge"`
	RiskThreshold float64 `json:"risk_threshold" validate:"min=0,max=1"`
}

func NewSimulationRequest() *SimulationRequest {
	return &SimulationRequest{RiskThreshold: DefaultRiskThreshold}
}

func (sr *SimulationRequest) Validate(validate *validator.Validate) error {
	return validate.Struct(sr)
}

type SimulationResult struct {
	ProcessedLearners   int `json:"processed_learners"`
	HighRiskCount       int `json:"high_risk_count"`
	MediumRiskCount     int `json:"medium_risk_count"`
	LowRiskCount        int `json:"low_risk_count"`
	AutoNudgesGenerated int `json:"auto_nudges_generated"`
}

type ImportResult struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Failed    int `json:"failed"`
}
