// Package risk scores how likely a learner is to disengage.
//
// Scoring is split in two steps that can be tested on their own:
// Normalize turns an untrusted Snapshot into Factors, Score turns Factors
// into a number in [0, 1]. Compute chains both and attaches a Label.
// Nothing in this package reads the clock: the reference time is always
// passed in by the caller.
package risk

import (
	"math"
	"time"
)

const (
	// RecencyWindowDays is the number of days without a login after which
	// the recency factor saturates at 1.
	RecencyWindowDays = 14

	// MissedSessionsCap is the number of consecutive missed sessions after
	// which the missed factor saturates at 1.
	MissedSessionsCap = 7

	completionWeight = 0.5
	quizWeight       = 0.2
	missedWeight     = 0.2
	recencyWeight    = 0.1

	highThreshold   = 0.7
	mediumThreshold = 0.4

	// DisplayPrecision is the number of decimals a score is stored and displayed with.
	DisplayPrecision = 3
)

type Label string

const (
	LabelLow    Label = "low"
	LabelMedium Label = "medium"
	LabelHigh   Label = "high"
)

var Labels = []Label{LabelLow, LabelMedium, LabelHigh}

func (l Label) String() string { return string(l) }

func (l Label) IsValid() bool {
	switch l {
	case LabelLow, LabelMedium, LabelHigh:
		return true
	}
	return false
}

// LabelFor maps a score to its label. Thresholds are strict: 0.7 is medium, 0.4 is low.
func LabelFor(score float64) Label {
	switch {
	case score > highThreshold:
		return LabelHigh
	case score > mediumThreshold:
		return LabelMedium
	default:
		return LabelLow
	}
}

// Factors are the normalized scoring signals, each in [0, 1] where 1 is the worst case.
type Factors struct {
	CompletionGap float64 `json:"completion_gap"`
	QuizGap       float64 `json:"quiz_gap"`
	MissedFactor  float64 `json:"missed_factor"`
	RecencyFactor float64 `json:"recency_factor"`
}

type Result struct {
	RiskScore float64 `json:"risk_score"`
	RiskLabel Label   `json:"risk_label"`
}

// Scorer turns a snapshot into a risk result.
// Heuristic is the weighted formula; a model-backed scorer can be swapped in behind it.
type Scorer interface {
	Compute(s Snapshot, now time.Time) Result
}

type Heuristic struct{}

var _ Scorer = Heuristic{}

func (Heuristic) Compute(s Snapshot, now time.Time) Result {
	return Compute(s, now)
}

// Compute scores a single snapshot. It never fails: missing or malformed
// fields fall back to the defaults applied by Normalize.
// The label is taken from the full precision score, the returned score is rounded
// to DisplayPrecision decimals: 0.7002 is high with a RiskScore of 0.7.
func Compute(s Snapshot, now time.Time) Result {
	score := Score(Normalize(s, now))
	return Result{RiskScore: roundTo(score, DisplayPrecision), RiskLabel: LabelFor(score)}
}

// Normalize applies the defensive input policy:
//   - missing percentages count as 0 and are clamped into [0, 100]
//   - missing or negative missed sessions count as 0
//   - a missing, unparsable or empty last login is maximally stale
//   - a last login in the future counts as 0 elapsed days
func Normalize(s Snapshot, now time.Time) Factors {
	completed := percent(s.CompletedPercent.Float64, s.CompletedPercent.Valid)
	quiz := percent(s.AvgQuizScore.Float64, s.AvgQuizScore.Valid)

	var missed int
	if s.ConsecutiveMissedSessions.Valid && s.ConsecutiveMissedSessions.Int > 0 {
		missed = s.ConsecutiveMissedSessions.Int
	}

	recency := 1.0
	if s.LastLogin.Valid {
		if login, ok := ParseTimestamp(s.LastLogin.String); ok {
			recency = math.Min(float64(ElapsedDays(login, now))/RecencyWindowDays, 1)
		}
	}

	return Factors{
		CompletionGap: 1 - completed/100,
		QuizGap:       1 - quiz/100,
		MissedFactor:  math.Min(float64(missed)/MissedSessionsCap, 1),
		RecencyFactor: recency,
	}
}

// Score combines factors with fixed weights. The result is clamped into
// [0, 1]; float noise below 1e-9 is dropped so that 0.5*0.6+0.2+0.2 is exactly 0.7.
func Score(f Factors) float64 {
	raw := completionWeight*unit(f.CompletionGap) +
		quizWeight*unit(f.QuizGap) +
		missedWeight*unit(f.MissedFactor) +
		recencyWeight*unit(f.RecencyFactor)
	return roundTo(clamp(raw, 0, 1), 9)
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.Round(v*p) / p
}

// ElapsedDays returns the whole days between from and now, never negative.
func ElapsedDays(from, now time.Time) int {
	d := now.Sub(from)
	if d <= 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

func percent(v float64, valid bool) float64 {
	if !valid || math.IsNaN(v) {
		return 0
	}
	return clamp(v, 0, 100)
}

// unit clamps a factor into [0, 1]; NaN is treated as the worst case.
func unit(v float64) float64 {
	if math.IsNaN(v) {
		return 1
	}
	return clamp(v, 0, 1)
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
