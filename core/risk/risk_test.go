package risk

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"
)

var now = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func snapshot(completed, quiz float64, missed int, lastLogin string) Snapshot {
	return Snapshot{
		CompletedPercent:          null.Float64From(completed),
		AvgQuizScore:              null.Float64From(quiz),
		ConsecutiveMissedSessions: null.IntFrom(missed),
		LastLogin:                 null.StringFrom(lastLogin),
	}
}

func TestCompute(t *testing.T) {
	nowStr := now.Format(time.RFC3339)
	longAgo := now.AddDate(0, 0, -RecencyWindowDays).Format(time.RFC3339)

	tests := []struct {
		name      string
		snap      Snapshot
		wantScore float64
		wantLabel Label
	}{
		{name: "perfect learner", snap: snapshot(100, 100, 0, nowStr), wantScore: 0, wantLabel: LabelLow},
		{name: "worst learner", snap: snapshot(0, 0, 7, longAgo), wantScore: 1, wantLabel: LabelHigh},
		{name: "exactly 0.7 is medium", snap: snapshot(40, 0, 7, nowStr), wantScore: 0.7, wantLabel: LabelMedium},
		{name: "exactly 0.4 is low", snap: snapshot(20, 100, 0, nowStr), wantScore: 0.4, wantLabel: LabelLow},
		{name: "just above 0.7 is high", snap: snapshot(0, 99.9, 7, nowStr), wantScore: 0.7, wantLabel: LabelHigh},
		{name: "just above 0.4 is medium", snap: snapshot(20, 99.9, 0, nowStr), wantScore: 0.4, wantLabel: LabelMedium},
		{name: "all fields missing", snap: Snapshot{}, wantScore: 0.8, wantLabel: LabelHigh},
		{name: "out of range values clamped", snap: snapshot(150, -20, 99, nowStr), wantScore: 0.4, wantLabel: LabelLow},
		{name: "negative missed sessions", snap: snapshot(100, 100, -3, nowStr), wantScore: 0, wantLabel: LabelLow},
		{name: "future login", snap: snapshot(100, 100, 0, now.AddDate(0, 1, 0).Format(time.RFC3339)), wantScore: 0, wantLabel: LabelLow},
		{name: "unparsable login", snap: snapshot(100, 100, 0, "yesterday-ish"), wantScore: 0.1, wantLabel: LabelLow},
		{name: "seven days ago", snap: snapshot(100, 100, 0, "2024-03-08"), wantScore: 0.05, wantLabel: LabelLow},
		{name: "mid range", snap: snapshot(50, 60, 3, "2024-03-08T12:00:00"), wantScore: 0.466, wantLabel: LabelMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(tt.snap, now)
			assert.InDelta(t, tt.wantScore, got.RiskScore, 1e-9)
			assert.Equal(t, tt.wantLabel, got.RiskLabel)
		})
	}
}

func TestNormalize_missingFields(t *testing.T) {
	got := Normalize(Snapshot{}, now)
	assert.Equal(t, Factors{CompletionGap: 1, QuizGap: 1, MissedFactor: 0, RecencyFactor: 1}, got)
}

func TestNormalize_nonFinite(t *testing.T) {
	snap := Snapshot{
		CompletedPercent: null.Float64From(math.NaN()),
		AvgQuizScore:     null.Float64From(math.Inf(1)),
	}
	got := Normalize(snap, now)
	assert.Equal(t, 1.0, got.CompletionGap)
	assert.Equal(t, 0.0, got.QuizGap)
}

func TestLabelFor(t *testing.T) {
	tests := []struct {
		score float64
		want  Label
	}{
		{0, LabelLow},
		{0.4, LabelLow},
		{0.401, LabelMedium},
		{0.7, LabelMedium},
		{0.701, LabelHigh},
		{1, LabelHigh},
	}
	for _, tt := range tests {
		if got := LabelFor(tt.score); got != tt.want {
			t.Errorf("LabelFor(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestScore_fullPrecision(t *testing.T) {
	f := Factors{CompletionGap: 1, QuizGap: 0.001, MissedFactor: 1}
	assert.InDelta(t, 0.7002, Score(f), 1e-12)
	assert.Equal(t, LabelHigh, LabelFor(Score(f)))

	assert.Equal(t, 0.7, Score(Factors{CompletionGap: 0.6, QuizGap: 1, MissedFactor: 1}))
}

func TestScore_clampsFactors(t *testing.T) {
	assert.Equal(t, 1.0, Score(Factors{CompletionGap: 5, QuizGap: 5, MissedFactor: 5, RecencyFactor: 5}))
	assert.Equal(t, 0.0, Score(Factors{CompletionGap: -5, QuizGap: -5, MissedFactor: -5, RecencyFactor: -5}))
	assert.Equal(t, 1.0, Score(Factors{CompletionGap: math.NaN(), QuizGap: math.NaN(), MissedFactor: math.NaN(), RecencyFactor: math.NaN()}))
}

func randomSnapshot(r *rand.Rand) Snapshot {
	var s Snapshot
	if r.Intn(5) > 0 {
		s.CompletedPercent = null.Float64From(r.Float64()*400 - 150)
	}
	if r.Intn(5) > 0 {
		s.AvgQuizScore = null.Float64From(r.Float64()*400 - 150)
	}
	if r.Intn(5) > 0 {
		s.ConsecutiveMissedSessions = null.IntFrom(r.Intn(40) - 10)
	}
	switch r.Intn(4) {
	case 0: // absent
	case 1:
		s.LastLogin = null.StringFrom("garbage")
	default:
		offset := time.Duration(r.Intn(60*24)-10*24) * time.Hour
		s.LastLogin = null.StringFrom(now.Add(-offset).Format(time.RFC3339))
	}
	return s
}

func TestCompute_properties(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		snap := randomSnapshot(r)
		got := Compute(snap, now)

		require.False(t, math.IsNaN(got.RiskScore), "snapshot %+v", snap)
		require.GreaterOrEqual(t, got.RiskScore, 0.0)
		require.LessOrEqual(t, got.RiskScore, 1.0)
		require.True(t, got.RiskLabel.IsValid())
		require.Equal(t, LabelFor(Score(Normalize(snap, now))), got.RiskLabel)
		require.Equal(t, got, Compute(snap, now), "not idempotent")
	}
}

func TestCompute_monotonic(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		base := randomSnapshot(r)

		lower, higher := base, base
		c := r.Float64() * 100
		lower.CompletedPercent = null.Float64From(c)
		higher.CompletedPercent = null.Float64From(c + r.Float64()*50)
		assert.LessOrEqual(t, Compute(higher, now).RiskScore, Compute(lower, now).RiskScore)

		fewer, more := base, base
		m := r.Intn(10)
		fewer.ConsecutiveMissedSessions = null.IntFrom(m)
		more.ConsecutiveMissedSessions = null.IntFrom(m + r.Intn(5))
		assert.GreaterOrEqual(t, Compute(more, now).RiskScore, Compute(fewer, now).RiskScore)
	}
}

func TestElapsedDays(t *testing.T) {
	assert.Equal(t, 0, ElapsedDays(now.Add(time.Hour), now))
	assert.Equal(t, 0, ElapsedDays(now.Add(-23*time.Hour), now))
	assert.Equal(t, 1, ElapsedDays(now.Add(-25*time.Hour), now))
	assert.Equal(t, 30, ElapsedDays(now.AddDate(0, 0, -30), now))
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in     string
		want   time.Time
		wantOK bool
	}{
		{in: "2024-03-01T10:00:00Z", want: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), wantOK: true},
		{in: "2024-03-01T10:00:00.123456Z", want: time.Date(2024, 3, 1, 10, 0, 0, 123456000, time.UTC), wantOK: true},
		{in: "2024-03-01T12:00:00+02:00", want: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), wantOK: true},
		{in: "2024-03-01T10:00:00", want: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), wantOK: true},
		{in: "2024-03-01 10:00:00", want: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), wantOK: true},
		{in: " 2024-03-01 ", want: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), wantOK: true},
		{in: ""},
		{in: "   "},
		{in: "not a date"},
		{in: "2024-13-45"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseTimestamp(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.True(t, tt.want.Equal(got), "got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSnapshotFromMap(t *testing.T) {
	tests := []struct {
		name string
		data string
		want Snapshot
	}{
		{
			name: "all fields",
			data: `{"completed_percent": 75.5, "avg_quiz_score": 80, "consecutive_missed_sessions": 2, "last_login": "2024-03-01"}`,
			want: Snapshot{
				CompletedPercent:          null.Float64From(75.5),
				AvgQuizScore:              null.Float64From(80),
				ConsecutiveMissedSessions: null.IntFrom(2),
				LastLogin:                 null.StringFrom("2024-03-01"),
			},
		},
		{
			name: "numeric strings",
			data: `{"completed_percent": "75.5", "consecutive_missed_sessions": " 3 "}`,
			want: Snapshot{
				CompletedPercent:          null.Float64From(75.5),
				ConsecutiveMissedSessions: null.IntFrom(3),
			},
		},
		{
			name: "wrong types are absent",
			data: `{"completed_percent": true, "avg_quiz_score": {}, "consecutive_missed_sessions": "lots", "last_login": 12}`,
			want: Snapshot{},
		},
		{name: "nulls", data: `{"completed_percent": null, "last_login": null}`, want: Snapshot{}},
		{name: "empty", data: `{}`, want: Snapshot{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(tt.data), &m))
			assert.Equal(t, tt.want, SnapshotFromMap(m))
		})
	}
}

func TestSnapshotFromMap_hugeMissedCount(t *testing.T) {
	s := SnapshotFromMap(map[string]interface{}{"consecutive_missed_sessions": 1e30})
	assert.Equal(t, math.MaxInt32, s.ConsecutiveMissedSessions.Int)
	assert.Equal(t, 1.0, Normalize(s, now).MissedFactor)
}
