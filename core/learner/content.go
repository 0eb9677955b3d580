package learner

import "context"

type (
	// NudgeContext is what a ContentGenerator knows about the learner to nudge.
	NudgeContext struct {
		Name                      string
		Program                   string
		Channel                   string
		Type                      string
		CompletedPercent          float64
		AvgQuizScore              float64
		ConsecutiveMissedSessions int
	}

	QuizContext struct {
		Name             string
		Program          string
		CompletedPercent float64
		Difficulty       string
		TopicFocus       string // optional
	}

	QuizQuestion struct {
		Question string   `json:"question"`
		Type     string   `json:"type"`
		Options  []string `json:"options,omitempty"`
		Points   int      `json:"points"`
	}

	Quiz struct {
		Title       string         `json:"title"`
		Questions   []QuizQuestion `json:"questions"`
		TotalPoints int            `json:"total_points"`
	}

	// Generated is the metadata of a generated piece of content.
	Generated struct {
		PromptVersion string
		Fallback      bool // static template, no language model involved
	}

	GeneratedNudge struct {
		Generated
		Content string
	}

	GeneratedQuiz struct {
		Generated
		Quiz Quiz
	}

	// ContentGenerator writes nudges and quizzes.
	// Implementations never fail: they degrade to static content instead.
	ContentGenerator interface {
		GenerateNudge(ctx context.Context, nc NudgeContext) GeneratedNudge
		GenerateQuiz(ctx context.Context, qc QuizContext) GeneratedQuiz
	}
)

func nudgeContext(l Learner, channel, typ string) NudgeContext {
	return NudgeContext{
		Name:                      l.Name,
		Program:                   l.Program,
		Channel:                   channel,
		Type:                      typ,
		CompletedPercent:          l.CompletedPercent,
		AvgQuizScore:              l.AvgQuizScore,
		ConsecutiveMissedSessions: l.ConsecutiveMissedSessions,
	}
}
