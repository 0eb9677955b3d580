package contentsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	"github.com/trezcool/engage/core"
	"github.com/trezcool/engage/core/learner"
)

const (
	PromptVersion = "v1.0"

	nudgeSystemPrompt = "You are a supportive learning coach who creates personalized, encouraging messages for learners."
	quizSystemPrompt  = "You are an educational content creator who designs effective quizzes. Always respond with valid JSON."

	nudgeMaxTokens   = 200
	nudgeTemperature = 0.7
	quizMaxTokens    = 800
	quizTemperature  = 0.5
)

var errEmptyCompletion = errors.New("empty completion")

// Generator writes content with an OpenAI chat model and falls back to
// static templates when the model is not configured or fails.
type Generator struct {
	client   *openai.Client // nil without an API key
	model    string
	timeout  time.Duration
	fallback *Fallback
	logger   core.Logger
}

var _ learner.ContentGenerator = (*Generator)(nil)

func NewGenerator(conf *core.Config, fallback *Fallback, logger core.Logger) *Generator {
	g := &Generator{
		model:    conf.OpenAI.Model,
		timeout:  conf.OpenAI.Timeout,
		fallback: fallback,
		logger:   logger,
	}
	if conf.OpenAI.APIKey == "" {
		logger.Warn("OpenAI API key not set, using fallback content")
		return g
	}

	config := openai.DefaultConfig(conf.OpenAI.APIKey)
	if conf.OpenAI.BaseURL != "" {
		config.BaseURL = conf.OpenAI.BaseURL
	}
	g.client = openai.NewClientWithConfig(config)
	return g
}

// Enabled reports whether a language model is configured.
func (g *Generator) Enabled() bool {
	return g.client != nil
}

func (g *Generator) complete(ctx context.Context, system, prompt string, maxTokens int, temperature float32) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", errors.Wrap(err, "creating chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", errEmptyCompletion
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", errEmptyCompletion
	}
	return content, nil
}

func nudgePrompt(nc learner.NudgeContext) string {
	program := nc.Program
	if program == "" {
		program = "the course"
	}
	return fmt.Sprintf(`Generate a personalized learning nudge for %s who is enrolled in %s.

Learner Context:
- Completion: %g%%
- Average quiz score: %g%%
- Consecutive missed sessions: %d
- Delivery channel: %s
- Nudge goal: %s

Requirements:
- Be encouraging and supportive
- Reference their specific progress
- Include a clear call to action
- Match the tone for %s channel
- Keep it concise but engaging
- Use their name naturally

Generate only the nudge content, no additional formatting or explanations.`,
		nc.Name, program, nc.CompletedPercent, nc.AvgQuizScore, nc.ConsecutiveMissedSessions,
		nc.Channel, strings.ReplaceAll(nc.Type, "_", " "), nc.Channel)
}

func (g *Generator) GenerateNudge(ctx context.Context, nc learner.NudgeContext) learner.GeneratedNudge {
	if g.client == nil {
		return g.fallback.Nudge(nc)
	}

	content, err := g.complete(ctx, nudgeSystemPrompt, nudgePrompt(nc), nudgeMaxTokens, nudgeTemperature)
	if err != nil {
		g.logger.Warn("generating nudge, using fallback", err)
		return g.fallback.Nudge(nc)
	}
	return learner.GeneratedNudge{
		Generated: learner.Generated{PromptVersion: PromptVersion},
		Content:   content,
	}
}

func quizPrompt(qc learner.QuizContext) string {
	program := qc.Program
	if program == "" {
		program = "the course"
	}
	var topics string
	if qc.TopicFocus != "" {
		topics = "Focus on: " + qc.TopicFocus
	}
	return fmt.Sprintf(`Create a %s difficulty quiz for %s who is %g%% through %s.

Context:
%s

Requirements:
- Generate 3-5 questions appropriate for their progress level
- Mix of question types (multiple choice, short answer, scenario-based)
- Include point values for each question
- Questions should test understanding, not just memorization
- Make it engaging and relevant to %s

Return the quiz in this JSON format:
{
    "title": "Quiz title",
    "questions": [
        {
            "question": "Question text",
            "type": "multiple_choice|short_answer|scenario",
            "options": ["A", "B", "C", "D"] (only for multiple choice),
            "points": 10
        }
    ],
    "total_points": 50
}`, qc.Difficulty, qc.Name, qc.CompletedPercent, program, topics, program)
}

// parseQuiz decodes a model answer, possibly wrapped in a markdown code fence.
func parseQuiz(content string) (learner.Quiz, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}

	var quiz learner.Quiz
	if err := json.Unmarshal([]byte(content), &quiz); err != nil {
		return learner.Quiz{}, errors.Wrap(err, "decoding quiz")
	}
	if len(quiz.Questions) == 0 {
		return learner.Quiz{}, errors.New("quiz has no questions")
	}
	if quiz.TotalPoints == 0 {
		for _, q := range quiz.Questions {
			quiz.TotalPoints += q.Points
		}
	}
	return quiz, nil
}

func (g *Generator) GenerateQuiz(ctx context.Context, qc learner.QuizContext) learner.GeneratedQuiz {
	if g.client == nil {
		return g.fallback.Quiz(qc)
	}

	content, err := g.complete(ctx, quizSystemPrompt, quizPrompt(qc), quizMaxTokens, quizTemperature)
	if err == nil {
		var quiz learner.Quiz
		if quiz, err = parseQuiz(content); err == nil {
			return learner.GeneratedQuiz{
				Generated: learner.Generated{PromptVersion: PromptVersion},
				Quiz:      quiz,
			}
		}
	}
	g.logger.Warn("generating quiz, using fallback", err)
	return g.fallback.Quiz(qc)
}
