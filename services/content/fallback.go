package contentsvc

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/engage/core"
	"github.com/trezcool/engage/core/learner"
	"github.com/trezcool/engage/fs"
)

const (
	FallbackPromptVersion = "fallback_v1.0"

	defaultNudgeText = "Hi {name}! Time to continue your learning journey."
	defaultName      = "there"
	defaultProgram   = "your course"
)

// Template is a static nudge; {name} and {completion} are substituted.
type Template struct {
	Channel string `json:"channel"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

func ParseTemplates(r io.Reader) ([]Template, error) {
	var templates []Template
	if err := json.NewDecoder(r).Decode(&templates); err != nil {
		return nil, errors.Wrap(err, "decoding templates")
	}
	return templates, nil
}

// LoadTemplates reads the templates at conf.Nudge.TemplatesPath, or the embedded set.
// Failures are logged and yield no templates.
func LoadTemplates(conf *core.Config, logger core.Logger) []Template {
	var (
		f   io.ReadCloser
		err error
	)
	if conf.Nudge.TemplatesPath != "" {
		f, err = os.Open(conf.Nudge.TemplatesPath)
	} else {
		f, err = appfs.FS.Open(appfs.FallbackNudgesPath)
	}
	if err != nil {
		logger.Error("loading fallback nudges", errors.Wrap(err, "opening templates"))
		return nil
	}
	defer func() { _ = f.Close() }()

	templates, err := ParseTemplates(f)
	if err != nil {
		logger.Error("loading fallback nudges", err)
		return nil
	}
	return templates
}

// Fallback writes content from static templates.
type Fallback struct {
	templates []Template
}

func NewFallback(templates []Template) *Fallback {
	return &Fallback{templates: templates}
}

// nudgeType picks the template type from the learner's progress;
// the requested nudge type is not taken into account.
func nudgeType(nc learner.NudgeContext) string {
	switch {
	case nc.CompletedPercent > 50:
		return learner.NudgeTypeCompletionBoost
	case nc.AvgQuizScore < 70:
		return learner.NudgeTypeQuizReminder
	}
	return learner.NudgeTypeEngagement
}

// pick returns the template for channel & typ, else the first of typ, else the first.
func (f *Fallback) pick(channel, typ string) Template {
	for _, t := range f.templates {
		if t.Channel == channel && t.Type == typ {
			return t
		}
	}
	for _, t := range f.templates {
		if t.Type == typ {
			return t
		}
	}
	return f.templates[0]
}

func (f *Fallback) Nudge(nc learner.NudgeContext) learner.GeneratedNudge {
	text := defaultNudgeText
	if len(f.templates) > 0 {
		text = f.pick(nc.Channel, nudgeType(nc)).Content
	}

	name := nc.Name
	if name == "" {
		name = defaultName
	}
	text = strings.NewReplacer(
		"{name}", name,
		"{completion}", strconv.FormatFloat(nc.CompletedPercent, 'f', -1, 64),
	).Replace(text)

	return learner.GeneratedNudge{
		Generated: learner.Generated{PromptVersion: FallbackPromptVersion, Fallback: true},
		Content:   text,
	}
}

func (f *Fallback) Quiz(qc learner.QuizContext) learner.GeneratedQuiz {
	program := qc.Program
	if program == "" {
		program = defaultProgram
	}
	return learner.GeneratedQuiz{
		Generated: learner.Generated{PromptVersion: FallbackPromptVersion, Fallback: true},
		Quiz: learner.Quiz{
			Title: "Knowledge Check: " + program,
			Questions: []learner.QuizQuestion{
				{
					Question: fmt.Sprintf("What is the most important concept you've learned in %s so far?", program),
					Type:     "open_ended",
					Points:   10,
				},
				{
					Question: fmt.Sprintf("How would you apply the concepts from %s in a real-world scenario?", program),
					Type:     "open_ended",
					Points:   10,
				},
				{
					Question: fmt.Sprintf("What aspect of %s would you like to explore further?", program),
					Type:     "open_ended",
					Points:   5,
				},
			},
			TotalPoints: 25,
		},
	}
}
