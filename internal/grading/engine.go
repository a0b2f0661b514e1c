package grading

import (
	"context"
	"strings"
)

// Question kinds understood by the default grader.
const (
	KindMultipleChoice = "multiple_choice"
	KindFreeText       = "free_text"
)

// Q is a minimal view of a question needed for grading.
type Q struct {
	Kind          string
	Points        float64
	CorrectOption string
}

// Result is the outcome of grading a single question response.
type Result struct {
	AutoPoints  float64  // points awarded automatically
	MaxPoints   float64  // the question's max points
	NeedsManual bool     // true if an examiner must confirm the points
	Feedback    []string // optional notes
}

// Strategy grades a single question.
type Strategy interface {
	Grade(ctx context.Context, q Q, response interface{}) (Result, error)
}

// Grader routes by question kind to the correct Strategy.
type Grader interface {
	Grade(ctx context.Context, q Q, response interface{}) (Result, error)
}

type defaultGrader struct {
	strategies map[string]Strategy
}

func (g *defaultGrader) Grade(ctx context.Context, q Q, response interface{}) (Result, error) {
	s, ok := g.strategies[q.Kind]
	if !ok {
		return Result{MaxPoints: q.Points, NeedsManual: true, Feedback: []string{"no strategy available"}}, nil
	}
	return s.Grade(ctx, q, response)
}

// Engine options

type Option func(*config)

type config struct {
	ProvisionalFreeText bool // award free-text answers full points until an examiner grades them
	Extra               map[string]Strategy
}

func WithProvisionalFreeText(b bool) Option { return func(c *config) { c.ProvisionalFreeText = b } }

func WithStrategy(kind string, s Strategy) Option {
	return func(c *config) { c.Extra[kind] = s }
}

// NewDefaultGrader installs built-in strategies.
func NewDefaultGrader(opts ...Option) Grader {
	cfg := &config{
		ProvisionalFreeText: true,
		Extra:               map[string]Strategy{},
	}
	for _, o := range opts {
		o(cfg)
	}
	strategies := map[string]Strategy{
		KindMultipleChoice: multipleChoiceStrategy{},
		KindFreeText:       freeTextStrategy{provisional: cfg.ProvisionalFreeText},
	}
	for k, s := range cfg.Extra {
		strategies[k] = s
	}
	return &defaultGrader{strategies: strategies}
}

// Answered reports whether a response carries anything to grade.
func Answered(response interface{}) bool {
	switch v := response.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(v) != ""
	default:
		return true
	}
}

// --- Strategies ---

// multipleChoiceStrategy awards full points iff the chosen option id equals
// the recorded correct option exactly. A response that is not an option id
// scores zero like any other wrong choice.
type multipleChoiceStrategy struct{}

func (multipleChoiceStrategy) Grade(_ context.Context, q Q, response interface{}) (Result, error) {
	res := Result{MaxPoints: q.Points}
	resp, ok := response.(string)
	if !ok {
		res.Feedback = []string{"response is not an option id"}
		return res, nil
	}
	if q.CorrectOption != "" && resp == q.CorrectOption {
		res.AutoPoints = q.Points
	}
	return res, nil
}

type freeTextStrategy struct{ provisional bool }

func (s freeTextStrategy) Grade(_ context.Context, q Q, response interface{}) (Result, error) {
	res := Result{MaxPoints: q.Points, NeedsManual: true, Feedback: []string{"manual grading required"}}
	if _, ok := response.(string); !ok {
		// left entirely to the examiner
		return res, nil
	}
	if s.provisional && Answered(response) {
		res.AutoPoints = q.Points
		res.Feedback = append(res.Feedback, "provisional full credit")
	}
	return res, nil
}
