package grading

import (
	"fmt"

	"github.com/mind-engage/mindengage-cert/internal/apperr"
)

// Award is an examiner's points for one question.
type Award struct {
	QuestionID string  `json:"question_id" validate:"required"`
	Score      float64 `json:"score" validate:"gte=0"`
	Feedback   string  `json:"feedback,omitempty"`
}

// Tally validates awards against each question's points and sums them.
// limits maps question id to points possible; a question may be awarded at
// most once, and questions without an award count as zero.
func Tally(limits map[string]float64, awards []Award) (float64, map[string]Award, error) {
	const op = "grading.Tally"
	total := 0.0
	out := make(map[string]Award, len(awards))
	for i, a := range awards {
		field := fmt.Sprintf("grades[%d]", i)
		max, ok := limits[a.QuestionID]
		if !ok {
			return 0, nil, apperr.Validation(op, field+".question_id", "unknown question "+a.QuestionID)
		}
		if _, dup := out[a.QuestionID]; dup {
			return 0, nil, apperr.Validation(op, field+".question_id", "question graded twice")
		}
		if a.Score < 0 || a.Score > max {
			return 0, nil, apperr.Validation(op, field+".score", fmt.Sprintf("must be between 0 and %g", max))
		}
		out[a.QuestionID] = a
		total += a.Score
	}
	return total, out, nil
}
