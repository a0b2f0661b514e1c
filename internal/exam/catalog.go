package exam

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-cert/internal/apperr"
	"github.com/mind-engage/mindengage-cert/internal/db"
	"github.com/mind-engage/mindengage-cert/internal/progress"
)

// Catalog administers the question bank of every configured module.
type Catalog struct {
	db     *db.DB
	orders progress.Orders
	now    func() time.Time
	log    *slog.Logger
}

func NewCatalog(d *db.DB, orders progress.Orders, log *slog.Logger) *Catalog {
	if log == nil {
		log = slog.Default()
	}
	return &Catalog{db: d, orders: orders, now: time.Now, log: log}
}

// Put creates or replaces a question. The published flag is preserved on
// replace; use Publish to change it.
func (c *Catalog) Put(ctx context.Context, q Question) (Question, error) {
	const op = "exam.PutQuestion"
	q.CertType = strings.TrimSpace(q.CertType)
	q.ModuleID = strings.TrimSpace(q.ModuleID)
	if !c.orders.Has(q.CertType, q.ModuleID) {
		return Question{}, apperr.Validation(op, "module_id", "unknown module "+q.ModuleID+" for "+q.CertType)
	}
	if !q.Kind.Valid() {
		return Question{}, apperr.Validation(op, "kind", "must be multiple_choice or free_text")
	}
	if q.Points <= 0 {
		return Question{}, apperr.Validation(op, "points", "must be positive")
	}
	if q.TimeLimitSec < 0 {
		return Question{}, apperr.Validation(op, "time_limit_sec", "must not be negative")
	}
	if q.Kind == KindMultipleChoice && q.CorrectOption == "" {
		return Question{}, apperr.Validation(op, "correct_option", "required for multiple_choice")
	}
	if q.Kind == KindFreeText {
		q.CorrectOption = ""
	}
	if q.ID == "" {
		q.ID = uuid.NewString()
	}

	err := c.db.WithTx(ctx, func(h db.Handle) error {
		repo := NewRepo(h)
		old, found, err := repo.Question(ctx, q.ID)
		if err != nil {
			return err
		}
		if found {
			q.Published, q.PublishedAt, q.CreatedAt = old.Published, old.PublishedAt, old.CreatedAt
		} else {
			q.Published, q.PublishedAt = false, time.Time{}
			q.CreatedAt = c.now().UTC().Truncate(time.Second)
		}
		return repo.PutQuestion(ctx, q)
	})
	if err != nil {
		return Question{}, err
	}
	return q, nil
}

// Publish toggles whether a question takes part in scoring.
func (c *Catalog) Publish(ctx context.Context, id string, published bool) (q Question, err error) {
	const op = "exam.PublishQuestion"
	err = c.db.WithTx(ctx, func(h db.Handle) error {
		repo := NewRepo(h)
		var found bool
		q, found, err = repo.Question(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return apperr.NotFound(op, "question "+id+" not found")
		}
		if q.Published == published {
			return nil
		}
		q.Published = published
		q.PublishedAt = time.Time{}
		if published {
			q.PublishedAt = c.now().UTC().Truncate(time.Second)
		}
		return repo.PutQuestion(ctx, q)
	})
	if err != nil {
		return Question{}, err
	}
	c.log.InfoContext(ctx, "question publication changed", "question_id", id, "published", published)
	return q, nil
}

func (c *Catalog) List(ctx context.Context, certType, moduleID string, publishedOnly bool) ([]Question, error) {
	if !c.orders.Has(certType, moduleID) {
		return nil, apperr.Validation("exam.ListQuestions", "module_id", "unknown module "+moduleID+" for "+certType)
	}
	return NewRepo(c.db.Handle()).Questions(ctx, certType, moduleID, publishedOnly)
}
