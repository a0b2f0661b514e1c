// Package directory resolves candidate and examiner identities.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/mind-engage/mindengage-cert/internal/apperr"
	"github.com/mind-engage/mindengage-cert/internal/db"
	"github.com/mind-engage/mindengage-cert/internal/rbac"
)

// Person is an identity known to the engine.
type Person struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	IDNumber    string `json:"id_number,omitempty"`
	Role        string `json:"role"`
}

type Directory interface {
	Lookup(ctx context.Context, userID string) (Person, error)
}

// SQLDirectory is backed by the users table.
type SQLDirectory struct {
	db  *db.DB
	now func() time.Time
}

func NewSQL(d *db.DB) *SQLDirectory { return &SQLDirectory{db: d, now: time.Now} }

func (s *SQLDirectory) Lookup(ctx context.Context, userID string) (Person, error) {
	return LookupTx(ctx, s.db.Handle(), userID)
}

// LookupTx reads a person through h, which may be an open transaction.
func LookupTx(ctx context.Context, h db.Handle, userID string) (Person, error) {
	const op = "directory.Lookup"
	if userID == "" {
		return Person{}, apperr.Validation(op, "user_id", "required")
	}
	var p Person
	err := h.QueryRow(ctx, `SELECT id, display_name, id_number, role FROM users WHERE id=?`, userID).
		Scan(&p.ID, &p.DisplayName, &p.IDNumber, &p.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return Person{}, apperr.NotFound(op, "user "+userID+" not found")
	}
	if err != nil {
		return Person{}, err
	}
	return p, nil
}

// List returns people ordered by display name, optionally filtered by role.
func (s *SQLDirectory) List(ctx context.Context, role string) ([]Person, error) {
	h := s.db.Handle()
	var (
		rows *sql.Rows
		err  error
	)
	if role == "" {
		rows, err = h.Query(ctx, `SELECT id, display_name, id_number, role FROM users ORDER BY display_name, id`)
	} else {
		rows, err = h.Query(ctx, `SELECT id, display_name, id_number, role FROM users WHERE role=? ORDER BY display_name, id`, role)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Person{}
	for rows.Next() {
		var p Person
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.IDNumber, &p.Role); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Upsert inserts or updates people in one transaction.
func (s *SQLDirectory) Upsert(ctx context.Context, people []Person) (inserted, updated int, err error) {
	const op = "directory.Upsert"
	for i := range people {
		p := &people[i]
		p.ID = strings.TrimSpace(p.ID)
		p.Role = strings.ToLower(strings.TrimSpace(p.Role))
		if p.ID == "" {
			return 0, 0, apperr.Validation(op, "id", "required")
		}
		if p.Role == "" {
			p.Role = rbac.RoleCandidate
		}
		if !rbac.KnownRole(p.Role) {
			return 0, 0, apperr.Validation(op, "role", "invalid role: "+p.Role)
		}
	}

	now := s.now().Unix()
	err = s.db.WithTx(ctx, func(h db.Handle) error {
		for _, p := range people {
			var exists bool
			if err := h.QueryRow(ctx, `SELECT 1 FROM users WHERE id=?`, p.ID).Scan(new(int)); err == nil {
				exists = true
			} else if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			if exists {
				if _, err := h.Exec(ctx, `UPDATE users SET display_name=?, id_number=?, role=? WHERE id=?`,
					p.DisplayName, p.IDNumber, p.Role, p.ID); err != nil {
					return err
				}
				updated++
				continue
			}
			if _, err := h.Exec(ctx, `INSERT INTO users (id, display_name, id_number, role, created_at) VALUES (?,?,?,?,?)`,
				p.ID, p.DisplayName, p.IDNumber, p.Role, now); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return inserted, updated, nil
}
