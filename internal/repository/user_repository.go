package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/dreamteamprod/digiscript-live/internal/database"
	"github.com/dreamteamprod/digiscript-live/internal/model"
	"github.com/dreamteamprod/digiscript-live/internal/utils"
)

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// Create inserts user and returns its ID. The first user ever created is
// made an admin so a fresh install can be administered.
func (r *UserRepo) Create(ctx context.Context, email, password string, cost int) (uint64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	var id uint64
	err = withTx(ctx, r.DB, func(tx *sql.Tx) error {
		var existing int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&existing); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			"INSERT INTO users (email, password_hash, is_admin, is_active, created_at) VALUES (?,?,?,1,?)",
			email, hash, existing == 0, now())
		if err != nil {
			if isUniqueViolation(err) {
				return ErrEmailExists
			}
			return err
		}
		id, err = lastID(res)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

const userColumns = "id,email,password_hash,is_admin,is_active,created_at"

func scanUser(row *sql.Row) (model.User, error) {
	var (
		u       model.User
		created int64
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.IsActive, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	u.CreatedAt = database.FromMillis(created)
	return u, err
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", email))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
}

// isUniqueViolation recognises duplicate-key errors from MySQL (1062) and
// SQLite.
func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "1062") || strings.Contains(msg, "unique constraint")
}
