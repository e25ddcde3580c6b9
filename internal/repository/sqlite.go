package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/isdelr/usermgmt-be/internal/models"
)

const userColumns = "id, username, email, password_hash, mobile, profile_image, role, active, created_at, updated_at"

// timeLayout is fixed-width so that timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteUserRepository stores accounts in SQLite.
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewSQLiteUserRepository creates a repository on a migrated database.
func NewSQLiteUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

// Create inserts a new account. Uniqueness is enforced by the table's
// UNIQUE constraints in the same statement.
func (r *SQLiteUserRepository) Create(ctx context.Context, user *models.User) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO users("+userColumns+") VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		user.ID, user.Username, user.Email, user.PasswordHash,
		nullString(user.Mobile), nullString(user.ProfileImage),
		string(user.Role), user.Active,
		formatTime(user.CreatedAt), formatTime(user.UpdatedAt),
	)
	if err != nil {
		return sqliteError(err)
	}
	return nil
}

func (r *SQLiteUserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, "id", id)
}

func (r *SQLiteUserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, "email", email)
}

func (r *SQLiteUserRepository) FindByMobile(ctx context.Context, mobile string) (*models.User, error) {
	return r.findOne(ctx, "mobile", mobile)
}

func (r *SQLiteUserRepository) findOne(ctx context.Context, column, value string) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE "+column+" = ?", value)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user by %s: %w", column, err)
	}
	return user, nil
}

// Update replaces every mutable column of the account.
func (r *SQLiteUserRepository) Update(ctx context.Context, user *models.User) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET username = ?, email = ?, password_hash = ?, mobile = ?, profile_image = ?,
		role = ?, active = ?, updated_at = ? WHERE id = ?`,
		user.Username, user.Email, user.PasswordHash,
		nullString(user.Mobile), nullString(user.ProfileImage),
		string(user.Role), user.Active, formatTime(user.UpdatedAt), user.ID,
	)
	if err != nil {
		return sqliteError(err)
	}
	return affectedOne(res)
}

// Delete removes the account permanently.
func (r *SQLiteUserRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return affectedOne(res)
}

func (r *SQLiteUserRepository) List(ctx context.Context, offset, limit int) ([]models.User, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY created_at, id LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	return users, total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(s rowScanner) (*models.User, error) {
	var (
		user                 models.User
		mobile, profileImage sql.NullString
		role                 string
		createdAt, updatedAt string
	)
	err := s.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&mobile, &profileImage, &role, &user.Active, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	user.Mobile = mobile.String
	user.ProfileImage = profileImage.String
	user.Role = models.Role(role)
	if user.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if user.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &user, nil
}

func affectedOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// sqliteError turns a UNIQUE constraint violation into a DuplicateError.
// The driver reports it as "UNIQUE constraint failed: users.<column>".
func sqliteError(err error) error {
	msg := err.Error()
	const marker = "UNIQUE constraint failed: users."
	if i := strings.Index(msg, marker); i >= 0 {
		field := msg[i+len(marker):]
		if j := strings.IndexFunc(field, func(r rune) bool {
			return !(r == '_' || r >= 'a' && r <= 'z')
		}); j >= 0 {
			field = field[:j]
		}
		return &DuplicateError{Field: field}
	}
	return fmt.Errorf("write user: %w", err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
