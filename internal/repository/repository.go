// Package repository is the credential store: it owns account records and
// enforces their uniqueness constraints atomically at insert/update time.
package repository

import (
	"context"
	"fmt"

	"github.com/isdelr/usermgmt-be/internal/common"
	"github.com/isdelr/usermgmt-be/internal/models"
)

// ErrNotFound is returned when no account matches a lookup.
var ErrNotFound = common.NotFound("User not found")

// DuplicateError reports which unique field an insert or update collided on.
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate %s", e.Field)
}

// Unwrap lets callers match duplicates with errors.Is(err, common.ErrConflict).
func (e *DuplicateError) Unwrap() error {
	return common.ErrConflict
}

// UserRepository stores accounts.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByMobile(ctx context.Context, mobile string) (*models.User, error)
	// Update replaces the stored record with the same ID.
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id string) error
	// List returns a page of accounts ordered by creation time and the
	// total number of accounts.
	List(ctx context.Context, offset, limit int) ([]models.User, int64, error)
}
