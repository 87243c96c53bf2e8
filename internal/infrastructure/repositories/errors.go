package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domainerrors "circlesave.backend/internal/domain/errors"
	"gorm.io/gorm"
)

// translateError maps driver/gorm failures onto domain sentinels.
// Requires gorm.Config{TranslateError: true} for duplicate keys.
func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domainerrors.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), isUniqueViolation(err):
		return domainerrors.ErrAlreadyExists
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", domainerrors.ErrExternalUnavailable, err)
	default:
		return err
	}
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "SQLSTATE 23505")
}
