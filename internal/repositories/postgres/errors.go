package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	domain "github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/repositories"
)

// wrapErr classifies a gorm error into a repositories.Error.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var repoErr *repositories.Error
	if errors.As(err, &repoErr) || errors.Is(err, domain.ErrValidation) {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return repositories.NewError(op, repositories.ErrorKindNotFound, err)
	case errors.Is(err, gorm.ErrDuplicatedKey), isUniqueViolation(err):
		return repositories.NewError(op, repositories.ErrorKindConflict, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), errors.Is(err, driver.ErrBadConn), isConnectionFailure(err):
		return repositories.NewError(op, repositories.ErrorKindUnavailable, err)
	default:
		return repositories.NewError(op, repositories.ErrorKindUnknown, err)
	}
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "sqlstate 23505")
}

func isConnectionFailure(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "sqlstate 57p01") ||
		strings.Contains(msg, "failed to connect")
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
