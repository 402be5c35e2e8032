package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hanko-field/rewards/internal/repositories"
)

// WrapError annotates Firestore errors with repository semantics. Context cancellations and
// errors that did not come from the backend are passed through.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var repoErr *repositories.Error
	if errors.As(err, &repoErr) {
		return err
	}

	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	case codes.NotFound:
		return repositories.NewError(op, repositories.ErrorKindNotFound, err)
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted, codes.OutOfRange:
		return repositories.NewError(op, repositories.ErrorKindConflict, err)
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal:
		return repositories.NewError(op, repositories.ErrorKindUnavailable, err)
	default:
		return repositories.NewError(op, repositories.ErrorKindUnknown, err)
	}
}

// IsAlreadyExists reports whether a create lost against an existing document.
func IsAlreadyExists(err error) bool {
	return status.Code(err) == codes.AlreadyExists
}

// IsNotFound reports whether the raw Firestore error names a missing document.
func IsNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}
