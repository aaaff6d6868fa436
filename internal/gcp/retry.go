package gcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultMaxRetries = 4

// initialBackoff doubles after every failed attempt.
var initialBackoff = 1 * time.Second

// errPermanent marks an error that retrying cannot fix.
var errPermanent = errors.New("permanent failure")

func permanent(err error) error {
	return fmt.Errorf("%w: %w", errPermanent, err)
}

// withRetry runs op up to maxRetries times with exponential backoff. A
// cancelled ctx aborts the wait between attempts.
func withRetry(ctx context.Context, logCtx *slog.Logger, what string, maxRetries int, op func(ctx context.Context) error) error {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := initialBackoff
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, errPermanent) || !retryable(err) {
			return err
		}
		if i == maxRetries-1 {
			break
		}

		logCtx.Warn(
			what+" failed, will retry.",
			"attempt", i+1,
			"maxRetries", maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			logCtx.Error("Context cancelled during backoff. Aborting retries.", "error", ctx.Err())
			return ctx.Err()
		}
	}
	logCtx.Error(what+" failed after all retries.", "error", lastErr)
	return fmt.Errorf("%s failed after %d attempts: %w", what, maxRetries, lastErr)
}

// retryable treats client errors other than throttling as final, for both
// REST and gRPC transports.
func retryable(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusTooManyRequests, gerr.Code == http.StatusRequestTimeout:
			return true
		case gerr.Code >= 400 && gerr.Code < 500:
			return false
		}
	}
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied, codes.Unauthenticated, codes.FailedPrecondition:
			return false
		}
	}
	return !errors.Is(err, context.Canceled)
}

// isStatus reports whether err is a googleapi error with the given code.
func isStatus(err error, code int) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == code
}
