package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// fault tags a collaborator error with the reason logged at the boundary.
type fault struct {
	reason string
	err    error
}

func (f *fault) Error() string { return f.reason + ": " + f.err.Error() }

func (f *fault) Unwrap() error { return f.err }

func failed(reason string, err error) error {
	return &fault{reason: reason, err: err}
}

// guard runs fn and converts any error or panic into a stage *Error.
func (s *Service) guard(ctx context.Context, stage Stage, sessionID string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = s.convert(ctx, stage, sessionID, failed("panic", fmt.Errorf("%v", r)))
		}
	}()
	if ferr := fn(ctx); ferr != nil {
		return s.convert(ctx, stage, sessionID, ferr)
	}
	return nil
}

func (s *Service) convert(ctx context.Context, stage Stage, sessionID string, err error) *Error {
	reason := "collaborator_error"
	var f *fault
	if errors.As(err, &f) {
		reason = f.reason
	}

	code := ErrorTransient
	switch {
	case errors.Is(err, ErrEmptyInput), errors.Is(err, ErrNoContent):
		code = ErrorUsage
	case errors.Is(err, ErrConfiguration):
		code = ErrorConfiguration
	}

	level := slog.LevelError
	if code == ErrorUsage {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "stage failed",
		slog.String("stage", string(stage)),
		slog.String("session_id", sessionID),
		slog.String("code", string(code)),
		slog.String("reason", reason),
		slog.Any("err", err),
	)
	return newError(code, stage, reason, err)
}
