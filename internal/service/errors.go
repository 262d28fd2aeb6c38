package service

import (
	"errors"
	"log/slog"

	"github.com/sakif/campus-market/internal/apperror"
)

// storeError passes domain errors from a repository through untouched and
// turns everything else (driver errors, closed connections, timeouts) into
// an Unavailable error for the HTTP layer to answer with 503.
func storeError(logger *slog.Logger, op string, err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	logger.Error("store failure", slog.String("op", op), slog.String("error", err.Error()))
	return apperror.Unavailable("data store", err)
}
