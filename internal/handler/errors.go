package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/meetup-schedule/internal/repository"
)

// statusFor maps the service error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, repository.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// codeFor returns a stable machine-readable code for err.
func codeFor(err error) string {
	codes := []struct {
		target error
		code   string
	}{
		{repository.ErrScheduleNotFound, "schedule_not_found"},
		{repository.ErrVoteNotFound, "vote_not_found"},
		{repository.ErrAlreadyVoted, "already_voted"},
		{repository.ErrAlreadyConfirmed, "already_confirmed"},
		{repository.ErrVotingNotAllowed, "voting_not_allowed"},
		{repository.ErrCancellationNotAllowed, "cancellation_not_allowed"},
		{repository.ErrFinalizeNotAllowed, "finalize_not_allowed"},
		{repository.ErrForbidden, "forbidden"},
		{repository.ErrInvalidInput, "invalid_input"},
	}
	for _, c := range codes {
		if errors.Is(err, c.target) {
			return c.code
		}
	}
	return "internal_error"
}

// writeError renders err as {"error", "message"}.  Internal errors are
// logged and their details withheld from the client.
func writeError(c echo.Context, logger *slog.Logger, err error) error {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			"event", "http_request_failed",
			"module", "internal/handler",
			"layer", "handler",
			"method", c.Request().Method,
			"path", c.Path(),
			"error", err.Error(),
		)
		return c.JSON(status, echo.Map{"error": codeFor(err), "message": "internal error"})
	}
	return c.JSON(status, echo.Map{"error": codeFor(err), "message": err.Error()})
}
