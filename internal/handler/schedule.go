package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/meetup-schedule/internal/middleware"
	"github.com/iliyamo/meetup-schedule/internal/model"
	"github.com/iliyamo/meetup-schedule/internal/schedule"
)

// ScheduleService is the part of schedule.Service the HTTP layer uses.
type ScheduleService interface {
	Propose(ctx context.Context, cmd schedule.ProposeCommand) (model.Schedule, error)
	Get(ctx context.Context, id string) (model.Schedule, error)
	ListByMeetup(ctx context.Context, meetupID string) ([]model.Schedule, error)
	Delete(ctx context.Context, id, actingUserID string) error
	CastVote(ctx context.Context, id, userID string) (model.Schedule, error)
	RetractVote(ctx context.Context, id, userID string) (model.Schedule, error)
	Finalize(ctx context.Context, id string, actingUserID *string) (model.Schedule, error)
	Cancel(ctx context.Context, id, reason string, actingUserID *string) (model.Schedule, error)
}

// ScheduleHandler serves the /v1 schedule routes.  Every route expects
// JWTAuth to have run.
type ScheduleHandler struct {
	svc    ScheduleService
	logger *slog.Logger
}

// NewScheduleHandler panics on a nil service.
func NewScheduleHandler(svc ScheduleService, logger *slog.Logger) *ScheduleHandler {
	if svc == nil {
		panic("nil service passed to NewScheduleHandler")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ScheduleHandler{svc: svc, logger: logger}
}

// scheduleResponse is the wire form of a schedule.
type scheduleResponse struct {
	ID                 string     `json:"id"`
	MeetupID           string     `json:"meetup_id"`
	ProposedAt         time.Time  `json:"proposed_at"`
	Location           string     `json:"location"`
	Status             string     `json:"status"`
	VoteCount          int        `json:"vote_count"`
	Voters             []string   `json:"voters"`
	VotingDeadline     *time.Time `json:"voting_deadline,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	CreatedBy          string     `json:"created_by"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func toResponse(s model.Schedule) scheduleResponse {
	return scheduleResponse{
		ID:                 s.ID,
		MeetupID:           s.MeetupID,
		ProposedAt:         s.ProposedAt,
		Location:           s.Location,
		Status:             string(s.Status),
		VoteCount:          s.Voters.Len(),
		Voters:             s.Voters.Sorted(),
		VotingDeadline:     s.VotingDeadline,
		CancellationReason: s.CancellationReason,
		CreatedBy:          s.CreatedBy,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
}

func schedulePath(id string) string        { return "/v1/schedules/" + id }
func meetupSchedulesPath(id string) string { return "/v1/meetups/" + id + "/schedules" }

// ScheduleCache drops the cached detail and meetup list responses of a
// schedule.  The schedule service calls it after every committed change,
// including deadline-driven ones that never pass through a handler.
type ScheduleCache struct {
	cache *middleware.CacheInvalidator
}

func NewScheduleCache(cache *middleware.CacheInvalidator) *ScheduleCache {
	return &ScheduleCache{cache: cache}
}

// Invalidate implements schedule.Invalidator.
func (sc *ScheduleCache) Invalidate(ctx context.Context, s model.Schedule) {
	sc.cache.InvalidatePaths(ctx, schedulePath(s.ID), meetupSchedulesPath(s.MeetupID))
}

// currentUser returns the authenticated user and whether there is one.
func currentUser(c echo.Context) (string, bool) {
	uid := middleware.UserID(c)
	return uid, uid != ""
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}

// Propose handles POST /v1/meetups/:id/schedules.
//
// Body: {"proposed_at": RFC3339, "location": "...", "deadline": "2일 3시간 15분"}.
// The deadline is optional and defaults to three hours.
func (h *ScheduleHandler) Propose(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	var body struct {
		ProposedAt time.Time `json:"proposed_at"`
		Location   string    `json:"location"`
		Deadline   string    `json:"deadline"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_input", "message": "invalid request body"})
	}
	s, err := h.svc.Propose(c.Request().Context(), schedule.ProposeCommand{
		MeetupID:     c.Param("id"),
		ProposedAt:   body.ProposedAt,
		Location:     body.Location,
		DeadlineExpr: body.Deadline,
		ActingUserID: uid,
	})
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusCreated, toResponse(s))
}

// List handles GET /v1/meetups/:id/schedules.
func (h *ScheduleHandler) List(c echo.Context) error {
	list, err := h.svc.ListByMeetup(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	out := make([]scheduleResponse, 0, len(list))
	for _, s := range list {
		out = append(out, toResponse(s))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out, "count": len(out)})
}

// Get handles GET /v1/schedules/:id.
func (h *ScheduleHandler) Get(c echo.Context) error {
	s, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, toResponse(s))
}

// CastVote handles POST /v1/schedules/:id/votes.
func (h *ScheduleHandler) CastVote(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	s, err := h.svc.CastVote(c.Request().Context(), c.Param("id"), uid)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"schedule_id": s.ID, "vote_count": s.Voters.Len()})
}

// RetractVote handles DELETE /v1/schedules/:id/votes.
func (h *ScheduleHandler) RetractVote(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	s, err := h.svc.RetractVote(c.Request().Context(), c.Param("id"), uid)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"schedule_id": s.ID, "vote_count": s.Voters.Len()})
}

// Finalize handles POST /v1/schedules/:id/finalize.
func (h *ScheduleHandler) Finalize(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	s, err := h.svc.Finalize(c.Request().Context(), c.Param("id"), &uid)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, toResponse(s))
}

// Cancel handles POST /v1/schedules/:id/cancel with body {"reason": "..."}.
func (h *ScheduleHandler) Cancel(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_input", "message": "invalid request body"})
	}
	s, err := h.svc.Cancel(c.Request().Context(), c.Param("id"), body.Reason, &uid)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	return c.JSON(http.StatusOK, toResponse(s))
}

// Delete handles DELETE /v1/schedules/:id.
func (h *ScheduleHandler) Delete(c echo.Context) error {
	uid, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	if err := h.svc.Delete(c.Request().Context(), c.Param("id"), uid); err != nil {
		return writeError(c, h.logger, err)
	}
	return c.NoContent(http.StatusNoContent)
}
