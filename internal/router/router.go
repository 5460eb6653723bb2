// Package router wires handlers and middleware onto the Echo instance.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/meetup-schedule/internal/config"
	"github.com/iliyamo/meetup-schedule/internal/handler"
	"github.com/iliyamo/meetup-schedule/internal/middleware"
)

// Deps collects what the routes need.  Redis, Gatherer and DB are optional.
type Deps struct {
	Schedules *handler.ScheduleHandler
	JWTSecret string
	RateLimit config.RateLimitConfig
	Cache     config.CacheConfig
	Redis     *redis.Client
	Gatherer  prometheus.Gatherer
	DB        handler.Pinger
}

// RegisterRoutes mounts the unauthenticated operational endpoints and the
// authenticated /v1 API.
func RegisterRoutes(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health(d.DB))
	if d.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := e.Group("/v1", middleware.JWTAuth(d.JWTSecret), middleware.NewRedisCache(d.Cache, d.Redis))
	registerScheduleRoutes(v1, d.Schedules, middleware.NewTokenBucket(d.RateLimit, d.Redis))
}

// registerScheduleRoutes mounts the schedule API.  Mutating routes sit
// behind the rate limiter; reads are served through the cache.
func registerScheduleRoutes(g *echo.Group, h *handler.ScheduleHandler, limit echo.MiddlewareFunc) {
	g.GET("/meetups/:id/schedules", h.List)
	g.POST("/meetups/:id/schedules", h.Propose, limit)

	g.GET("/schedules/:id", h.Get)
	g.DELETE("/schedules/:id", h.Delete, limit)
	g.POST("/schedules/:id/votes", h.CastVote, limit)
	g.DELETE("/schedules/:id/votes", h.RetractVote, limit)
	g.POST("/schedules/:id/finalize", h.Finalize, limit)
	g.POST("/schedules/:id/cancel", h.Cancel, limit)
}
