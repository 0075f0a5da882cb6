// Package api is the HTTP control surface of the launcher.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/metrics"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/notify"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/scheduler"
	"github.com/Yarpii/DayZ-Server-Launcher-Simple/internal/status"
)

// Server is the supervisor as seen by the API.
type Server interface {
	Current() status.StatusEvent
	PID() int
	Stop(timeout time.Duration)
}

// Scheduler is the restart scheduler as seen by the API.
type Scheduler interface {
	Snapshot() []scheduler.ScheduledRestart
	Next() (scheduler.ScheduledRestart, bool)
	AddOneTimeRestart(t time.Time, reason string) (scheduler.ScheduledRestart, error)
	AddRecurringRestart(timeOfDay string, warningMinutes int, reason string) (scheduler.ScheduledRestart, error)
	RemoveScheduledRestart(id string) bool
	ClearSchedule()
	RestartNow(ctx context.Context, reason string, delay time.Duration) error
}

// Resources reports the latest resource sample of the server process.
type Resources interface {
	Latest() (metrics.Sample, bool)
}

// Router provides embeddable HTTP handlers for controlling the server.
// Endpoints (relative to basePath):
//
//	GET    /status
//	GET    /schedule
//	POST   /schedule/once       body: {"time": RFC3339, "reason": "..."}
//	POST   /schedule/recurring  body: {"time_of_day": "HH:mm", "warning_minutes": 5, "reason": "..."}
//	DELETE /schedule/:id
//	DELETE /schedule
//	POST   /restart             body: {"reason": "...", "delay_seconds": 0}
//	POST   /stop                query: wait=30s
type Router struct {
	server    Server
	sched     Scheduler
	resources Resources
	notifier  notify.Notifier
	basePath  string
	ctx       context.Context
	stopWait  time.Duration
}

type Option func(*Router)

// WithResources adds the latest resource sample to GET /status.
func WithResources(r Resources) Option { return func(rt *Router) { rt.resources = r } }

// WithNotifier reports operator actions.
func WithNotifier(n notify.Notifier) Option { return func(rt *Router) { rt.notifier = n } }

// WithContext bounds background work started by handlers, such as delayed
// restarts, to ctx.
func WithContext(ctx context.Context) Option { return func(rt *Router) { rt.ctx = ctx } }

// WithStopWait sets the default wait for POST /stop.
func WithStopWait(d time.Duration) Option { return func(rt *Router) { rt.stopWait = d } }

// NewRouter constructs a Router. Example basePath: "/api" results in
// /api/status, /api/schedule and so on.
func NewRouter(server Server, sched Scheduler, basePath string, opts ...Option) *Router {
	r := &Router{
		server:   server,
		sched:    sched,
		notifier: notify.Discard{},
		basePath: sanitizeBase(basePath),
		ctx:      context.Background(),
		stopWait: 30 * time.Second,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/schedule", r.handleSchedule)
	group.POST("/schedule/once", r.handleAddOnce)
	group.POST("/schedule/recurring", r.handleAddRecurring)
	group.DELETE("/schedule/:id", r.handleRemove)
	group.DELETE("/schedule", r.handleClear)
	group.POST("/restart", r.handleRestart)
	group.POST("/stop", r.handleStop)
	return g
}

// NewServer wraps h in an http.Server with conservative timeouts. The caller
// starts and shuts it down.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      time.Minute,
		IdleTimeout:       60 * time.Second,
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type statusResp struct {
	Status     string          `json:"status"`
	Detail     string          `json:"detail,omitempty"`
	ObservedAt time.Time       `json:"observed_at"`
	PID        int             `json:"pid,omitempty"`
	Resources  *metrics.Sample `json:"resources,omitempty"`
	Next       *scheduleEntry  `json:"next_restart,omitempty"`
}

type scheduleEntry struct {
	ID             string    `json:"id"`
	At             time.Time `json:"at"`
	Recurring      bool      `json:"recurring"`
	TimeOfDay      string    `json:"time_of_day,omitempty"`
	WarningMinutes int       `json:"warning_minutes"`
	Reason         string    `json:"reason,omitempty"`
}

func toEntry(e scheduler.ScheduledRestart) scheduleEntry {
	out := scheduleEntry{
		ID:             e.ID,
		At:             e.ScheduledTime,
		Recurring:      e.IsRecurring,
		WarningMinutes: e.WarningMinutes,
		Reason:         e.Reason,
	}
	if e.RecurrencePattern != nil {
		out.TimeOfDay = e.RecurrencePattern.String()
	}
	return out
}

func (r *Router) handleStatus(c *gin.Context) {
	cur := r.server.Current()
	resp := statusResp{
		Status:     cur.Status.String(),
		Detail:     cur.Detail,
		ObservedAt: cur.ObservedAt,
		PID:        r.server.PID(),
	}
	if r.resources != nil {
		if s, ok := r.resources.Latest(); ok && s.PID == int32(resp.PID) {
			resp.Resources = &s
		}
	}
	if e, ok := r.sched.Next(); ok {
		n := toEntry(e)
		resp.Next = &n
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleSchedule(c *gin.Context) {
	snap := r.sched.Snapshot()
	out := make([]scheduleEntry, 0, len(snap))
	for _, e := range snap {
		out = append(out, toEntry(e))
	}
	writeJSON(c, http.StatusOK, out)
}

type onceReq struct {
	Time   time.Time `json:"time"`
	Reason string    `json:"reason"`
}

func (r *Router) handleAddOnce(c *gin.Context) {
	var req onceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Time.IsZero() {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "time required (RFC3339)"})
		return
	}
	if !isSafeReason(req.Reason) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid reason"})
		return
	}
	e, err := r.sched.AddOneTimeRestart(req.Time, req.Reason)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusCreated, toEntry(e))
}

type recurringReq struct {
	TimeOfDay      string `json:"time_of_day"`
	WarningMinutes *int   `json:"warning_minutes"`
	Reason         string `json:"reason"`
}

func (r *Router) handleAddRecurring(c *gin.Context) {
	var req recurringReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if !isSafeReason(req.Reason) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid reason"})
		return
	}
	warn := scheduler.OneTimeWarningMinutes
	if req.WarningMinutes != nil {
		warn = *req.WarningMinutes
	}
	e, err := r.sched.AddRecurringRestart(req.TimeOfDay, warn, req.Reason)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusCreated, toEntry(e))
}

func (r *Router) handleRemove(c *gin.Context) {
	if !r.sched.RemoveScheduledRestart(c.Param("id")) {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no scheduled restart with that id"})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleClear(c *gin.Context) {
	r.sched.ClearSchedule()
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

type restartReq struct {
	Reason       string `json:"reason"`
	DelaySeconds int    `json:"delay_seconds"`
}

// handleRestart starts the countdown in the background and answers 202; a
// later request supersedes a pending one.
func (r *Router) handleRestart(c *gin.Context) {
	var req restartReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
			return
		}
	}
	if req.DelaySeconds < 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "delay_seconds cannot be negative"})
		return
	}
	if !isSafeReason(req.Reason) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid reason"})
		return
	}
	delay := time.Duration(req.DelaySeconds) * time.Second
	r.notifier.Info("restart requested via API", "reason", req.Reason, "delay", delay.String())
	go func() {
		err := r.sched.RestartNow(r.ctx, req.Reason, delay)
		if err != nil && !errors.Is(err, scheduler.ErrRestartCancelled) {
			r.notifier.Error("API restart failed", "error", err)
		}
	}()
	writeJSON(c, http.StatusAccepted, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	wait := r.stopWait
	if s := c.Query("wait"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d < 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid wait duration"})
			return
		}
		wait = d
	}
	r.notifier.Info("stop requested via API", "wait", wait.String())
	r.server.Stop(wait)
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
