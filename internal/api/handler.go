// Package api exposes the reconciliation engine as a read-only JSON API for
// dashboards and report rendering.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ginjaninja78/feeledger/internal/canon"
	"github.com/ginjaninja78/feeledger/internal/reconcile"
	"github.com/ginjaninja78/feeledger/internal/types"
)

// Error codes returned in the response envelope.
const (
	ErrCodeBadRequest = "BAD_REQUEST"
	ErrCodeNotFound   = "NOT_FOUND"
	ErrCodeInternal   = "INTERNAL_ERROR"
)

// Reconciler is the part of reconcile.Engine the API serves.
type Reconciler interface {
	ReconcileStudent(ctx context.Context, matricule string) (*reconcile.Result, error)
	ReconcileSection(ctx context.Context, section string, upTo *types.Month) (*reconcile.SectionResult, error)
	ReconcileMonth(ctx context.Context, month string) (*reconcile.MonthResult, error)
	ReconcileClass(ctx context.Context, class string) (*reconcile.ClassReport, error)
	DailyJournal(ctx context.Context, day time.Time) (*reconcile.Journal, error)
	FindByPhone(ctx context.Context, phone string) ([]string, error)
	Dashboard(ctx context.Context) (*reconcile.Totals, error)
}

// Response is the envelope of every response.
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo describes a failed request.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Handler serves reconciliation queries.
type Handler struct {
	engine Reconciler
	log    *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(engine Reconciler, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{engine: engine, log: log}
}

func (h *Handler) success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func (h *Handler) fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, Response{Error: &ErrorInfo{Code: code, Message: message}})
}

// internal logs err and answers 500 without leaking store details.
func (h *Handler) internal(c *gin.Context, err error) {
	h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	h.fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal error")
}

// Ping answers liveness checks.
func (h *Handler) Ping(c *gin.Context) {
	h.success(c, gin.H{"message": "pong", "timestamp": time.Now().Format(time.RFC3339)})
}

// GetStudent reconciles one student.
func (h *Handler) GetStudent(c *gin.Context) {
	res, err := h.engine.ReconcileStudent(c.Request.Context(), c.Param("matricule"))
	switch {
	case errors.Is(err, reconcile.ErrStudentNotFound):
		h.fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case err != nil:
		h.internal(c, err)
	default:
		h.success(c, res)
	}
}

// FindStudents looks students up by phone number (?phone=).
func (h *Handler) FindStudents(c *gin.Context) {
	phone := strings.TrimSpace(c.Query("phone"))
	if phone == "" {
		h.fail(c, http.StatusBadRequest, ErrCodeBadRequest, "phone query parameter is required")
		return
	}
	matricules, err := h.engine.FindByPhone(c.Request.Context(), phone)
	if err != nil {
		h.internal(c, err)
		return
	}
	if matricules == nil {
		matricules = []string{}
	}
	h.success(c, matricules)
}

// GetClass reconciles every student of a class.
func (h *Handler) GetClass(c *gin.Context) {
	rep, err := h.engine.ReconcileClass(c.Request.Context(), c.Param("class"))
	if err != nil {
		h.internal(c, err)
		return
	}
	h.success(c, rep)
}

// GetSection sums a section's payments, optionally up to a month (?up_to=).
func (h *Handler) GetSection(c *gin.Context) {
	var upTo *types.Month
	if raw := c.Query("up_to"); raw != "" {
		m, ok := canon.NormalizeMonth(raw)
		if !ok {
			h.fail(c, http.StatusBadRequest, ErrCodeBadRequest, "up_to is not a school month")
			return
		}
		upTo = &m
	}

	res, err := h.engine.ReconcileSection(c.Request.Context(), c.Param("section"), upTo)
	if err != nil {
		h.internal(c, err)
		return
	}
	h.success(c, res)
}

// GetMonth sums one month's payments by section.
func (h *Handler) GetMonth(c *gin.Context) {
	res, err := h.engine.ReconcileMonth(c.Request.Context(), c.Param("month"))
	switch {
	case errors.Is(err, reconcile.ErrInvalidMonth):
		h.fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case err != nil:
		h.internal(c, err)
	default:
		h.success(c, res)
	}
}

// GetJournal lists the payments of one day (YYYY-MM-DD).
func (h *Handler) GetJournal(c *gin.Context) {
	day, err := time.Parse("2006-01-02", c.Param("date"))
	if err != nil {
		h.fail(c, http.StatusBadRequest, ErrCodeBadRequest, "date must be YYYY-MM-DD")
		return
	}
	j, err := h.engine.DailyJournal(c.Request.Context(), day)
	if err != nil {
		h.internal(c, err)
		return
	}
	h.success(c, j)
}

// GetDashboard returns store-wide counters.
func (h *Handler) GetDashboard(c *gin.Context) {
	t, err := h.engine.Dashboard(c.Request.Context())
	if err != nil {
		h.internal(c, err)
		return
	}
	h.success(c, t)
}
