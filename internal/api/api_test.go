package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/feeledger/internal/reconcile"
	"github.com/ginjaninja78/feeledger/internal/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubEngine struct {
	err       error
	gotUpTo   *types.Month
	gotDay    time.Time
	gotPhone  string
	gotClass  string
	matricule string
}

func (s *stubEngine) ReconcileStudent(_ context.Context, m string) (*reconcile.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	if m != s.matricule {
		return nil, reconcile.ErrStudentNotFound
	}
	return &reconcile.Result{
		Student:       reconcile.StudentInfo{Matricule: m, Name: "Amani"},
		TotalExpected: decimal.NewFromInt(800),
		TotalPaid:     decimal.NewFromInt(120),
		Balance:       decimal.NewFromInt(680),
	}, nil
}

func (s *stubEngine) ReconcileSection(_ context.Context, section string, upTo *types.Month) (*reconcile.SectionResult, error) {
	s.gotUpTo = upTo
	return &reconcile.SectionResult{Section: section, TotalPaid: decimal.NewFromInt(90)}, s.err
}

func (s *stubEngine) ReconcileMonth(_ context.Context, month string) (*reconcile.MonthResult, error) {
	if month == "Inscription" {
		return nil, reconcile.ErrInvalidMonth
	}
	return &reconcile.MonthResult{Month: types.MonthSept, Total: decimal.NewFromInt(120)}, s.err
}

func (s *stubEngine) ReconcileClass(_ context.Context, class string) (*reconcile.ClassReport, error) {
	s.gotClass = class
	return &reconcile.ClassReport{Class: "1P"}, s.err
}

func (s *stubEngine) DailyJournal(_ context.Context, day time.Time) (*reconcile.Journal, error) {
	s.gotDay = day
	return &reconcile.Journal{Date: day.Format("2006-01-02")}, s.err
}

func (s *stubEngine) FindByPhone(_ context.Context, phone string) ([]string, error) {
	s.gotPhone = phone
	return nil, s.err
}

func (s *stubEngine) Dashboard(context.Context) (*reconcile.Totals, error) {
	return &reconcile.Totals{Students: 3}, s.err
}

func do(t *testing.T, engine Reconciler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	r := NewRouter(NewHandler(engine, nil), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestGetStudent(t *testing.T) {
	engine := &stubEngine{matricule: "PL001"}

	t.Run("found", func(t *testing.T) {
		w, body := do(t, engine, "/api/students/PL001")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, body["success"])
		data := body["data"].(map[string]any)
		assert.Equal(t, "680", data["balance"])
	})

	t.Run("not found", func(t *testing.T) {
		w, body := do(t, engine, "/api/students/PL404")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, ErrCodeNotFound, body["error"].(map[string]any)["code"])
	})

	t.Run("store failure is hidden", func(t *testing.T) {
		w, body := do(t, &stubEngine{err: errors.New("connection reset")}, "/api/students/PL001")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "internal error", body["error"].(map[string]any)["message"])
	})
}

func TestGetSection(t *testing.T) {
	engine := &stubEngine{}

	w, _ := do(t, engine, "/api/sections/Primaire?up_to=ac.oct")
	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, engine.gotUpTo)
	assert.Equal(t, types.MonthOct, *engine.gotUpTo)

	w, _ = do(t, engine, "/api/sections/Primaire?up_to=never")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetMonth(t *testing.T) {
	w, _ := do(t, &stubEngine{}, "/api/months/Sept")
	assert.Equal(t, http.StatusOK, w.Code)

	w, body := do(t, &stubEngine{}, "/api/months/Inscription")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, ErrCodeBadRequest, body["error"].(map[string]any)["code"])
}

func TestGetJournal(t *testing.T) {
	engine := &stubEngine{}

	w, _ := do(t, engine, "/api/journal/2025-09-10")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 10, engine.gotDay.Day())

	w, _ = do(t, engine, "/api/journal/10-09-2025")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFindStudents(t *testing.T) {
	engine := &stubEngine{}

	w, body := do(t, engine, "/api/students?phone=%2B243991234567")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "+243991234567", engine.gotPhone)
	assert.Equal(t, []any{}, body["data"])

	w, _ = do(t, engine, "/api/students")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetClassAndDashboard(t *testing.T) {
	engine := &stubEngine{}

	w, _ := do(t, engine, "/api/classes/1%C2%B0P")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1°P", engine.gotClass)

	w, body := do(t, engine, "/api/dashboard")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), body["data"].(map[string]any)["students"])
}

func TestPing(t *testing.T) {
	w, body := do(t, &stubEngine{}, "/api/ping")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", body["data"].(map[string]any)["message"])
}
