package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
)

// The tests here cover only parameter validation, which returns before any
// service is touched; full round-trips live in server_test.go.

func assertHTTPError(t *testing.T, err error, code int, msg string) {
	t.Helper()
	if assert.Error(t, err) {
		he, ok := err.(*echo.HTTPError)
		if assert.True(t, ok, "expected echo.HTTPError") {
			assert.Equal(t, code, he.Code)
			assert.Contains(t, he.Message, msg)
		}
	}
}

func newTestContext(method, target string) *echo.Context {
	e := echo.New()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec)
}

func TestStepSimulationHandlerValidation(t *testing.T) {
	s := &Server{}

	c := newTestContext(http.MethodPost, "/simulation/step/")
	err := s.stepSimulationHandler(c)
	assertHTTPError(t, err, http.StatusBadRequest, "session id")
}

func TestMemoryCellHandlerValidation(t *testing.T) {
	s := &Server{}

	c := newTestContext(http.MethodGet, "/memory/cell")
	err := s.getMemoryCellHandler(c)
	assertHTTPError(t, err, http.StatusBadRequest, "coordinate or cell_id")
}

func TestAuditLogHandlerValidation(t *testing.T) {
	s := &Server{}

	tests := []struct {
		name   string
		query  string
		errMsg string
	}{
		{"non-integer stage", "stage=three", "invalid stage"},
		{"bad since", "since=yesterday", "invalid since"},
		{"bad until", "until=2024-01-01", "invalid until"},
		{"negative limit", "limit=-1", "invalid limit"},
		{"non-integer offset", "offset=x", "invalid offset"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestContext(http.MethodGet, "/audit/log?"+tt.query)
			err := s.auditLogHandler(c)
			assertHTTPError(t, err, http.StatusBadRequest, tt.errMsg)
		})
	}
}

func TestAuditBundleHandlerValidation(t *testing.T) {
	s := &Server{}

	c := newTestContext(http.MethodGet, "/audit/bundle?since=not-a-time")
	err := s.auditBundleHandler(c)
	assertHTTPError(t, err, http.StatusBadRequest, "invalid since")
}

func TestListViolationsHandlerValidation(t *testing.T) {
	s := &Server{}

	tests := []struct {
		name   string
		query  string
		errMsg string
	}{
		{"non-integer stage", "stage=abc", "invalid stage"},
		{"bad resolved flag", "resolved=maybe", "invalid resolved"},
		{"negative limit", "limit=-5", "invalid limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestContext(http.MethodGet, "/compliance/violations?"+tt.query)
			err := s.listViolationsHandler(c)
			assertHTTPError(t, err, http.StatusBadRequest, tt.errMsg)
		})
	}
}

func TestRunPluginHandlerValidation(t *testing.T) {
	s := &Server{}

	c := newTestContext(http.MethodPost, "/plugin/ka/run/")
	err := s.runPluginHandler(c)
	assertHTTPError(t, err, http.StatusBadRequest, "plugin name")
}

func TestWSHandlerValidation(t *testing.T) {
	s := &Server{}

	c := newTestContext(http.MethodGet, "/ws/simulation/")
	err := s.wsHandler(c)
	assertHTTPError(t, err, http.StatusBadRequest, "session id")
}
