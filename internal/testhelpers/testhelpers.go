// Package testhelpers holds fixtures shared by ticketbot tests: a fluent
// HTTP request/response harness, an in-memory migrated database, a sample
// registry, model builders and a recording chat gateway.
package testhelpers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/akmatori/ticketbot/internal/database"
	"github.com/akmatori/ticketbot/internal/registry"
)

// ========================================
// HTTP Test Helpers
// ========================================

// HTTPTestContext holds components for HTTP handler testing
type HTTPTestContext struct {
	T        *testing.T
	Recorder *httptest.ResponseRecorder
	Request  *http.Request
}

// NewHTTPTestContext creates a new HTTP test context
func NewHTTPTestContext(t *testing.T, method, path string, body io.Reader) *HTTPTestContext {
	t.Helper()
	return &HTTPTestContext{
		T:        t,
		Recorder: httptest.NewRecorder(),
		Request:  httptest.NewRequest(method, path, body),
	}
}

// WithJSONBody replaces the request body with v encoded as JSON. Headers
// already set are kept.
func (ctx *HTTPTestContext) WithJSONBody(v interface{}) *HTTPTestContext {
	ctx.T.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		ctx.T.Fatalf("failed to marshal JSON body: %v", err)
	}
	ctx.Request.Body = io.NopCloser(bytes.NewReader(body))
	ctx.Request.ContentLength = int64(len(body))
	ctx.Request.Header.Set("Content-Type", "application/json")
	return ctx
}

// WithBearerToken authenticates the request as an admin API client
func (ctx *HTTPTestContext) WithBearerToken(token string) *HTTPTestContext {
	ctx.Request.Header.Set("Authorization", "Bearer "+token)
	return ctx
}

// Execute serves the request with handler
func (ctx *HTTPTestContext) Execute(handler http.Handler) *HTTPTestContext {
	handler.ServeHTTP(ctx.Recorder, ctx.Request)
	return ctx
}

// AssertStatus fails the test unless the response has status want
func (ctx *HTTPTestContext) AssertStatus(want int) *HTTPTestContext {
	ctx.T.Helper()
	if got := ctx.Recorder.Code; got != want {
		ctx.T.Errorf("status = %d, want %d; body: %s", got, want, ctx.Recorder.Body.String())
	}
	return ctx
}

// AssertBodyContains fails the test unless the response body contains substr
func (ctx *HTTPTestContext) AssertBodyContains(substr string) *HTTPTestContext {
	ctx.T.Helper()
	if body := ctx.Recorder.Body.String(); !strings.Contains(body, substr) {
		ctx.T.Errorf("body does not contain %q: %s", substr, body)
	}
	return ctx
}

// DecodeJSON decodes the response body into v without consuming it, so
// body assertions still work afterwards.
func (ctx *HTTPTestContext) DecodeJSON(v interface{}) *HTTPTestContext {
	ctx.T.Helper()
	if err := json.Unmarshal(ctx.Recorder.Body.Bytes(), v); err != nil {
		ctx.T.Fatalf("failed to decode JSON response: %v", err)
	}
	return ctx
}

// ========================================
// Database and Registry
// ========================================

// SetupTestDB opens a migrated in-memory sqlite database that is closed when
// the test ends.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	// Every connection to ":memory:" is a separate database.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// NewTestRegistry returns a registry with teams infra (announced in
// C0INFRA) and payments, tags db and billing, impacts high and low.
func NewTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(registry.Catalog{
		Teams: []registry.Team{
			{Code: "infra", Name: "Infrastructure", Channel: "C0INFRA"},
			{Code: "payments", Name: "Payments"},
		},
		Tags: []registry.Entry{
			{Code: "db", Name: "Database"},
			{Code: "billing", Name: "Billing"},
		},
		Impacts: []registry.Entry{
			{Code: "high", Name: "High"},
			{Code: "low", Name: "Low"},
		},
	})
	if err != nil {
		t.Fatalf("failed to build test registry: %v", err)
	}
	return reg
}

// NewTestLogger returns a logger that discards output
func NewTestLogger() *zap.Logger {
	return zap.NewNop()
}

// ========================================
// Timing
// ========================================

// MustCompleteWithin fails the test if fn doesn't complete within timeout
func MustCompleteWithin(t *testing.T, timeout time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatalf("operation did not complete within %v", timeout)
	}
}

// Eventually polls cond until it holds or timeout passes.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("%s: condition not met within %v", msg, timeout)
	}
}
