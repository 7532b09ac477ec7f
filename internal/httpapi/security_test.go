package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"salesdesk/backend/internal/domain"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := res.Header().Get("Referrer-Policy"); got == "" {
		t.Fatalf("expected Referrer-Policy to be set")
	}
}

func TestPreflightShortCircuits(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodOptions, "/sales", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	assert.Equal(t, http.StatusNoContent, res.Code)
	assert.Equal(t, "*", res.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, res.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	body, _ := json.Marshal(domain.LoginRequest{Email: "admin@salesdesk.local", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		handler.ServeHTTP(res, req)

		if i < 5 && res.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401 before limit, got %d", i+1, res.Code)
		}
		if i == 5 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 6 expected 429, got %d", res.Code)
		}
	}

	// Another client is unaffected.
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "127.0.0.2:5000"
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"email":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too large body, got %d", res.Code)
	}
}

func TestClientKeyIgnoresPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:4242"
	assert.Equal(t, "198.51.100.7", clientKey(req))

	req.RemoteAddr = "[2001:db8::1]:80"
	assert.Equal(t, "2001:db8::1", clientKey(req))

	req.RemoteAddr = ""
	assert.Equal(t, "unknown", clientKey(req))
}

func TestWriteErrorStatusMapping(t *testing.T) {
	api := newTestAPI(t)

	cases := []struct {
		name       string
		err        error
		status     int
		retryAfter string
		hidden     string
	}{
		{name: "validation", err: domain.FieldErrors(map[string]string{"items": "required"}), status: http.StatusBadRequest},
		{name: "not found", err: domain.NotFound("sale", "s1"), status: http.StatusNotFound},
		{name: "forbidden", err: domain.Forbidden("nope"), status: http.StatusForbidden},
		{name: "conflict", err: domain.Conflict("sale already canceled"), status: http.StatusConflict},
		{name: "allocation", err: domain.Allocation(errors.New("seq row locked")), status: http.StatusServiceUnavailable, retryAfter: "1", hidden: "seq row locked"},
		{name: "storage", err: domain.Storage("create sale", errors.New("dial tcp 10.0.0.5:5432")), status: http.StatusInternalServerError, hidden: "10.0.0.5"},
		{name: "unknown", err: errors.New("boom"), status: http.StatusInternalServerError, hidden: "boom"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)
			c.Request = httptest.NewRequest(http.MethodGet, "/sales", nil)

			api.writeError(c, tc.err)

			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.retryAfter, rec.Header().Get("Retry-After"))
			if tc.hidden != "" {
				assert.NotContains(t, rec.Body.String(), tc.hidden)
			}
		})
	}
}
