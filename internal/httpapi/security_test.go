package httpapi

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tokocabang/backend/internal/domain"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	c := newTestClient(t, newTestAPI(t))
	res := c.do(http.MethodGet, "/healthz", nil)

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

func TestLoginRateLimitReturns429(t *testing.T) {
	handler := newTestAPI(t).Handler()
	body := `{"username":"admin","password":"wrong-pass"}`

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
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
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	handler := newTestAPI(t).Handler()
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too large body, got %d", res.Code)
	}
}

func TestWritesRequireCSRFToken(t *testing.T) {
	c := newTestClient(t, newTestAPI(t))
	c.login("cashier", "cashier123")

	c.csrf = ""
	res := c.do(http.MethodPost, "/api/v1/customers", domain.CustomerCreateRequest{Name: "Andi"})
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf token, got %d", res.Code)
	}

	c.csrf = "not-a-token"
	res = c.do(http.MethodPost, "/api/v1/customers", domain.CustomerCreateRequest{Name: "Andi"})
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with forged csrf token, got %d", res.Code)
	}

	c.csrf = c.handlerCSRF()
	res = c.do(http.MethodPost, "/api/v1/customers", domain.CustomerCreateRequest{Name: "Andi"})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201 with csrf token, got %d (body: %s)", res.Code, res.Body.String())
	}
}

func TestInvalidTokenRejected(t *testing.T) {
	c := newTestClient(t, newTestAPI(t))
	c.token = "not-a-jwt"
	if res := c.do(http.MethodGet, "/api/v1/dues", nil); res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestAdminPasswordRateLimitReturns429(t *testing.T) {
	c := newTestClient(t, newTestAPI(t))
	c.login("admin", "admin123")

	for i := 0; i < 9; i++ {
		res := c.do(http.MethodPost, "/api/v1/sales/sale-missing/cancel", domain.SaleCancelRequest{
			Reason:        "test",
			AdminPassword: "000000",
		})
		if i < 8 && res.Code != http.StatusForbidden {
			t.Fatalf("attempt %d expected 403 before limit, got %d", i+1, res.Code)
		}
		if i == 8 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 9 expected 429, got %d", res.Code)
		}
	}
}

func TestCashierCannotReadOtherBranchDues(t *testing.T) {
	c := newTestClient(t, newTestAPI(t))
	c.login("cashier", "cashier123")

	res := c.do(http.MethodGet, "/api/v1/dues?branch_id=branch-2", nil)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another branch, got %d (body: %s)", res.Code, res.Body.String())
	}
}

// handlerCSRF fetches a fresh token through the endpoint.
func (c *testClient) handlerCSRF() string {
	c.t.Helper()
	res := c.do(http.MethodGet, "/api/v1/auth/csrf", nil)
	if res.Code != http.StatusOK {
		c.t.Fatalf("csrf endpoint returned %d", res.Code)
	}
	var payload map[string]string
	decodeBody(c.t, res, &payload)
	return payload["csrf_token"]
}
