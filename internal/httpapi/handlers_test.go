package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/cache"
	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/domain"
	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/service"
	"github.com/nhannguyenxuan88-jpg/Pin-sub007/internal/store/memory"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "test-admin-pass")
	t.Setenv("SEED_STAFF_PASSWORD", "test-staff-pass")

	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopAlertCache{}, nil, domain.AlertSettings{
		LowStockThresholdPct:      20,
		CriticalStockThresholdPct: 10,
		EnableStockAlerts:         true,
		EnableDebtAlerts:          true,
	}, "PS", time.Second)
	auth := NewAuthManager("0123456789abcdef0123456789abcdef", time.Hour, repo)
	return New(svc, auth, "http://127.0.0.1:3000").Router()
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func loginAs(t *testing.T, router http.Handler, username, password string) string {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Username: username,
		Password: password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	router := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/api/v1/materials", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodGet, "/api/v1/materials", "not-a-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestAdminCreatesMaterialThroughAPI(t *testing.T) {
	router := newTestRouter(t)
	token := loginAs(t, router, "admin", "test-admin-pass")

	rec := doJSON(t, router, http.MethodPost, "/api/v1/materials", token, domain.MaterialCreateRequest{
		SKU:           "NL-TEST",
		Name:          "Cell Test",
		Unit:          "cái",
		InitialStock:  15,
		PurchasePrice: 10000,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body %s", rec.Code, rec.Body.String())
	}
	var created domain.Material
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode material: %v", err)
	}
	if created.ID == "" || created.Stock != 15 {
		t.Fatalf("unexpected material %+v", created)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/materials/"+created.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching created material, got %d", rec.Code)
	}
}

func TestStaffCannotCreateMaterial(t *testing.T) {
	router := newTestRouter(t)
	token := loginAs(t, router, "staff", "test-staff-pass")

	rec := doJSON(t, router, http.MethodPost, "/api/v1/materials", token, domain.MaterialCreateRequest{
		SKU:  "NL-NOPE",
		Name: "Không Được",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestUnknownFieldsAreRejected(t *testing.T) {
	router := newTestRouter(t)
	token := loginAs(t, router, "admin", "test-admin-pass")

	rec := doJSON(t, router, http.MethodPost, "/api/v1/materials", token, map[string]any{
		"name":        "Cell",
		"typo_field":  true,
		"other_field": 1,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestMissingResourcesReturn404(t *testing.T) {
	router := newTestRouter(t)
	token := loginAs(t, router, "staff", "test-staff-pass")

	rec := doJSON(t, router, http.MethodGet, "/api/v1/sales/sale-missing", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestSaleFlowThroughAPI(t *testing.T) {
	router := newTestRouter(t)
	token := loginAs(t, router, "staff", "test-staff-pass")

	rec := doJSON(t, router, http.MethodPost, "/api/v1/sales", token, domain.SaleCreateRequest{
		Customer: "Chị Hoa",
		Items: []domain.SaleItem{
			{ItemID: "prod-pin-12v", Type: domain.SaleItemProduct, Name: "Pin Khối 12V 6Ah", Quantity: 1, UnitPrice: 550000},
		},
		PaidAmount: 0,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body %s", rec.Code, rec.Body.String())
	}
	var sale domain.Sale
	if err := json.Unmarshal(rec.Body.Bytes(), &sale); err != nil {
		t.Fatalf("decode sale: %v", err)
	}
	if sale.Code == "" || sale.PaymentStatus != domain.PaymentStatusDebt {
		t.Fatalf("unexpected sale %+v", sale)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/receivables", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 listing receivables, got %d", rec.Code)
	}
	var receivables []domain.Sale
	if err := json.Unmarshal(rec.Body.Bytes(), &receivables); err != nil {
		t.Fatalf("decode receivables: %v", err)
	}
	if len(receivables) != 1 || receivables[0].ID != sale.ID {
		t.Fatalf("expected the debt sale in receivables, got %+v", receivables)
	}
}

func TestLoginRateLimitKicksIn(t *testing.T) {
	router := newTestRouter(t)

	var last int
	for i := 0; i < 6; i++ {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
			Username: "admin",
			Password: "wrong-password",
		})
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after repeated failures, got %d", last)
	}
}

func TestAttemptLimiterWindow(t *testing.T) {
	limiter := newAttemptLimiter(2, 50*time.Millisecond)
	if !limiter.Allow("a") || !limiter.Allow("a") {
		t.Fatalf("first attempts must pass")
	}
	if limiter.Allow("a") {
		t.Fatalf("third attempt inside window must be blocked")
	}
	if !limiter.Allow("b") {
		t.Fatalf("keys must be independent")
	}
	time.Sleep(60 * time.Millisecond)
	if !limiter.Allow("a") {
		t.Fatalf("attempt after window must pass")
	}
}
