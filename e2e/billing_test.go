package e2e

import (
	"net/http"
	"testing"
)

func TestBillingBalance(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/billing/balance", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	body := parseJSON(t, resp)
	if body["userId"] != testUserID {
		t.Errorf("expected userId %q, got %v", testUserID, body["userId"])
	}
	if body["balance"] != float64(20) {
		t.Errorf("expected balance 20, got %v", body["balance"])
	}
}

func TestBillingBalance_WalletNotFound(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/api/billing/balance", "", map[string]string{
		"Authorization": "Bearer " + generateTokenFor(t, "user-without-wallet"),
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusNotFound)

	body := parseJSON(t, resp)
	errObj, _ := body["error"].(map[string]interface{})
	if errObj["code"] != "WALLET_NOT_FOUND" {
		t.Errorf("expected WALLET_NOT_FOUND, got %v", errObj["code"])
	}
}

func TestBillingHistory(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/billing/history?limit=10", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	body := parseJSON(t, resp)
	history, ok := body["history"].([]interface{})
	if !ok {
		t.Fatalf("expected history array, got %v", body["history"])
	}
	if len(history) != 1 {
		t.Fatalf("expected the starting grant only, got %d entries", len(history))
	}
	tx := history[0].(map[string]interface{})
	if tx["reason"] != "grant" || tx["amount"] != float64(20) {
		t.Errorf("unexpected grant transaction: %v", tx)
	}
}

func TestBillingHistory_BadLimit(t *testing.T) {
	ta := setupApp(t)

	for _, q := range []string{"0", "201", "-3"} {
		resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/billing/history?limit="+q, "")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		assertStatus(t, resp, http.StatusBadRequest)
	}
}

func TestBillingTopUp(t *testing.T) {
	ta := setupApp(t)

	body := `{"userId": "test-user-123", "amountCents": 500, "reference": "order-1"}`
	resp, err := doRequest(ta.app, http.MethodPost, "/api/billing/topup", body, map[string]string{
		"X-Admin-Token": testAdminToken,
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	credits, _ := result["credits"].(float64)
	if credits <= 0 {
		t.Fatalf("expected credits to be granted, got %v", result["credits"])
	}
	if result["balance"] != 20+credits {
		t.Errorf("expected balance %v, got %v", 20+credits, result["balance"])
	}
}

func TestBillingTopUp_Forbidden(t *testing.T) {
	ta := setupApp(t)

	body := `{"userId": "test-user-123", "amountCents": 500}`
	tests := []struct {
		name    string
		headers map[string]string
	}{
		{"no token", nil},
		{"wrong token", map[string]string{"X-Admin-Token": "nope"}},
		// A user session is not an admin credential
		{"user jwt", map[string]string{"Authorization": "Bearer " + generateToken(t)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := doRequest(ta.app, http.MethodPost, "/api/billing/topup", body, tt.headers)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			assertStatus(t, resp, http.StatusForbidden)
		})
	}
}

func TestBillingTopUp_UnknownWallet(t *testing.T) {
	ta := setupApp(t)

	body := `{"userId": "ghost", "amountCents": 500}`
	resp, err := doRequest(ta.app, http.MethodPost, "/api/billing/topup", body, map[string]string{
		"X-Admin-Token": testAdminToken,
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusNotFound)
}

func TestBilling_NoAuth(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/api/billing/balance", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusUnauthorized)
}
