package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

const testToken = "test-session-token"

// newTestSession spins up an httptest server whose /sessions endpoint issues
// testToken and delegates everything else to handler.
func newTestSession(t *testing.T, handler http.HandlerFunc) *Session {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"data":{"session-token":%q}}`, testToken)
	})
	if handler != nil {
		mux.HandleFunc("/", handler)
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	session, err := NewSession(context.Background(), SessionConfig{
		BaseURL:   server.URL,
		Username:  "user",
		Password:  "pass",
		AccountID: "5WX00000",
	})
	if err != nil {
		t.Fatalf("NewSession() error: %v", err)
	}
	return session
}

func TestAPIError_Error(t *testing.T) {
	err := &APIError{Status: 429, Body: "too many requests"}
	want := "API error 429: too many requests"
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestNewSession_StoresToken(t *testing.T) {
	var gotAuth string
	session := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"cash-balance":"100.00"}}`)
	})

	if session.token != testToken {
		t.Fatalf("token = %q, want %q", session.token, testToken)
	}
	if _, err := session.GetBalance(context.Background()); err != nil {
		t.Fatalf("GetBalance() error: %v", err)
	}
	if gotAuth != testToken {
		t.Fatalf("Authorization header = %q, want %q", gotAuth, testToken)
	}
}

func TestNewSession_AuthError(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		wantBody    string
	}{
		{
			name:        "json error body preserved verbatim",
			status:      http.StatusUnauthorized,
			contentType: "application/json",
			body:        `{"error":{"code":"invalid_credentials"}}`,
			wantBody:    `{"error":{"code":"invalid_credentials"}}`,
		},
		{
			name:        "non-json body replaced by sentinel",
			status:      http.StatusBadGateway,
			contentType: "text/html",
			body:        "<html>bad gateway</html>",
			wantBody:    "no response",
		},
		{
			name:        "200 is not a successful login",
			status:      http.StatusOK,
			contentType: "application/json",
			body:        `{"data":{}}`,
			wantBody:    `{"data":{}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			_, err := NewSession(context.Background(), SessionConfig{
				BaseURL:   server.URL,
				Username:  "user",
				Password:  "bad",
				AccountID: "5WX00000",
			})
			var authErr *AuthError
			if !errors.As(err, &authErr) {
				t.Fatalf("NewSession() error = %v, want *AuthError", err)
			}
			if authErr.Status != tt.status {
				t.Fatalf("Status = %d, want %d", authErr.Status, tt.status)
			}
			if authErr.Body != tt.wantBody {
				t.Fatalf("Body = %q, want %q", authErr.Body, tt.wantBody)
			}
		})
	}
}

func TestNewSession_MissingToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"data":{}}`)
	}))
	defer server.Close()

	_, err := NewSession(context.Background(), SessionConfig{
		BaseURL:   server.URL,
		Username:  "user",
		Password:  "pass",
		AccountID: "5WX00000",
	})
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("NewSession() error = %v, want ErrMalformedResponse", err)
	}
}

func TestNewSession_TrimsTrailingSlash(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sessions" {
			t.Errorf("path = %q, want /sessions", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"data":{"session-token":%q}}`, testToken)
	}))
	defer server.Close()

	session, err := NewSession(context.Background(), SessionConfig{
		BaseURL:   server.URL + "/",
		Username:  "user",
		Password:  "pass",
		AccountID: "5WX00000",
	})
	if err != nil {
		t.Fatalf("NewSession() error: %v", err)
	}
	if session.baseURL != server.URL {
		t.Fatalf("baseURL = %q, want %q", session.baseURL, server.URL)
	}
}

func TestSession_RequestExpectedStatusCodes(t *testing.T) {
	tests := []struct {
		method  string
		status  int
		wantErr bool
	}{
		{http.MethodGet, http.StatusOK, false},
		{http.MethodGet, http.StatusCreated, true},
		{http.MethodDelete, http.StatusOK, false},
		{http.MethodDelete, http.StatusNoContent, true},
		{http.MethodPost, http.StatusCreated, false},
		{http.MethodPost, http.StatusOK, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%d", tt.method, tt.status), func(t *testing.T) {
			session := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{}`)
			})

			err := session.request(context.Background(), tt.method, "/test", nil, nil)
			if tt.wantErr {
				var apiErr *APIError
				if !errors.As(err, &apiErr) {
					t.Fatalf("request() error = %v, want *APIError", err)
				}
				if apiErr.Status != tt.status {
					t.Fatalf("Status = %d, want %d", apiErr.Status, tt.status)
				}
			} else if err != nil {
				t.Fatalf("request() error: %v", err)
			}
		})
	}
}

func TestSession_RequestErrorBodyHandling(t *testing.T) {
	const jsonBody = `{"error":{"message":"margin check failed"}}`

	t.Run("json body verbatim", func(t *testing.T) {
		session := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			fmt.Fprint(w, jsonBody)
		})

		err := session.request(context.Background(), http.MethodGet, "/test", nil, nil)
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("error = %v, want *APIError", err)
		}
		if apiErr.Body != jsonBody {
			t.Fatalf("Body = %q, want %q", apiErr.Body, jsonBody)
		}
	})

	t.Run("non-json body sentinel", func(t *testing.T) {
		session := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, "service down")
		})

		err := session.request(context.Background(), http.MethodGet, "/test", nil, nil)
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("error = %v, want *APIError", err)
		}
		if apiErr.Body != "no response" {
			t.Fatalf("Body = %q, want %q", apiErr.Body, "no response")
		}
	})
}

func TestSession_GetBalance(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    float64
		wantErr error
	}{
		{"bare number", `{"data":{"cash-balance":1250.75}}`, 1250.75, nil},
		{"quoted string number", `{"data":{"cash-balance":"1250.75"}}`, 1250.75, nil},
		{"missing field", `{"data":{}}`, 0, ErrMalformedResponse},
		{"null field", `{"data":{"cash-balance":null}}`, 0, ErrMalformedResponse},
		{"non-numeric field", `{"data":{"cash-balance":"lots"}}`, 0, ErrMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/accounts/5WX00000/balances" {
					t.Errorf("path = %q", r.URL.Path)
				}
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, tt.body)
			})

			got, err := session.GetBalance(context.Background())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("GetBalance() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetBalance() error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("GetBalance() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSession_SubmitOrder(t *testing.T) {
	var gotPayload OrderPayload
	session := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/accounts/5WX00000/orders" {
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"data":{"order":{"id":272363411}}}`)
	})

	payload := OrderPayload{TimeInForce: "Day", OrderType: "Limit", Price: 5, PriceEffect: "Credit"}
	id, err := session.SubmitOrder(context.Background(), payload)
	if err != nil {
		t.Fatalf("SubmitOrder() error: %v", err)
	}
	if id != 272363411 {
		t.Fatalf("id = %d, want 272363411", id)
	}
	if gotPayload.TimeInForce != "Day" || gotPayload.OrderType != "Limit" {
		t.Fatalf("payload not transmitted intact: %+v", gotPayload)
	}
}

func TestSession_SubmitOrder_MissingID(t *testing.T) {
	session := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"data":{}}`)
	})

	_, err := session.SubmitOrder(context.Background(), OrderPayload{})
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("SubmitOrder() error = %v, want ErrMalformedResponse", err)
	}
}

func TestSession_CancelOrder(t *testing.T) {
	var gotPath string
	session := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{}`)
	})

	if err := session.CancelOrder(context.Background(), 272363411); err != nil {
		t.Fatalf("CancelOrder() error: %v", err)
	}
	want := "DELETE /accounts/5WX00000/orders/272363411"
	if gotPath != want {
		t.Fatalf("call = %q, want %q", gotPath, want)
	}
}

func TestSession_LiveOrders(t *testing.T) {
	session := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/accounts/5WX00000/orders/live" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"items":[{"id":1,"status":"Live","underlying-symbol":"NDXP"}]}}`)
	})

	liveOrders, err := session.LiveOrders(context.Background())
	if err != nil {
		t.Fatalf("LiveOrders() error: %v", err)
	}
	if len(liveOrders) != 1 || liveOrders[0].ID != 1 || liveOrders[0].UnderlyingSymbol != "NDXP" {
		t.Fatalf("LiveOrders() = %+v", liveOrders)
	}
}
