package manager

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPAuthorizer_Allows(t *testing.T) {
	var got authorizeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Admin-Secret") != "s3cret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(authorizeResponse{Allow: true})
	}))
	defer server.Close()

	a := NewHTTPAuthorizer(server.URL, "s3cret", 0)
	allow, err := a.Authorize(context.Background(), 7, OpBootOut, OperationContext{Caller: "mgr", TargetPlayer: 2})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !allow {
		t.Errorf("expected allow")
	}
	if got.SessionID != 7 || got.Operation != OpBootOut || got.Context.TargetPlayer != 2 {
		t.Errorf("unexpected request payload: %+v", got)
	}
}

func TestHTTPAuthorizer_Declines(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(authorizeResponse{Allow: false})
	}))
	defer server.Close()

	allow, err := NewHTTPAuthorizer(server.URL, "", 0).Authorize(context.Background(), 1, OpStart, OperationContext{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if allow {
		t.Errorf("expected decline")
	}
}

func TestHTTPAuthorizer_StatusCodes(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusForbidden, ErrDeclined},
		{http.StatusUnauthorized, ErrDeclined},
		{http.StatusServiceUnavailable, ErrUnavailable},
		{http.StatusTeapot, ErrUnavailable},
	}
	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		_, err := NewHTTPAuthorizer(server.URL, "", 0).Authorize(context.Background(), 1, OpBootOut, OperationContext{})
		server.Close()
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: expected %v, got %v", tt.status, tt.want, err)
		}
	}
}

func TestHTTPAuthorizer_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	_, err := NewHTTPAuthorizer(server.URL, "", 20*time.Millisecond).Authorize(context.Background(), 1, OpBootOut, OperationContext{})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestRegistryCheck(t *testing.T) {
	reg := NewRegistry()
	reg.Register("yes", Static(true))
	reg.Register("no", Static(false))
	reg.Register("broken", AuthorizerFunc(func(context.Context, uint64, Operation, OperationContext) (bool, error) {
		return false, ErrUnavailable
	}))

	ctx := context.Background()
	if err := reg.Check(ctx, "yes", PermBootOut, 1, OpBootOut, OperationContext{}); err != nil {
		t.Errorf("expected allow, got %v", err)
	}
	if err := reg.Check(ctx, "yes", PermStart, 1, OpBootOut, OperationContext{}); !errors.Is(err, ErrDeclined) {
		t.Errorf("missing permission bit: expected ErrDeclined, got %v", err)
	}
	if err := reg.Check(ctx, "no", PermAll, 1, OpBootOut, OperationContext{}); !errors.Is(err, ErrDeclined) {
		t.Errorf("declining manager: expected ErrDeclined, got %v", err)
	}
	if err := reg.Check(ctx, "", PermAll, 1, OpBootOut, OperationContext{}); !errors.Is(err, ErrDeclined) {
		t.Errorf("no manager: expected ErrDeclined, got %v", err)
	}
	if err := reg.Check(ctx, "ghost", PermAll, 1, OpBootOut, OperationContext{}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("unregistered manager: expected ErrUnavailable, got %v", err)
	}
	if err := reg.Check(ctx, "broken", PermAll, 1, OpBootOut, OperationContext{}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("erroring manager: expected ErrUnavailable, got %v", err)
	}
}
