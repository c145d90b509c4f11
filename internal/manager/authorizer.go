package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

var (
	// ErrDeclined indicates the manager answered and refused.
	ErrDeclined = errors.New("manager: declined")

	// ErrUnavailable indicates the manager could not be reached.
	ErrUnavailable = errors.New("manager: unavailable")
)

// Authorizer answers whether a privileged operation may proceed.
type Authorizer interface {
	Authorize(ctx context.Context, session uint64, op Operation, opCtx OperationContext) (bool, error)
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, session uint64, op Operation, opCtx OperationContext) (bool, error)

func (f AuthorizerFunc) Authorize(ctx context.Context, session uint64, op Operation, opCtx OperationContext) (bool, error) {
	return f(ctx, session, op, opCtx)
}

// Static always gives the same answer.
type Static bool

func (s Static) Authorize(context.Context, uint64, Operation, OperationContext) (bool, error) {
	return bool(s), nil
}

// HTTPAuthorizer asks an external service via an HTTP callback.
type HTTPAuthorizer struct {
	url         string
	client      *http.Client
	adminSecret string
	timeout     time.Duration
}

// NewHTTPAuthorizer creates an authorizer that POSTs to url. A zero timeout
// uses 500ms.
func NewHTTPAuthorizer(url, adminSecret string, timeout time.Duration) *HTTPAuthorizer {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &HTTPAuthorizer{
		url:         url,
		adminSecret: adminSecret,
		timeout:     timeout,
		client:      &http.Client{Timeout: timeout},
	}
}

type authorizeRequest struct {
	SessionID uint64           `json:"session_id"`
	Operation Operation        `json:"operation"`
	Context   OperationContext `json:"context"`
}

type authorizeResponse struct {
	Allow bool   `json:"allow"`
	Error string `json:"error,omitempty"`
}

func (a *HTTPAuthorizer) Authorize(ctx context.Context, session uint64, op Operation, opCtx OperationContext) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	body, err := json.Marshal(authorizeRequest{SessionID: session, Operation: op, Context: opCtx})
	if err != nil {
		return false, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.adminSecret != "" {
		req.Header.Set("X-Admin-Secret", a.adminSecret)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return false, ErrDeclined
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable:
		return false, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	default:
		return false, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	var out authorizeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return false, fmt.Errorf("%w: decode error: %v", ErrUnavailable, err)
	}
	return out.Allow, nil
}

// Registry maps manager identities to their authorizers.
type Registry struct {
	mu          sync.RWMutex
	authorizers map[string]Authorizer
}

func NewRegistry() *Registry {
	return &Registry{authorizers: make(map[string]Authorizer)}
}

// Register attaches an authorizer to a manager identity.
func (r *Registry) Register(identity string, a Authorizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.authorizers[identity] = a
}

func (r *Registry) Lookup(identity string) (Authorizer, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.authorizers[identity]
	return a, ok
}

// Check runs the full capability gate: the permission bit for op must be in
// granted, the identity must be registered, and its authorizer must answer yes.
func (r *Registry) Check(ctx context.Context, identity string, granted Permission, session uint64, op Operation, opCtx OperationContext) error {
	if identity == "" {
		return fmt.Errorf("%w: no manager attached", ErrDeclined)
	}
	if !granted.Has(op.Required()) {
		return fmt.Errorf("%w: permission %s not granted", ErrDeclined, op.Required())
	}
	a, ok := r.Lookup(identity)
	if !ok {
		return fmt.Errorf("%w: manager %q not registered", ErrUnavailable, identity)
	}
	allow, err := a.Authorize(ctx, session, op, opCtx)
	if err != nil {
		return err
	}
	if !allow {
		return ErrDeclined
	}
	return nil
}
