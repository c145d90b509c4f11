// Package auth resolves connection tokens to the identity a websocket
// client acts as.
package auth

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single validation callback.
const DefaultTimeout = 500 * time.Millisecond

var (
	// ErrInvalidToken indicates the token is definitively invalid.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrUnavailable indicates the auth service is unreachable or unavailable.
	ErrUnavailable = errors.New("auth: unavailable")
)

// Identity is the authenticated principal behind a token. ID is the
// identity the engine sees as caller.
type Identity struct {
	ID   string `json:"identity"`
	Name string `json:"name,omitempty"`
}

// Validator validates connection tokens.
type Validator interface {
	// Validate returns the identity for token, ErrInvalidToken when the
	// token is rejected, or ErrUnavailable when no decision could be made.
	Validate(ctx context.Context, token string) (Identity, error)
}

// HTTPValidator validates tokens via HTTP callback to an external service.
type HTTPValidator struct {
	url         string
	client      *http.Client
	adminSecret string
	timeout     time.Duration
}

// NewHTTPValidator creates a validator that calls an external HTTP
// endpoint. A non-positive timeout uses DefaultTimeout.
func NewHTTPValidator(url, adminSecret string, timeout time.Duration) *HTTPValidator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPValidator{
		url:         url,
		adminSecret: adminSecret,
		timeout:     timeout,
		client:      &http.Client{Timeout: timeout},
	}
}

type validateRequest struct {
	Token string `json:"token"`
}

type validateResponse struct {
	Valid    bool   `json:"valid"`
	Identity string `json:"identity,omitempty"`
	Name     string `json:"name,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (v *HTTPValidator) Validate(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrInvalidToken
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	body, err := json.Marshal(validateRequest{Token: token})
	if err != nil {
		return Identity{}, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
	if err != nil {
		return Identity{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if v.adminSecret != "" {
		req.Header.Set("X-Admin-Secret", v.adminSecret)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return Identity{}, ErrInvalidToken
	default:
		return Identity{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out validateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return Identity{}, fmt.Errorf("%w: decode error: %v", ErrUnavailable, err)
	}
	if !out.Valid || out.Identity == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{ID: out.Identity, Name: out.Name}, nil
}

// StaticValidator accepts a fixed token table, for development setups and
// tests.
type StaticValidator struct {
	tokens map[string]string
}

// NewStaticValidator maps each token to the identity it authenticates.
func NewStaticValidator(tokens map[string]string) *StaticValidator {
	m := make(map[string]string, len(tokens))
	for tok, id := range tokens {
		m[tok] = id
	}
	return &StaticValidator{tokens: m}
}

func (v *StaticValidator) Validate(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrInvalidToken
	}
	for tok, id := range v.tokens {
		if subtle.ConstantTimeCompare([]byte(tok), []byte(token)) == 1 {
			return Identity{ID: id}, nil
		}
	}
	return Identity{}, ErrInvalidToken
}
