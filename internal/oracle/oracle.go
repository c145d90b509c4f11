// Package oracle reveals confidential card values asynchronously. Requests
// return immediately with an id; results arrive later as Fulfillments.
package oracle

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrQueueFull is returned when the oracle cannot accept another request.
var ErrQueueFull = errors.New("oracle: request queue full")

// RequestID correlates a reveal request with its fulfillment.
type RequestID string

// NewRequestID returns a random request id.
func NewRequestID() RequestID {
	return RequestID(uuid.NewString())
}

// Ref names one confidential value: an index into a sealed deck, requested
// on behalf of a session.
type Ref struct {
	Session    uint64 `json:"session"`
	Commitment string `json:"commitment"`
	Index      int    `json:"index"`
}

// Claimer binds a sealed deck to the session that will play it. Reveals
// for any other session are refused.
type Claimer interface {
	Claim(commitment string, session uint64) error
}

// Fulfillment carries the plaintext results for a request, in ref order.
type Fulfillment struct {
	RequestID RequestID
	Results   []uint64
	Err       error
}

// Oracle accepts reveal requests. Implementations must not block waiting
// for the reveal itself.
type Oracle interface {
	RequestReveal(ctx context.Context, refs []Ref) (RequestID, error)
}

// Request is a recorded reveal request.
type Request struct {
	ID   RequestID
	Refs []Ref
}

// Manual records requests without resolving them. Tests drive fulfillment
// explicitly.
type Manual struct {
	mu       sync.Mutex
	requests []Request
	fail     error
}

// NewManual returns an oracle that only records requests.
func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) RequestReveal(_ context.Context, refs []Ref) (RequestID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return "", m.fail
	}
	req := Request{ID: NewRequestID(), Refs: append([]Ref(nil), refs...)}
	m.requests = append(m.requests, req)
	return req.ID, nil
}

// FailWith makes subsequent requests fail with err. A nil err restores
// normal behaviour.
func (m *Manual) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Requests returns every request recorded so far.
func (m *Manual) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Last returns the most recent request.
func (m *Manual) Last() (Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return Request{}, false
	}
	return m.requests[len(m.requests)-1], true
}
