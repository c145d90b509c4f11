package server

import (
	"fmt"

	"github.com/lox/cardengine/internal/auth"
	"github.com/lox/cardengine/internal/engine"
	"github.com/lox/cardengine/internal/rng"
	"github.com/lox/cardengine/internal/statistics"
)

// Sealer commits card values and returns the commitment handle the
// oracle later opens.
type Sealer interface {
	Seal(values []uint64) (string, error)
}

type Option func(*Server)

// StatsReporter supplies the payload served on /stats.
type StatsReporter interface {
	Report() statistics.Report
}

// WithStats serves reporter's totals on /stats.
func WithStats(reporter StatsReporter) Option {
	return func(s *Server) { s.stats = reporter }
}

// WithAuth requires every websocket client to present a token, sent as a
// bearer Authorization header or a token query parameter. A client that
// also names an identity must name the one its token validates as.
func WithAuth(v auth.Validator) Option {
	return func(s *Server) { s.auth = v }
}

// WithDealer lets clients create sessions without a deck commitment. For
// rulesets listed in decks the server shuffles the values, seals them and
// fills in the commitment.
func WithDealer(sealer Sealer, src rng.Source, decks map[string][]uint64) Option {
	return func(s *Server) {
		s.sealer = sealer
		s.shuffle = src
		s.decks = decks
	}
}

func (s *Server) deal(p *engine.CreateParams) error {
	if p.DeckCommitment != "" || s.sealer == nil {
		return nil
	}
	values, ok := s.decks[p.Ruleset]
	if !ok || len(values) != p.Capacity {
		return nil
	}

	perm := s.shuffle.Permutation(rng.Uint64(), len(values))
	shuffled := make([]uint64, len(values))
	for i, j := range perm {
		shuffled[i] = values[j]
	}
	commitment, err := s.sealer.Seal(shuffled)
	if err != nil {
		return fmt.Errorf("%w: seal deck: %v", engine.ErrInvalidConfiguration, err)
	}
	p.DeckCommitment = commitment
	return nil
}
