// Package snapshot archives finished sessions as msgpack files.
package snapshot

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/lox/cardengine/internal/deck"
	"github.com/lox/cardengine/internal/engine"
	"github.com/tinylib/msgp/msgp"
)

// Version is bumped whenever the record layout changes incompatibly.
const Version = 1

var ErrVersion = errors.New("unsupported snapshot version")

// Snapshot is the archived state of one session.
type Snapshot struct {
	Version int
	TakenAt time.Time
	Session SessionRecord
	Players []PlayerRecord
}

// SessionRecord mirrors engine.SessionView with decks stored as their
// big-endian integer encoding.
type SessionRecord struct {
	ID              uint64
	Creator         string
	Ruleset         string
	Capacity        int
	MaxPlayers      int
	InitialHandSize int
	Status          string
	EndReason       string
	CurrentTurn     int
	CallCard        uint64
	Market          []byte
	Discard         []byte
	Manager         string
	Permissions     uint32
	DeckCommitment  string
	Winners         []int
	CreatedAt       time.Time
	StartedAt       time.Time
	EndedAt         time.Time
}

type PlayerRecord struct {
	Index     int
	Owner     string
	Hand      []byte
	Forfeited bool
	Score     int
}

// FromViews builds a snapshot from engine views.
func FromViews(v engine.SessionView, players []engine.PlayerView) Snapshot {
	status, _ := v.Status.MarshalText()
	snap := Snapshot{
		Version: Version,
		TakenAt: time.Now().UTC(),
		Session: SessionRecord{
			ID:              v.ID,
			Creator:         v.Creator,
			Ruleset:         v.Ruleset,
			Capacity:        v.Capacity,
			MaxPlayers:      v.MaxPlayers,
			InitialHandSize: v.InitialHandSize,
			Status:          string(status),
			EndReason:       string(v.EndReason),
			CurrentTurn:     v.CurrentTurn,
			CallCard:        v.CallCard,
			Market:          v.Market.Value().Bytes(),
			Discard:         v.Discard.Value().Bytes(),
			Manager:         v.Manager,
			Permissions:     uint32(v.Permissions),
			DeckCommitment:  v.DeckCommitment,
			Winners:         v.Winners,
			CreatedAt:       v.CreatedAt,
			StartedAt:       v.StartedAt,
			EndedAt:         v.EndedAt,
		},
	}
	for _, p := range players {
		snap.Players = append(snap.Players, PlayerRecord{
			Index:     p.Index,
			Owner:     p.Owner,
			Hand:      p.Hand.Value().Bytes(),
			Forfeited: p.Forfeited,
			Score:     p.Score,
		})
	}
	return snap
}

// MarketDeck decodes the archived market deck.
func (r SessionRecord) MarketDeck() (deck.Deck, error) {
	return deck.FromValue(new(big.Int).SetBytes(r.Market), r.Capacity)
}

// DiscardDeck decodes the archived discard pile.
func (r SessionRecord) DiscardDeck() (deck.Deck, error) {
	return deck.FromValue(new(big.Int).SetBytes(r.Discard), r.Capacity)
}

// HandDeck decodes a player's archived hand.
func (s Snapshot) HandDeck(p PlayerRecord) (deck.Deck, error) {
	return deck.FromValue(new(big.Int).SetBytes(p.Hand), s.Session.Capacity)
}

// Filename is the archive name for a session id.
func Filename(id uint64) string {
	return fmt.Sprintf("session-%d.msgp", id)
}

// Write stores the snapshot under dir and returns the file path.
func Write(dir string, snap Snapshot) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	data, err := snap.MarshalMsg(nil)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	path := filepath.Join(dir, Filename(snap.Session.ID))
	if err := writeFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Read loads a snapshot written by Write.
func Read(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if _, err := snap.UnmarshalMsg(data); err != nil {
		return Snapshot{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if snap.Version != Version {
		return Snapshot{}, fmt.Errorf("%w: %d", ErrVersion, snap.Version)
	}
	return snap, nil
}

var (
	_ msgp.Marshaler   = Snapshot{}
	_ msgp.Unmarshaler = (*Snapshot)(nil)
)
