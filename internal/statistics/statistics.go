// Package statistics aggregates engine signals into running totals.
package statistics

import (
	"math"
	"sort"
	"sync"

	"github.com/lox/cardengine/internal/engine"
)

// Moves tracks how many moves finished sessions took.
type Moves struct {
	Sessions int
	Sum      float64
	SumSq    float64
	Max      int
}

func (m *Moves) add(n int) {
	m.Sessions++
	m.Sum += float64(n)
	m.SumSq += float64(n) * float64(n)
	if n > m.Max {
		m.Max = n
	}
}

// Mean returns the average moves per finished session.
func (m Moves) Mean() float64 {
	if m.Sessions == 0 {
		return 0
	}
	return m.Sum / float64(m.Sessions)
}

// Variance returns the sample variance of moves per session.
func (m Moves) Variance() float64 {
	if m.Sessions < 2 {
		return 0
	}
	mean := m.Mean()
	return (m.SumSq - float64(m.Sessions)*mean*mean) / float64(m.Sessions-1)
}

func (m Moves) StdDev() float64 {
	return math.Sqrt(m.Variance())
}

// IdentityStats are the per-identity results of finished sessions.
type IdentityStats struct {
	Identity  string `json:"identity"`
	Played    int    `json:"played"`
	Wins      int    `json:"wins"`
	Forfeits  int    `json:"forfeits"`
	CardsLeft int    `json:"cards_left"`
}

// Report is a point-in-time copy of the collected totals.
type Report struct {
	Created     int                      `json:"sessions_created"`
	Started     int                      `json:"sessions_started"`
	Ended       map[engine.EndReason]int `json:"sessions_ended"`
	Moves       map[string]int           `json:"moves"`
	Forfeits    int                      `json:"forfeits"`
	BootOuts    int                      `json:"boot_outs"`
	MeanMoves   float64                  `json:"mean_moves_per_session"`
	StdDevMoves float64                  `json:"stddev_moves_per_session"`
	MaxMoves    int                      `json:"max_moves_per_session"`
	Leaderboard []IdentityStats          `json:"leaderboard"`
}

// Collector is an engine.Subscriber that keeps running totals.
type Collector struct {
	mu         sync.Mutex
	created    int
	started    int
	ended      map[engine.EndReason]int
	moves      map[string]int
	forfeits   int
	bootOuts   int
	perSession map[uint64]int
	finished   Moves
	identities map[string]*IdentityStats
}

func NewCollector() *Collector {
	return &Collector{
		ended:      make(map[engine.EndReason]int),
		moves:      make(map[string]int),
		perSession: make(map[uint64]int),
		identities: make(map[string]*IdentityStats),
	}
}

func (c *Collector) OnEvent(event engine.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev := event.(type) {
	case engine.SessionCreatedEvent:
		c.created++
	case engine.SessionStartedEvent:
		c.started++
	case engine.MoveExecutedEvent:
		c.moves[ev.Action.String()]++
		c.perSession[ev.SessionID()]++
	case engine.PlayerForfeitedEvent:
		if ev.Booted {
			c.bootOuts++
		} else {
			c.forfeits++
		}
	case engine.SessionEndedEvent:
		c.ended[ev.Reason]++
		c.finished.add(c.perSession[ev.SessionID()])
		delete(c.perSession, ev.SessionID())
		c.recordResults(ev)
	}
}

func (c *Collector) recordResults(ev engine.SessionEndedEvent) {
	winners := make(map[int]bool, len(ev.Winners))
	for _, w := range ev.Winners {
		winners[w] = true
	}
	for _, p := range ev.Players {
		if p.Owner == "" {
			continue
		}
		st, ok := c.identities[p.Owner]
		if !ok {
			st = &IdentityStats{Identity: p.Owner}
			c.identities[p.Owner] = st
		}
		st.Played++
		st.CardsLeft += p.Score
		if p.Forfeited {
			st.Forfeits++
		}
		if winners[p.Index] {
			st.Wins++
		}
	}
}

// Report returns the current totals. The leaderboard is ordered by wins,
// then by fewest cards left, then by identity.
func (c *Collector) Report() Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := Report{
		Created:     c.created,
		Started:     c.started,
		Ended:       make(map[engine.EndReason]int, len(c.ended)),
		Moves:       make(map[string]int, len(c.moves)),
		Forfeits:    c.forfeits,
		BootOuts:    c.bootOuts,
		MeanMoves:   c.finished.Mean(),
		StdDevMoves: c.finished.StdDev(),
		MaxMoves:    c.finished.Max,
	}
	for k, v := range c.ended {
		r.Ended[k] = v
	}
	for k, v := range c.moves {
		r.Moves[k] = v
	}
	for _, st := range c.identities {
		r.Leaderboard = append(r.Leaderboard, *st)
	}
	sort.Slice(r.Leaderboard, func(i, j int) bool {
		a, b := r.Leaderboard[i], r.Leaderboard[j]
		if a.Wins != b.Wins {
			return a.Wins > b.Wins
		}
		if a.CardsLeft != b.CardsLeft {
			return a.CardsLeft < b.CardsLeft
		}
		return a.Identity < b.Identity
	})
	return r
}
