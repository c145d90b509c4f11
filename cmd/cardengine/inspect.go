package main

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/lox/cardengine/internal/snapshot"
)

// InspectCmd renders an archived session.
type InspectCmd struct {
	Path string `arg:"" help:"Snapshot file written by the archiver" type:"existingfile"`
}

func (c *InspectCmd) Run() error {
	snap, err := snapshot.Read(c.Path)
	if err != nil {
		return err
	}
	out, err := renderSnapshot(snap)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, out)
	return err
}

func renderSnapshot(snap snapshot.Snapshot) (string, error) {
	s := snap.Session
	market, err := s.MarketDeck()
	if err != nil {
		return "", fmt.Errorf("market: %w", err)
	}
	discard, err := s.DiscardDeck()
	if err != nil {
		return "", fmt.Errorf("discard: %w", err)
	}

	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
	}
	summary := []string{
		headerStyle.Render(fmt.Sprintf("Session %d", s.ID)),
		row("ruleset", s.Ruleset),
		row("creator", s.Creator),
		row("status", s.Status),
		row("end reason", orDash(s.EndReason)),
		row("capacity", fmt.Sprintf("%d cards", s.Capacity)),
		row("market", fmt.Sprintf("%d cards", market.Count())),
		row("discard", fmt.Sprintf("%d cards", discard.Count())),
		row("call card", fmt.Sprintf("%d", s.CallCard)),
		row("manager", orDash(s.Manager)),
		row("started", formatTime(s.StartedAt)),
		row("ended", formatTime(s.EndedAt)),
	}

	var players []string
	for _, p := range snap.Players {
		hand, err := snap.HandDeck(p)
		if err != nil {
			return "", fmt.Errorf("player %d hand: %w", p.Index, err)
		}
		line := fmt.Sprintf("#%d %-12s %2d cards  score %d", p.Index, p.Owner, hand.Count(), p.Score)
		switch {
		case slices.Contains(s.Winners, p.Index):
			line = winnerStyle.Render(line + "  winner")
		case p.Forfeited:
			line = forfeitStyle.Render(line + "  forfeited")
		}
		players = append(players, line)
	}
	if len(players) == 0 {
		players = append(players, "no players seated")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		boxStyle.Render(strings.Join(summary, "\n")),
		boxStyle.Render(strings.Join(players, "\n")),
	), nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
