package server

import (
	"encoding/json"
	"time"

	"github.com/lox/cardengine/internal/engine"
	"github.com/lox/cardengine/internal/ruleset"
)

// MessageType identifies a websocket message.
type MessageType string

const (
	// Client -> Server
	TypeCreate   MessageType = "create"
	TypeJoin     MessageType = "join"
	TypeStart    MessageType = "start"
	TypeCommit   MessageType = "commit"
	TypeExecute  MessageType = "execute"
	TypeForfeit  MessageType = "forfeit"
	TypeBootOut  MessageType = "boot_out"
	TypeWatch    MessageType = "watch"
	TypeUnwatch  MessageType = "unwatch"
	TypeSession  MessageType = "session"
	TypePlayer   MessageType = "player"
	TypePlayers  MessageType = "players"
	TypeSessions MessageType = "sessions"

	// Server -> Client
	TypeResult MessageType = "result"
	TypeError  MessageType = "error"
	TypeSignal MessageType = "signal"
)

// Message is the envelope for every frame in both directions. Replies
// carry the RequestID of the message they answer.
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"requestId,omitempty"`
}

// NewMessage creates a message with the current timestamp.
func NewMessage(messageType MessageType, data any) (*Message, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return &Message{
		Type:      messageType,
		Data:      raw,
		Timestamp: time.Now(),
	}, nil
}

// Client -> Server payloads

type SessionRef struct {
	Session uint64 `json:"session"`
}

type PlayerRef struct {
	Session uint64 `json:"session"`
	Index   int    `json:"index"`
}

// CommitData names the move to commit. Card is required for play and
// defend and ignored otherwise.
type CommitData struct {
	Session uint64         `json:"session"`
	Action  ruleset.Action `json:"action"`
	Card    *int           `json:"card,omitempty"`
}

// ExecuteData repeats the committed action. Extra carries ruleset data
// such as a chosen shape, base64 encoded on the wire.
type ExecuteData struct {
	Session uint64         `json:"session"`
	Action  ruleset.Action `json:"action"`
	Extra   []byte         `json:"extra,omitempty"`
}

type BootOutData struct {
	Session uint64 `json:"session"`
	Target  int    `json:"target"`
}

// Server -> Client payloads

type CreatedData struct {
	Session uint64 `json:"session"`
}

type JoinedData struct {
	Session uint64 `json:"session"`
	Seat    int    `json:"seat"`
}

type CommittedData struct {
	Session   uint64 `json:"session"`
	RequestID string `json:"request_id"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SessionData is a session view with its public decks rendered.
type SessionData struct {
	engine.SessionView
	Market  string `json:"market"`
	Discard string `json:"discard"`
}

// PlayerData is a player view. Hand is only filled in for the seat's
// owner.
type PlayerData struct {
	engine.PlayerView
	Hand []int `json:"hand,omitempty"`
}

// SignalData wraps an engine event pushed to watchers.
type SignalData struct {
	Event   engine.EventType `json:"event"`
	Session uint64           `json:"session"`
	Payload json.RawMessage  `json:"payload"`
}

func sessionData(v engine.SessionView) SessionData {
	return SessionData{SessionView: v, Market: v.Market.String(), Discard: v.Discard.String()}
}

func playerData(p engine.PlayerView, caller string) PlayerData {
	out := PlayerData{PlayerView: p}
	if caller != "" && p.Owner == caller {
		out.Hand = p.Hand.Indices()
	}
	return out
}
