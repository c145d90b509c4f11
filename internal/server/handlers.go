package server

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lox/cardengine/internal/engine"
)

var errUnknownType = errors.New("unknown message type")

// handle answers one client message with a result or an error.
func (s *Server) handle(c *Connection, msg *Message) {
	c.logger.Debug().Str("type", string(msg.Type)).Msg("Received message")

	data, err := s.dispatch(c, msg)
	var reply *Message
	if err != nil {
		reply, err = NewMessage(TypeError, errorData(err))
	} else {
		reply, err = NewMessage(TypeResult, data)
	}
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to build reply")
		return
	}
	reply.RequestID = msg.RequestID
	_ = c.Send(reply)
}

func (s *Server) dispatch(c *Connection, msg *Message) (any, error) {
	ctx := c.ctx
	e := s.engine

	switch msg.Type {
	case TypeCreate:
		var p engine.CreateParams
		if err := decode(msg, &p); err != nil {
			return nil, err
		}
		if err := s.deal(&p); err != nil {
			return nil, err
		}
		id, err := e.Create(ctx, c.identity, p)
		if err != nil {
			return nil, err
		}
		c.watch(id)
		return CreatedData{Session: id}, nil

	case TypeJoin:
		var ref SessionRef
		if err := decode(msg, &ref); err != nil {
			return nil, err
		}
		// Watch first so the joiner sees its own PlayerJoined.
		c.watch(ref.Session)
		seat, err := e.Join(ctx, ref.Session, c.identity)
		if err != nil {
			c.unwatch(ref.Session)
			return nil, err
		}
		return JoinedData{Session: ref.Session, Seat: seat}, nil

	case TypeStart:
		var ref SessionRef
		if err := decode(msg, &ref); err != nil {
			return nil, err
		}
		return ref, e.Start(ctx, ref.Session, c.identity)

	case TypeCommit:
		var d CommitData
		if err := decode(msg, &d); err != nil {
			return nil, err
		}
		card := engine.NoCard
		if d.Card != nil {
			card = *d.Card
		}
		reqID, err := e.CommitMove(ctx, d.Session, c.identity, d.Action, card)
		if err != nil {
			return nil, err
		}
		return CommittedData{Session: d.Session, RequestID: string(reqID)}, nil

	case TypeExecute:
		var d ExecuteData
		if err := decode(msg, &d); err != nil {
			return nil, err
		}
		return SessionRef{Session: d.Session}, e.ExecuteMove(ctx, d.Session, c.identity, d.Action, d.Extra)

	case TypeForfeit:
		var ref SessionRef
		if err := decode(msg, &ref); err != nil {
			return nil, err
		}
		return ref, e.Forfeit(ctx, ref.Session, c.identity)

	case TypeBootOut:
		var d BootOutData
		if err := decode(msg, &d); err != nil {
			return nil, err
		}
		return d, e.BootOut(ctx, d.Session, c.identity, d.Target)

	case TypeWatch:
		var ref SessionRef
		if err := decode(msg, &ref); err != nil {
			return nil, err
		}
		if _, err := e.Session(ref.Session); err != nil {
			return nil, err
		}
		c.watch(ref.Session)
		return ref, nil

	case TypeUnwatch:
		var ref SessionRef
		if err := decode(msg, &ref); err != nil {
			return nil, err
		}
		c.unwatch(ref.Session)
		return ref, nil

	case TypeSession:
		var ref SessionRef
		if err := decode(msg, &ref); err != nil {
			return nil, err
		}
		v, err := e.Session(ref.Session)
		if err != nil {
			return nil, err
		}
		return sessionData(v), nil

	case TypePlayer:
		var ref PlayerRef
		if err := decode(msg, &ref); err != nil {
			return nil, err
		}
		p, err := e.Player(ref.Session, ref.Index)
		if err != nil {
			return nil, err
		}
		return playerData(p, c.identity), nil

	case TypePlayers:
		var ref SessionRef
		if err := decode(msg, &ref); err != nil {
			return nil, err
		}
		players, err := e.Players(ref.Session)
		if err != nil {
			return nil, err
		}
		out := make([]PlayerData, 0, len(players))
		for _, p := range players {
			out = append(out, playerData(p, c.identity))
		}
		return out, nil

	case TypeSessions:
		views := e.Sessions()
		out := make([]SessionData, 0, len(views))
		for _, v := range views {
			out = append(out, sessionData(v))
		}
		return out, nil
	}

	return nil, fmt.Errorf("%w: %q", errUnknownType, msg.Type)
}

type decodeError struct{ err error }

func (d decodeError) Error() string { return "invalid message data: " + d.err.Error() }
func (d decodeError) Unwrap() error { return d.err }

func decode(msg *Message, v any) error {
	if len(msg.Data) == 0 {
		return decodeError{errors.New("missing data")}
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return decodeError{err}
	}
	return nil
}

func errorData(err error) ErrorData {
	code := string(engine.CategoryOf(err))
	var de decodeError
	switch {
	case errors.As(err, &de):
		code = "invalid_message"
	case errors.Is(err, errUnknownType):
		code = "unknown_type"
	}
	return ErrorData{Code: code, Message: err.Error()}
}
