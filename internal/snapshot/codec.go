package snapshot

import (
	"github.com/tinylib/msgp/msgp"
)

// MarshalMsg implements msgp.Marshaler
func (z Snapshot) MarshalMsg(b []byte) ([]byte, error) {
	o := msgp.AppendMapHeader(b, 4)
	o = msgp.AppendString(o, "version")
	o = msgp.AppendInt(o, z.Version)
	o = msgp.AppendString(o, "taken_at")
	o = msgp.AppendTime(o, z.TakenAt)
	o = msgp.AppendString(o, "session")
	o = z.Session.appendMsg(o)
	o = msgp.AppendString(o, "players")
	o = msgp.AppendArrayHeader(o, uint32(len(z.Players)))
	for i := range z.Players {
		o = z.Players[i].appendMsg(o)
	}
	return o, nil
}

// UnmarshalMsg implements msgp.Unmarshaler
func (z *Snapshot) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var field []byte
	var n uint32
	n, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, msgp.WrapError(err)
	}
	for ; n > 0; n-- {
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return bts, msgp.WrapError(err)
		}
		switch string(field) {
		case "version":
			z.Version, bts, err = msgp.ReadIntBytes(bts)
		case "taken_at":
			z.TakenAt, bts, err = msgp.ReadTimeBytes(bts)
		case "session":
			bts, err = z.Session.unmarshalMsg(bts)
		case "players":
			var sz uint32
			sz, bts, err = msgp.ReadArrayHeaderBytes(bts)
			if err != nil {
				return bts, msgp.WrapError(err, "players")
			}
			z.Players = make([]PlayerRecord, sz)
			for i := range z.Players {
				bts, err = z.Players[i].unmarshalMsg(bts)
				if err != nil {
					return bts, msgp.WrapError(err, "players", i)
				}
			}
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, msgp.WrapError(err, string(field))
		}
	}
	return bts, nil
}

func (z *SessionRecord) appendMsg(o []byte) []byte {
	o = msgp.AppendMapHeader(o, 19)
	o = msgp.AppendString(o, "id")
	o = msgp.AppendUint64(o, z.ID)
	o = msgp.AppendString(o, "creator")
	o = msgp.AppendString(o, z.Creator)
	o = msgp.AppendString(o, "ruleset")
	o = msgp.AppendString(o, z.Ruleset)
	o = msgp.AppendString(o, "capacity")
	o = msgp.AppendInt(o, z.Capacity)
	o = msgp.AppendString(o, "max_players")
	o = msgp.AppendInt(o, z.MaxPlayers)
	o = msgp.AppendString(o, "initial_hand_size")
	o = msgp.AppendInt(o, z.InitialHandSize)
	o = msgp.AppendString(o, "status")
	o = msgp.AppendString(o, z.Status)
	o = msgp.AppendString(o, "end_reason")
	o = msgp.AppendString(o, z.EndReason)
	o = msgp.AppendString(o, "current_turn")
	o = msgp.AppendInt(o, z.CurrentTurn)
	o = msgp.AppendString(o, "call_card")
	o = msgp.AppendUint64(o, z.CallCard)
	o = msgp.AppendString(o, "market")
	o = msgp.AppendBytes(o, z.Market)
	o = msgp.AppendString(o, "discard")
	o = msgp.AppendBytes(o, z.Discard)
	o = msgp.AppendString(o, "manager")
	o = msgp.AppendString(o, z.Manager)
	o = msgp.AppendString(o, "permissions")
	o = msgp.AppendUint32(o, z.Permissions)
	o = msgp.AppendString(o, "deck_commitment")
	o = msgp.AppendString(o, z.DeckCommitment)
	o = msgp.AppendString(o, "winners")
	o = msgp.AppendArrayHeader(o, uint32(len(z.Winners)))
	for _, w := range z.Winners {
		o = msgp.AppendInt(o, w)
	}
	o = msgp.AppendString(o, "created_at")
	o = msgp.AppendTime(o, z.CreatedAt)
	o = msgp.AppendString(o, "started_at")
	o = msgp.AppendTime(o, z.StartedAt)
	o = msgp.AppendString(o, "ended_at")
	o = msgp.AppendTime(o, z.EndedAt)
	return o
}

func (z *SessionRecord) unmarshalMsg(bts []byte) (o []byte, err error) {
	var field []byte
	var n uint32
	n, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, msgp.WrapError(err)
	}
	for ; n > 0; n-- {
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return bts, msgp.WrapError(err)
		}
		switch string(field) {
		case "id":
			z.ID, bts, err = msgp.ReadUint64Bytes(bts)
		case "creator":
			z.Creator, bts, err = msgp.ReadStringBytes(bts)
		case "ruleset":
			z.Ruleset, bts, err = msgp.ReadStringBytes(bts)
		case "capacity":
			z.Capacity, bts, err = msgp.ReadIntBytes(bts)
		case "max_players":
			z.MaxPlayers, bts, err = msgp.ReadIntBytes(bts)
		case "initial_hand_size":
			z.InitialHandSize, bts, err = msgp.ReadIntBytes(bts)
		case "status":
			z.Status, bts, err = msgp.ReadStringBytes(bts)
		case "end_reason":
			z.EndReason, bts, err = msgp.ReadStringBytes(bts)
		case "current_turn":
			z.CurrentTurn, bts, err = msgp.ReadIntBytes(bts)
		case "call_card":
			z.CallCard, bts, err = msgp.ReadUint64Bytes(bts)
		case "market":
			z.Market, bts, err = msgp.ReadBytesBytes(bts, z.Market[:0])
		case "discard":
			z.Discard, bts, err = msgp.ReadBytesBytes(bts, z.Discard[:0])
		case "manager":
			z.Manager, bts, err = msgp.ReadStringBytes(bts)
		case "permissions":
			z.Permissions, bts, err = msgp.ReadUint32Bytes(bts)
		case "deck_commitment":
			z.DeckCommitment, bts, err = msgp.ReadStringBytes(bts)
		case "winners":
			var sz uint32
			sz, bts, err = msgp.ReadArrayHeaderBytes(bts)
			if err != nil {
				break
			}
			z.Winners = make([]int, sz)
			for i := range z.Winners {
				z.Winners[i], bts, err = msgp.ReadIntBytes(bts)
				if err != nil {
					break
				}
			}
		case "created_at":
			z.CreatedAt, bts, err = msgp.ReadTimeBytes(bts)
		case "started_at":
			z.StartedAt, bts, err = msgp.ReadTimeBytes(bts)
		case "ended_at":
			z.EndedAt, bts, err = msgp.ReadTimeBytes(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, msgp.WrapError(err, string(field))
		}
	}
	return bts, nil
}

func (z *PlayerRecord) appendMsg(o []byte) []byte {
	o = msgp.AppendMapHeader(o, 5)
	o = msgp.AppendString(o, "index")
	o = msgp.AppendInt(o, z.Index)
	o = msgp.AppendString(o, "owner")
	o = msgp.AppendString(o, z.Owner)
	o = msgp.AppendString(o, "hand")
	o = msgp.AppendBytes(o, z.Hand)
	o = msgp.AppendString(o, "forfeited")
	o = msgp.AppendBool(o, z.Forfeited)
	o = msgp.AppendString(o, "score")
	o = msgp.AppendInt(o, z.Score)
	return o
}

func (z *PlayerRecord) unmarshalMsg(bts []byte) (o []byte, err error) {
	var field []byte
	var n uint32
	n, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, msgp.WrapError(err)
	}
	for ; n > 0; n-- {
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return bts, msgp.WrapError(err)
		}
		switch string(field) {
		case "index":
			z.Index, bts, err = msgp.ReadIntBytes(bts)
		case "owner":
			z.Owner, bts, err = msgp.ReadStringBytes(bts)
		case "hand":
			z.Hand, bts, err = msgp.ReadBytesBytes(bts, z.Hand[:0])
		case "forfeited":
			z.Forfeited, bts, err = msgp.ReadBoolBytes(bts)
		case "score":
			z.Score, bts, err = msgp.ReadIntBytes(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, msgp.WrapError(err, string(field))
		}
	}
	return bts, nil
}
