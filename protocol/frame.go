// SPDX-License-Identifier: GPL-2.0-or-later

package protocol

import (
	"log/slog"

	"github.com/pkg/errors"

	"goquake2/net"
)

// FrameHeader starts every svc_frame.
type FrameHeader struct {
	Number   int
	Delta    int // frame the entities are delta compressed from, -1 for none
	Suppress int // packets the server dropped because of rate
	AreaBits []byte
}

// WriteFrameHeader writes svc_frame and its header.
func WriteFrameHeader(msg *net.Message, h *FrameHeader) {
	msg.WriteByte(SvcFrame)
	msg.WriteLong(h.Number)
	msg.WriteLong(h.Delta)
	msg.WriteByte(h.Suppress)
	msg.WriteByte(len(h.AreaBits))
	msg.WriteBytes(h.AreaBits)
}

// ReadFrameHeader reads the header after the svc_frame opcode.
func ReadFrameHeader(r *net.Reader) (FrameHeader, error) {
	var h FrameHeader
	h.Number = r.ReadLong()
	h.Delta = r.ReadLong()
	h.Suppress = r.ReadUint8()
	n := r.ReadUint8()
	if n > MaxMapAreaBytes {
		return h, errors.Errorf("invalid areabits length %d", n)
	}
	if n > 0 {
		h.AreaBits = append([]byte(nil), r.ReadData(n)...)
	}
	if r.Overread() {
		return h, errors.New("read past end of frame header")
	}
	return h, nil
}

// Baselines hands out the state an entity is delta compressed from when
// it enters a frame. A nil result means the zero state.
type Baselines func(number int) *EntityState

var nullEntityState EntityState

func baselineFor(b Baselines, number int) *EntityState {
	if b != nil {
		if s := b(number); s != nil {
			return s
		}
	}
	return &nullEntityState
}

// EmitOptions tune WritePacketEntities.
type EmitOptions struct {
	// MaxSize is the size msg may grow to, 0 means no limit.
	MaxSize int
	// MaxClients entities with a number up to this are players, they
	// always carry their old origin.
	MaxClients int
	Baselines  Baselines
}

// WritePacketEntities writes the delta between the sorted entity lists
// from and to followed by the terminating zero. from is nil for a full
// update.
//
// When the message runs out of space the rest of the list is truncated.
// The returned list is what the client will hold after parsing and must
// be kept in place of to for later deltas. ok is false if the list was
// truncated.
func WritePacketEntities(msg *net.Message, from, to []EntityState, opt EmitOptions) (sent []EntityState, ok bool) {
	sent = make([]EntityState, 0, len(to))
	oldindex, newindex := 0, 0
	for newindex < len(to) || oldindex < len(from) {
		if opt.MaxSize > 0 && msg.Len()+MaxPacketEntityBytes > opt.MaxSize {
			sent = truncPacketEntities(sent, from[oldindex:], to[newindex:])
			slog.Debug("truncated packet entities", slog.Int("size", msg.Len()), slog.Int("sent", len(sent)))
			msg.WriteShort(0)
			return sent, false
		}

		newnum := MaxEdicts
		if newindex < len(to) {
			newnum = to[newindex].Number
		}
		oldnum := MaxEdicts
		if oldindex < len(from) {
			oldnum = from[oldindex].Number
		}

		switch {
		case newnum == oldnum:
			// delta update from old position, nothing is written if
			// the entity did not change
			var flags EntityFlags
			if newnum <= opt.MaxClients {
				flags |= EsNewEntity
			}
			WriteDeltaEntity(msg, &from[oldindex], &to[newindex], flags)
			sent = append(sent, to[newindex])
			oldindex++
			newindex++
		case newnum < oldnum:
			// this is a new entity, send it from the baseline
			WriteDeltaEntity(msg, baselineFor(opt.Baselines, newnum), &to[newindex], EsForce|EsNewEntity)
			sent = append(sent, to[newindex])
			newindex++
		default:
			// the old entity isn't present in the new message
			WriteDeltaEntity(msg, &from[oldindex], nil, EsForce)
			oldindex++
		}
	}
	msg.WriteShort(0) // end of packetentities
	return sent, true
}

// truncPacketEntities completes sent with the state the client keeps for
// the entities that were not written: old ones stay as they were, new
// ones are not there.
func truncPacketEntities(sent, from, to []EntityState) []EntityState {
	oldindex, newindex := 0, 0
	for oldindex < len(from) {
		newnum := MaxEdicts
		if newindex < len(to) {
			newnum = to[newindex].Number
		}
		oldnum := from[oldindex].Number
		switch {
		case newnum < oldnum:
			newindex++
		case newnum == oldnum:
			newindex++
			fallthrough
		default:
			s := from[oldindex]
			s.Event = 0
			sent = append(sent, s)
			oldindex++
		}
	}
	return sent
}

func copyUnchanged(s EntityState) EntityState {
	s.Event = 0
	return s
}

// ReadPacketEntities parses a packet entities list and merges it with the
// sorted list from of the delta frame. Entities not mentioned carry over
// unchanged.
func ReadPacketEntities(r *net.Reader, from []EntityState, baselines Baselines) ([]EntityState, error) {
	to := make([]EntityState, 0, len(from)+8)
	oldindex := 0
	for {
		bits, newnum := ReadEntityBits(r)
		if r.Overread() {
			return nil, errors.New("read past end of packet entities")
		}
		if newnum < 0 || newnum >= MaxEdicts {
			return nil, errors.Errorf("bad entity number %d", newnum)
		}
		if newnum == 0 {
			break
		}

		for oldindex < len(from) && from[oldindex].Number < newnum {
			// one or more entities from the old packet are unchanged
			to = append(to, copyUnchanged(from[oldindex]))
			oldindex++
		}

		oldnum := MaxEdicts
		if oldindex < len(from) {
			oldnum = from[oldindex].Number
		}

		if bits&U_REMOVE != 0 {
			// the entity present in oldframe is not in the current frame
			if oldnum != newnum {
				slog.Debug("U_REMOVE: oldnum != newnum", slog.Int("oldnum", oldnum), slog.Int("newnum", newnum))
			} else {
				oldindex++
			}
			continue
		}

		if oldnum == newnum {
			// delta from previous state
			to = append(to, ReadDeltaEntity(r, &from[oldindex], newnum, bits))
			oldindex++
		} else {
			// delta from baseline
			to = append(to, ReadDeltaEntity(r, baselineFor(baselines, newnum), newnum, bits))
		}
		if r.Overread() {
			return nil, errors.Errorf("read past end of entity %d", newnum)
		}
	}

	// any remaining entities in the old frame are copied over
	for ; oldindex < len(from); oldindex++ {
		to = append(to, copyUnchanged(from[oldindex]))
	}
	return to, nil
}

// WriteFrame writes a whole default protocol frame: the header, the
// player state and the packet entities. oldps and oldents are ignored
// unless h.Delta is a valid frame number.
func WriteFrame(msg *net.Message, h *FrameHeader, oldps, ps *PlayerState, oldents, ents []EntityState, opt EmitOptions) ([]EntityState, bool) {
	if h.Delta <= 0 {
		oldps = nil
		oldents = nil
	}
	WriteFrameHeader(msg, h)
	msg.WriteByte(SvcPlayerInfo)
	WriteDeltaPlayerstate(msg, oldps, ps)
	msg.WriteByte(SvcPacketEntities)
	return WritePacketEntities(msg, oldents, ents, opt)
}
