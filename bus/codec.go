package bus

import (
	"errors"
	"fmt"
	"math"

	"github.com/encodeous/tasknet/state"
	"google.golang.org/protobuf/encoding/protowire"
)

// Frames use the protobuf wire format so other stacks can decode them with a plain .proto:
//
//	message NodeId { uint32 type = 1; uint32 robot = 2; uint32 node = 3; }
//	message ControlMessage {
//	  NodeId sender = 1; uint32 kind = 2; float activation_level = 3; float activation_potential = 4;
//	  bool done = 5; bool active = 6; NodeId highest = 7; float highest_potential = 8; uint32 parent_type = 9;
//	}
//	message State {
//	  NodeId owner = 1; bool active = 2; bool done = 3; float activation_level = 4; float activation_potential = 5;
//	  bool peer_active = 6; bool peer_done = 7; NodeId highest = 8; float highest_potential = 9;
//	  uint32 parent_type = 10; bool working = 11;
//	}

// ErrMalformed marks a frame whose known fields do not match their declared types.
var ErrMalformed = errors.New("malformed frame")

const (
	ctlSender protowire.Number = iota + 1
	ctlKind
	ctlLevel
	ctlPotential
	ctlDone
	ctlActive
	ctlHighest
	ctlHighestPotential
	ctlParentType
)

const (
	stOwner protowire.Number = iota + 1
	stActive
	stDone
	stLevel
	stPotential
	stPeerActive
	stPeerDone
	stHighest
	stHighestPotential
	stParentType
	stWorking
)

func EncodeControl(m state.ControlMessage) []byte {
	b := make([]byte, 0, 48)
	b = appendNodeId(b, ctlSender, m.Sender)
	b = appendVarint(b, ctlKind, uint64(m.Kind))
	b = appendFloat(b, ctlLevel, m.ActivationLevel)
	b = appendFloat(b, ctlPotential, m.ActivationPotential)
	b = appendBool(b, ctlDone, m.Done)
	b = appendBool(b, ctlActive, m.Active)
	b = appendNodeId(b, ctlHighest, m.Highest)
	b = appendFloat(b, ctlHighestPotential, m.HighestPotential)
	b = appendVarint(b, ctlParentType, uint64(m.ParentType))
	return b
}

func DecodeControl(b []byte) (state.ControlMessage, error) {
	var m state.ControlMessage
	var d decoder
	err := walk(b, func(num protowire.Number, f field) error {
		d.num = num
		switch num {
		case ctlSender:
			m.Sender = d.nodeId(f)
		case ctlKind:
			m.Kind = state.MessageKind(d.varint(f, math.MaxUint8))
		case ctlLevel:
			m.ActivationLevel = d.float(f)
		case ctlPotential:
			m.ActivationPotential = d.float(f)
		case ctlDone:
			m.Done = d.boolean(f)
		case ctlActive:
			m.Active = d.boolean(f)
		case ctlHighest:
			m.Highest = d.nodeId(f)
		case ctlHighestPotential:
			m.HighestPotential = d.float(f)
		case ctlParentType:
			m.ParentType = state.NodeKind(d.varint(f, math.MaxUint8))
		}
		return d.err
	})
	return m, err
}

func EncodeStatus(m state.StatusMessage) []byte {
	b := make([]byte, 0, 56)
	b = appendNodeId(b, stOwner, m.Owner)
	b = appendBool(b, stActive, m.Active)
	b = appendBool(b, stDone, m.Done)
	b = appendFloat(b, stLevel, m.ActivationLevel)
	b = appendFloat(b, stPotential, m.ActivationPotential)
	b = appendBool(b, stPeerActive, m.PeerActive)
	b = appendBool(b, stPeerDone, m.PeerDone)
	b = appendNodeId(b, stHighest, m.Highest)
	b = appendFloat(b, stHighestPotential, m.HighestPotential)
	b = appendVarint(b, stParentType, uint64(m.ParentType))
	b = appendBool(b, stWorking, m.Working)
	return b
}

func DecodeStatus(b []byte) (state.StatusMessage, error) {
	var m state.StatusMessage
	var d decoder
	err := walk(b, func(num protowire.Number, f field) error {
		d.num = num
		switch num {
		case stOwner:
			m.Owner = d.nodeId(f)
		case stActive:
			m.Active = d.boolean(f)
		case stDone:
			m.Done = d.boolean(f)
		case stLevel:
			m.ActivationLevel = d.float(f)
		case stPotential:
			m.ActivationPotential = d.float(f)
		case stPeerActive:
			m.PeerActive = d.boolean(f)
		case stPeerDone:
			m.PeerDone = d.boolean(f)
		case stHighest:
			m.Highest = d.nodeId(f)
		case stHighestPotential:
			m.HighestPotential = d.float(f)
		case stParentType:
			m.ParentType = state.NodeKind(d.varint(f, math.MaxUint8))
		case stWorking:
			m.Working = d.boolean(f)
		}
		return d.err
	})
	return m, err
}

func appendNodeId(b []byte, num protowire.Number, id state.NodeId) []byte {
	if id == (state.NodeId{}) {
		return b
	}
	inner := make([]byte, 0, 9)
	inner = appendVarint(inner, 1, uint64(id.Type))
	inner = appendVarint(inner, 2, uint64(id.Robot))
	inner = appendVarint(inner, 3, uint64(id.Node))
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, inner)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendVarint(b, num, protowire.EncodeBool(v))
}

func appendFloat(b []byte, num protowire.Number, v float32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v))
}

// field holds the decoded value of one wire field, only the member matching its type is set
type field struct {
	typ   protowire.Type
	u64   uint64
	u32   uint32
	bytes []byte
}

// decoder converts known fields, keeping the first malformed one as its error.
type decoder struct {
	num protowire.Number
	err error
}

func (d *decoder) check(f field, typ protowire.Type) bool {
	if d.err != nil {
		return false
	}
	if f.typ != typ {
		d.err = fmt.Errorf("%w: field %d has wire type %d, want %d", ErrMalformed, d.num, f.typ, typ)
		return false
	}
	return true
}

func (d *decoder) varint(f field, max uint64) uint64 {
	if !d.check(f, protowire.VarintType) {
		return 0
	}
	if f.u64 > max {
		d.err = fmt.Errorf("%w: field %d value %d overflows %d", ErrMalformed, d.num, f.u64, max)
		return 0
	}
	return f.u64
}

func (d *decoder) boolean(f field) bool {
	return d.varint(f, math.MaxUint64) != 0
}

func (d *decoder) float(f field) float32 {
	if !d.check(f, protowire.Fixed32Type) {
		return 0
	}
	return math.Float32frombits(f.u32)
}

func (d *decoder) nodeId(f field) state.NodeId {
	if !d.check(f, protowire.BytesType) {
		return state.NodeId{}
	}
	var id state.NodeId
	var inner decoder
	err := walk(f.bytes, func(num protowire.Number, f field) error {
		inner.num = num
		switch num {
		case 1:
			id.Type = uint8(inner.varint(f, math.MaxUint8))
		case 2:
			id.Robot = uint8(inner.varint(f, math.MaxUint8))
		case 3:
			id.Node = uint16(inner.varint(f, math.MaxUint16))
		}
		return inner.err
	})
	if err != nil {
		d.err = fmt.Errorf("field %d: %w", d.num, err)
	}
	return id
}

func walk(b []byte, fn func(num protowire.Number, f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		f := field{typ: typ}
		switch typ {
		case protowire.VarintType:
			f.u64, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			f.u32, n = protowire.ConsumeFixed32(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			// no value kept; known fields reject it by type
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if err := fn(num, f); err != nil {
			return err
		}
	}
	return nil
}
