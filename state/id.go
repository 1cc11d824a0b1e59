package state

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrInvalidName = errors.New("invalid node name")

// NodeKind is the composition kind encoded in the type field of a node name
type NodeKind uint8

const (
	Then NodeKind = iota
	Or
	And
	Behavior
	Root
)

func (k NodeKind) String() string {
	switch k {
	case Then:
		return "THEN"
	case Or:
		return "OR"
	case And:
		return "AND"
	case Behavior:
		return "BEHAVIOR"
	case Root:
		return "ROOT"
	default:
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
}

// NodeId is the compact identifier of a node, used as the registry key.
type NodeId struct {
	Type  uint8
	Robot uint8
	Node  uint16
}

func (id NodeId) Kind() NodeKind {
	return NodeKind(id.Type)
}

func (id NodeId) String() string {
	return fmt.Sprintf("%d:%d:%d", id.Type, id.Robot, id.Node)
}

// ParseNodeId parses a name of the form LABEL_type_robot_node, e.g. AND_2_0_001.
func ParseNodeId(name string) (NodeId, error) {
	fields := strings.Split(name, "_")
	if len(fields) < 4 {
		return NodeId{}, fmt.Errorf("%w: %q needs at least 4 '_' separated fields", ErrInvalidName, name)
	}
	typ, err := parseField(name, fields[1], math.MaxUint8)
	if err != nil {
		return NodeId{}, err
	}
	robot, err := parseField(name, fields[2], math.MaxUint8)
	if err != nil {
		return NodeId{}, err
	}
	node, err := parseField(name, fields[3], math.MaxUint16)
	if err != nil {
		return NodeId{}, err
	}
	return NodeId{Type: uint8(typ), Robot: uint8(robot), Node: uint16(node)}, nil
}

func MustParseNodeId(name string) NodeId {
	id, err := ParseNodeId(name)
	if err != nil {
		panic(err)
	}
	return id
}

func parseField(name, field string, limit uint64) (uint64, error) {
	v, err := strconv.ParseUint(field, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q field %q is not a number", ErrInvalidName, name, field)
	}
	if v > limit {
		return 0, fmt.Errorf("%w: %q field %q exceeds %d", ErrInvalidName, name, field, limit)
	}
	return v, nil
}
