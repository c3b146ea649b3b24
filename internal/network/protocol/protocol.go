// Package protocol defines the closed set of SQMR wire protocols this node
// speaks and the bidirectional mapping between the enumerated tag and its
// wire protocol-name string.
package protocol

import "fmt"

// Tag identifies one SQMR protocol. The zero value is not a valid tag.
type Tag int

const (
	// SignedBlockHeader serves block headers.
	SignedBlockHeader Tag = iota + 1
	// StateDiff serves per-block state diffs.
	StateDiff
	// Transaction serves per-block transactions.
	Transaction
)

// All lists every known tag, in declaration order.
var All = []Tag{SignedBlockHeader, StateDiff, Transaction}

// AsWire returns the wire protocol-name string for tag. The mapping is
// total: every valid Tag has exactly one wire name.
func (t Tag) AsWire() string {
	switch t {
	case SignedBlockHeader:
		return "/starknet/headers/1"
	case StateDiff:
		return "/starknet/state_diffs/1"
	case Transaction:
		return "/starknet/transactions/1"
	default:
		panic(fmt.Sprintf("protocol: invalid tag %d", int(t)))
	}
}

func (t Tag) String() string {
	switch t {
	case SignedBlockHeader:
		return "SignedBlockHeader"
	case StateDiff:
		return "StateDiff"
	case Transaction:
		return "Transaction"
	default:
		return fmt.Sprintf("Tag(%d)", int(t))
	}
}

// wireToTag is derived once from AsWire's total match, not populated by
// runtime reflection, so a bad wire string can never desync from the
// match expression above.
var wireToTag = func() map[string]Tag {
	m := make(map[string]Tag, len(All))
	for _, t := range All {
		m[t.AsWire()] = t
	}
	return m
}()

// FromWire parses a wire protocol-name string back into a Tag. It returns
// an *UnknownProtocolError for any string not produced by AsWire.
func FromWire(wire string) (Tag, error) {
	if t, ok := wireToTag[wire]; ok {
		return t, nil
	}
	return 0, &UnknownProtocolError{Wire: wire}
}

// UnknownProtocolError is returned by FromWire when the wire string does
// not name any registered protocol.
type UnknownProtocolError struct {
	Wire string
}

func (e *UnknownProtocolError) Error() string {
	return fmt.Sprintf("protocol: unknown wire name %q", e.Wire)
}
