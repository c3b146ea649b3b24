// Package sqmrpb implements the SQMR wire frame format: length-prefixed
// protobuf-encoded query and response-or-fin messages (spec §6). Messages
// are hand-encoded with protowire rather than protoc-gen-go output, since
// the field set is tiny and stable; the wire format is still the real
// protobuf wire format produced by google.golang.org/protobuf.
package sqmrpb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Direction selects the iteration direction of a Query (spec §6).
type Direction int32

const (
	Forward Direction = iota
	Backward
)

// Query is the single frame a client sends to open an SQMR session.
type Query struct {
	StartBlock uint64
	// BlockHash is nil when the query specifies no hash filter.
	BlockHash []byte
	Limit     uint64
	Direction Direction
	Step      uint64
}

const (
	queryFieldStartBlock = 1
	queryFieldBlockHash  = 2
	queryFieldLimit      = 3
	queryFieldDirection  = 4
	queryFieldStep       = 5
)

// Marshal encodes q as a protobuf message.
func (q *Query) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, queryFieldStartBlock, protowire.VarintType)
	b = protowire.AppendVarint(b, q.StartBlock)
	if len(q.BlockHash) > 0 {
		b = protowire.AppendTag(b, queryFieldBlockHash, protowire.BytesType)
		b = protowire.AppendBytes(b, q.BlockHash)
	}
	b = protowire.AppendTag(b, queryFieldLimit, protowire.VarintType)
	b = protowire.AppendVarint(b, q.Limit)
	b = protowire.AppendTag(b, queryFieldDirection, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(q.Direction))
	b = protowire.AppendTag(b, queryFieldStep, protowire.VarintType)
	b = protowire.AppendVarint(b, q.Step)
	return b
}

// UnmarshalQuery decodes a Query from its protobuf encoding.
func UnmarshalQuery(data []byte) (*Query, error) {
	q := &Query{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("sqmrpb: bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case queryFieldStartBlock:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("sqmrpb: bad start_block: %w", protowire.ParseError(n))
			}
			q.StartBlock = v
			data = data[n:]
		case queryFieldBlockHash:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("sqmrpb: bad block_hash: %w", protowire.ParseError(n))
			}
			q.BlockHash = append([]byte(nil), v...)
			data = data[n:]
		case queryFieldLimit:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("sqmrpb: bad limit: %w", protowire.ParseError(n))
			}
			q.Limit = v
			data = data[n:]
		case queryFieldDirection:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("sqmrpb: bad direction: %w", protowire.ParseError(n))
			}
			q.Direction = Direction(v)
			data = data[n:]
		case queryFieldStep:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("sqmrpb: bad step: %w", protowire.ParseError(n))
			}
			q.Step = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("sqmrpb: bad field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
		_ = typ
	}
	return q, nil
}

// Response is one server-to-client frame: either a data payload, or the
// distinguished Fin sentinel (a zero-length payload with fin=true), never
// both (spec §3 and §6).
type Response struct {
	Fin     bool
	Payload []byte
}

const (
	responseFieldFin     = 1
	responseFieldPayload = 2
)

// IsFin reports whether this response is the end-of-data sentinel.
func (r *Response) IsFin() bool { return r.Fin }

// FinResponse constructs the distinguished Fin frame.
func FinResponse() *Response { return &Response{Fin: true} }

// DataResponse constructs a data-carrying frame.
func DataResponse(payload []byte) *Response { return &Response{Payload: payload} }

// Marshal encodes r as a protobuf message.
func (r *Response) Marshal() []byte {
	var b []byte
	if r.Fin {
		b = protowire.AppendTag(b, responseFieldFin, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
		return b
	}
	b = protowire.AppendTag(b, responseFieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, r.Payload)
	return b
}

// UnmarshalResponse decodes a Response from its protobuf encoding.
func UnmarshalResponse(data []byte) (*Response, error) {
	r := &Response{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("sqmrpb: bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case responseFieldFin:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("sqmrpb: bad fin: %w", protowire.ParseError(n))
			}
			r.Fin = v != 0
			data = data[n:]
		case responseFieldPayload:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("sqmrpb: bad payload: %w", protowire.ParseError(n))
			}
			r.Payload = append([]byte(nil), v...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("sqmrpb: bad field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return r, nil
}
