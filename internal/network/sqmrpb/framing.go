package sqmrpb

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameLen bounds a single frame to guard against a misbehaving peer
// claiming an unbounded length prefix.
const MaxFrameLen = 16 << 20 // 16 MiB

// WriteFrame writes payload to w as a varint-length-prefixed blob.
func WriteFrame(w io.Writer, payload []byte) error {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(payload)))
	if _, err := w.Write(lenBuf[:n]); err != nil {
		return fmt.Errorf("sqmrpb: write length prefix: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("sqmrpb: write payload: %w", err)
	}
	return nil
}

// ReadFrame reads one varint-length-prefixed blob from r.
func ReadFrame(r io.ByteReader) ([]byte, error) {
	length, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("sqmrpb: read length prefix: %w", err)
	}
	if length > MaxFrameLen {
		return nil, fmt.Errorf("sqmrpb: frame length %d exceeds max %d", length, MaxFrameLen)
	}
	if length == 0 {
		return nil, nil
	}
	payload := make([]byte, length)
	for i := range payload {
		b, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("sqmrpb: read payload: %w", err)
		}
		payload[i] = b
	}
	return payload, nil
}
