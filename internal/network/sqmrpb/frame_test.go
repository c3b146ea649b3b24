package sqmrpb

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryRoundTrip(t *testing.T) {
	q := &Query{StartBlock: 5, BlockHash: []byte{1, 2, 3}, Limit: 3, Direction: Backward, Step: 2}
	got, err := UnmarshalQuery(q.Marshal())
	require.NoError(t, err)
	assert.Equal(t, q, got)
}

func TestQueryRoundTripNoHash(t *testing.T) {
	q := &Query{StartBlock: 0, Limit: 100, Direction: Forward, Step: 1}
	got, err := UnmarshalQuery(q.Marshal())
	require.NoError(t, err)
	assert.Equal(t, q.StartBlock, got.StartBlock)
	assert.Empty(t, got.BlockHash)
	assert.Equal(t, q.Limit, got.Limit)
}

func TestResponseRoundTripData(t *testing.T) {
	r := DataResponse([]byte("header-bytes"))
	got, err := UnmarshalResponse(r.Marshal())
	require.NoError(t, err)
	assert.False(t, got.IsFin())
	assert.Equal(t, r.Payload, got.Payload)
}

func TestResponseRoundTripFin(t *testing.T) {
	r := FinResponse()
	got, err := UnmarshalResponse(r.Marshal())
	require.NoError(t, err)
	assert.True(t, got.IsFin())
	assert.Empty(t, got.Payload)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payloads := [][]byte{
		DataResponse([]byte("a")).Marshal(),
		DataResponse([]byte("bb")).Marshal(),
		FinResponse().Marshal(),
	}
	for _, p := range payloads {
		require.NoError(t, WriteFrame(&buf, p))
	}

	br := bufio.NewReader(&buf)
	for _, want := range payloads {
		got, err := ReadFrame(br)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestFrameZeroLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, nil))
	br := bufio.NewReader(&buf)
	got, err := ReadFrame(br)
	require.NoError(t, err)
	assert.Empty(t, got)
}
