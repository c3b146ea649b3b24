// Package storage declares the read-only block storage interface the DB
// executor adapts into SQMR response streams. A concrete implementation
// (an on-disk store) lives outside this module's scope — spec.md names
// storage as an external collaborator — so this package only carries the
// reader contract and a block-scoped item shape the executor can iterate.
package storage

import "github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/sqmrpb"

// BlockItem is one block-scoped payload the DB executor reads and frames
// as a single SQMR response: an already-encoded wire payload plus the
// block number it was read at, so the executor can enforce step/limit
// without re-decoding.
type BlockItem struct {
	BlockNumber uint64
	Payload     []byte
}

// HeaderReader, StateDiffReader, and TransactionReader are the three
// narrow read interfaces the executor's typed handlers depend on — split
// per protocol rather than one wide Reader, since a real storage layer
// backs each by a different on-disk column family/table and a handler
// should only depend on the one it serves.
type HeaderReader interface {
	// ReadHeaders iterates block-scoped signed headers starting at
	// startBlock in the given direction, calling yield once per block
	// until limit items have been produced, step blocks are skipped
	// between each, or the range is exhausted. yield returning false
	// stops iteration early (the caller hit its own cap).
	ReadHeaders(startBlock uint64, direction sqmrpb.Direction, limit, step uint64, yield func(BlockItem) bool) error
}

type StateDiffReader interface {
	ReadStateDiffs(startBlock uint64, direction sqmrpb.Direction, limit, step uint64, yield func(BlockItem) bool) error
}

type TransactionReader interface {
	ReadTransactions(startBlock uint64, direction sqmrpb.Direction, limit, step uint64, yield func(BlockItem) bool) error
}
