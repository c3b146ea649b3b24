// Package dbexecutor is the server-side SQMR adapter: it consumes the
// server channels returned by RegisterSQMRServer and turns each inbound
// query into a sequence of storage reads framed as response items (spec
// §4.7). There are three typed executors — header, state diff, and
// transaction — mirroring original_source's db_executor module, which
// dispatches on the query's originating protocol rather than sharing one
// untyped handler.
package dbexecutor

import (
	"context"

	"github.com/hashicorp/go-hclog"

	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/sqmr"
	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/sqmrpb"
	"github.com/PreResearch-Labs/papyrus-starknet-fullnode/internal/network/storage"
)

// validateQuery rejects a query whose bounds make no sense to iterate:
// a zero step would loop forever, and Direction is otherwise a closed
// two-value enum. Invalid queries get a bare Fin, not an error frame —
// the wire defines no error variant (spec §4.7 step 1).
func validateQuery(q *sqmrpb.Query) bool {
	if q.Step == 0 {
		return false
	}
	return q.Direction == sqmrpb.Forward || q.Direction == sqmrpb.Backward
}

// readFunc adapts one of the three storage.*Reader methods to a common
// shape so runQuery can drive any of them identically.
type readFunc func(yield func(storage.BlockItem) bool) error

// runQuery drives one query to completion: validate, read ahead into a
// channel of capacity bufferSize (0 means unbuffered — state diff and
// transaction executors stream unbuffered per spec §4.7), and forward
// each item to output before emitting the terminal Fin. Session sender
// backpressure bounds memory naturally since output itself blocks.
func runQuery(log hclog.Logger, sessionID uint64, q *sqmrpb.Query, output chan<- sqmr.ServerOutput, bufferSize int, read readFunc) {
	if !validateQuery(q) {
		output <- sqmr.ServerOutput{SessionID: sessionID, Fin: true}
		return
	}

	items := make(chan storage.BlockItem, bufferSize)
	readErr := make(chan error, 1)
	go func() {
		defer close(items)
		readErr <- read(func(item storage.BlockItem) bool {
			items <- item
			return true
		})
	}()

	for item := range items {
		output <- sqmr.ServerOutput{SessionID: sessionID, Data: item.Payload}
	}
	if err := <-readErr; err != nil {
		log.Error("storage read failed", "session", sessionID, "err", err)
	}
	output <- sqmr.ServerOutput{SessionID: sessionID, Fin: true}
}

// HeaderExecutor serves SignedBlockHeader queries. It alone carries the
// header_buffer_size prefetch buffer (spec §4.7 / Open Question: the
// buffer is restricted to the header executor since headers are the hot
// path for header-first sync; state diffs and transactions stream
// unbuffered).
type HeaderExecutor struct {
	log        hclog.Logger
	reader     storage.HeaderReader
	bufferSize int
}

// NewHeaderExecutor constructs a header executor reading from reader,
// prefetching up to bufferSize items ahead of delivery.
func NewHeaderExecutor(log hclog.Logger, reader storage.HeaderReader, bufferSize int) *HeaderExecutor {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &HeaderExecutor{log: log.Named("dbexecutor.header"), reader: reader, bufferSize: bufferSize}
}

// Run drains chans.Queries until it is closed or ctx is cancelled,
// spawning one goroutine per inbound query so a slow reader on one
// session never blocks another's delivery.
func (e *HeaderExecutor) Run(ctx context.Context, chans sqmr.ServerChannels) error {
	for {
		select {
		case item, ok := <-chans.Queries:
			if !ok {
				return nil
			}
			q := item.Query
			sessionID := item.SessionID
			go runQuery(e.log, sessionID, q, chans.Output, e.bufferSize, func(yield func(storage.BlockItem) bool) error {
				return e.reader.ReadHeaders(q.StartBlock, q.Direction, q.Limit, q.Step, yield)
			})
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// StateDiffExecutor serves StateDiff queries, streaming unbuffered.
type StateDiffExecutor struct {
	log    hclog.Logger
	reader storage.StateDiffReader
}

func NewStateDiffExecutor(log hclog.Logger, reader storage.StateDiffReader) *StateDiffExecutor {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &StateDiffExecutor{log: log.Named("dbexecutor.statediff"), reader: reader}
}

func (e *StateDiffExecutor) Run(ctx context.Context, chans sqmr.ServerChannels) error {
	for {
		select {
		case item, ok := <-chans.Queries:
			if !ok {
				return nil
			}
			q := item.Query
			sessionID := item.SessionID
			go runQuery(e.log, sessionID, q, chans.Output, 0, func(yield func(storage.BlockItem) bool) error {
				return e.reader.ReadStateDiffs(q.StartBlock, q.Direction, q.Limit, q.Step, yield)
			})
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TransactionExecutor serves Transaction queries, streaming unbuffered.
type TransactionExecutor struct {
	log    hclog.Logger
	reader storage.TransactionReader
}

func NewTransactionExecutor(log hclog.Logger, reader storage.TransactionReader) *TransactionExecutor {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &TransactionExecutor{log: log.Named("dbexecutor.transaction"), reader: reader}
}

func (e *TransactionExecutor) Run(ctx context.Context, chans sqmr.ServerChannels) error {
	for {
		select {
		case item, ok := <-chans.Queries:
			if !ok {
				return nil
			}
			q := item.Query
			sessionID := item.SessionID
			go runQuery(e.log, sessionID, q, chans.Output, 0, func(yield func(storage.BlockItem) bool) error {
				return e.reader.ReadTransactions(q.StartBlock, q.Direction, q.Limit, q.Step, yield)
			})
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
