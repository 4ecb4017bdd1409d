// Package wal implements a write-ahead log for the block-processor and
// vote-processor arrival queues.
//
// The log is for the blocks handed to BlockProcessor.Add and the votes
// handed to VoteProcessor.Add. Neither processor writes to or replays it:
// logging each arrival, and replaying the log after a restart so that
// arrivals not yet reflected in durable ledger state are not lost, is
// done by the code that feeds them.
//
// # Core Interface
//
//	type WAL interface {
//	    Write(msg *Message) error
//	    WriteSync(msg *Message) error
//	    FlushAndSync() error
//	    SearchForEndHeight(height int64) (Reader, bool, error)
//	    Start() error
//	    Stop() error
//	    Group() *Group
//	}
//
// # Implementation
//
// FileWAL: disk-based WAL using length-prefixed messages with CRC32
// checksums. Messages are buffered for performance and fsync'd on
// critical operations (WriteSync).
//
// # Message Types
//
// The WAL records the arrival-log vocabulary defined in wal.go:
//
//	- MsgTypeBlockArrival: a block handed to BlockProcessor.Add
//	- MsgTypeVoteArrival: a vote handed to VoteProcessor.Add
//	- MsgTypeConfirmation: an election reaching confirm_once
//	- MsgTypeEndHeight: a checkpoint marker
//	- MsgTypeGapResolved: a GapCache entry requeued once its predecessor arrived
//	- MsgTypeForce: a BlockProcessor.Force call overriding the ledger by fiat
//
// Height on a Message is an arrival sequence number assigned by the
// caller, not a block-lattice height; it exists so SearchForEndHeight
// and Checkpoint can index and reclaim segments the same way regardless
// of which queue produced the entry.
//
// # File Format
//
// Each entry is encoded as:
//
//	[4 bytes: length][N bytes: JSON-encoded message][4 bytes: CRC32]
//
// The length prefix enables fast seeking and validation. CRC32 detects
// corruption from incomplete writes or disk errors.
//
// # Rotation and Cleanup
//
// WAL files are rotated into numbered segments to prevent unbounded
// growth:
//
//	wal-00000
//	wal-00001
//
// Segments entirely below a recorded checkpoint can be reclaimed.
//
// # Recovery Process
//
// Neither BlockProcessor nor VoteProcessor replays the WAL; the caller
// that owns both does, on startup:
//  1. Open the WAL directory for reading.
//  2. Decode and validate each entry in sequence order.
//  3. Re-add block arrivals to BlockProcessor and vote arrivals to
//     VoteProcessor for anything past the last MsgTypeEndHeight
//     checkpoint.
//
// # Thread Safety
//
// FileWAL uses internal locking to ensure thread-safe writes from
// multiple goroutines. However, only one WAL instance should write to
// a directory.
//
// # Performance Considerations
//
// Regular Write calls are buffered for throughput. WriteSync forces an
// fsync for entries that must survive a crash immediately (e.g. a
// Force entry, since it changes which block a root resolves to).
//
// # Usage Example
//
//	w, err := wal.NewFileWAL("./data/wal")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := w.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
//
//	msg, _ := wal.NewBlockArrivalMessage(seq, block.Hash(), block.Root(), false, time.Now().UnixNano())
//	if err := w.Write(msg); err != nil {
//	    log.Fatal(err)
//	}
//
//	forceMsg := wal.NewForceMessage(seq, block.Hash(), 0)
//	if err := w.WriteSync(forceMsg); err != nil {
//	    log.Fatal(err)
//	}
package wal
