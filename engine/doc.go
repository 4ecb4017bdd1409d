// Package engine implements the consensus core of a block-lattice node:
// per-root elections, sequence-ordered vote ingestion, and serialized
// block admission.
//
// # Core Components
//
// BlockProcessor: serialized single-consumer queue admitting blocks into
// the ledger, deduplicating by hash and detecting forks.
//
// VoteProcessor: serialized single-consumer queue validating and routing
// incoming votes to the election for each referenced hash.
//
// Election: per-root state — candidate blocks, per-account vote
// bookkeeping, tally, quorum detection, and confirmation.
//
// ActiveTransactions: the registry of in-flight elections and the
// periodic rebroadcast/confirm-req loop that drives them to confirmation.
//
// OnlineReps: a sliding estimate of online representative stake used to
// compute the quorum threshold.
//
// PeerDirectory: peer lifecycle tracking with SYN-cookie handshake
// gating and per-IP connection caps.
//
// RepCrawler: unicast confirm-req probes used to discover which peers
// host which representatives.
//
// GapCache / BlockArrival: bookkeeping for blocks whose predecessor is
// missing, and for distinguishing freshly-arrived blocks from bootstrap
// replays.
//
// # Thread Safety
//
// BlockProcessor and VoteProcessor each run on one dedicated goroutine;
// all admission is totally ordered on that goroutine. Election state is
// guarded by its own mutex; ActiveTransactions guards its election index
// under a separate mutex. No method blocks holding more than one of
// these locks at a time.
package engine
