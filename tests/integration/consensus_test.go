// Package integration exercises BlockProcessor, VoteProcessor,
// ActiveTransactions, the musig staple round, and the WAL/evidence
// subsystems together, the way a single node wires them up.
package integration

import (
	"context"
	"crypto/ed25519"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"go.dedis.ch/kyber/v3"

	"github.com/xinGGG/raiblocks/engine"
	"github.com/xinGGG/raiblocks/evidence"
	"github.com/xinGGG/raiblocks/musig"
	"github.com/xinGGG/raiblocks/privval"
	"github.com/xinGGG/raiblocks/types"
	"github.com/xinGGG/raiblocks/wal"
)

func init() {
	logrus.SetLevel(logrus.ErrorLevel)
}

// fakeLedger is a minimal in-memory engine.Ledger: one occupant block per
// root, fork-detecting, force-overridable.
type fakeLedger struct {
	mu       sync.Mutex
	occupant map[types.Hash]types.Hash // root -> occupying block hash
	blocks   map[types.Hash]types.Block
	weights  map[types.Account]types.Amount
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		occupant: make(map[types.Hash]types.Hash),
		blocks:   make(map[types.Hash]types.Block),
		weights:  make(map[types.Account]types.Amount),
	}
}

func (l *fakeLedger) Process(block types.Block, forced bool) engine.ProcessReturn {
	l.mu.Lock()
	defer l.mu.Unlock()

	hash := block.Hash()
	root := block.Root()
	l.blocks[hash] = block

	existing, ok := l.occupant[root]
	if !ok {
		l.occupant[root] = hash
		return engine.ProcessProgress
	}
	if types.HashEqual(existing, hash) {
		return engine.ProcessOld
	}
	if forced {
		l.occupant[root] = hash
		return engine.ProcessProgress
	}
	return engine.ProcessFork
}

func (l *fakeLedger) GetBlock(hash types.Hash) (types.Block, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.blocks[hash]
	return b, ok
}

func (l *fakeLedger) Rollback(hash types.Hash) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.blocks, hash)
	return nil
}

func (l *fakeLedger) RepWeight(account types.Account) types.Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.weights[account]
}

func (l *fakeLedger) occupantOf(root types.Hash) (types.Hash, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.occupant[root]
	return h, ok
}

// OccupantAt satisfies engine.Ledger; handleFork uses it to recover the
// block a fork is contesting against.
func (l *fakeLedger) OccupantAt(root types.Hash) (types.Hash, bool) {
	return l.occupantOf(root)
}

func (l *fakeLedger) setWeight(account types.Account, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.weights[account] = types.NewAmountFromUint64(amount)
}

// genAccount returns a fresh Ed25519 keypair wrapped as an Account.
func genAccount(t *testing.T) (types.Account, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return types.MustNewPublicKey(pub), priv
}

func stateBlock(account types.Account, previous types.Hash, representative types.Account, balance uint64, link types.Hash) *types.StateBlock {
	return &types.StateBlock{
		AccountField:   account,
		PreviousHash:   previous,
		Representative: representative,
		Balance:        types.NewAmountFromUint64(balance),
		Link:           link,
	}
}

// Scenario A: two competing blocks at the same root; the higher-weight
// voter's block wins within a couple of announce rounds.
func TestScenarioForkResolvesToMajorityWeight(t *testing.T) {
	ledger := newFakeLedger()
	cfg := engine.DefaultNodeConfig()
	cfg.OnlineWeightQuorum = 50
	cfg.AnnouncementMin = 1

	onlineReps := engine.NewOnlineReps(cfg, ledger.RepWeight)
	active := engine.NewActiveTransactions(cfg, onlineReps, nil, nil)
	gaps := engine.NewGapCache(cfg)
	arrival := engine.NewBlockArrival(cfg)
	bp := engine.NewBlockProcessor(ledger, active, gaps, arrival, nil)
	go bp.Run()
	defer bp.Stop()

	accA, _ := genAccount(t)
	root := types.Hash{Data: accA.Data}

	open := stateBlock(accA, types.Hash{}, accA, 100, types.Hash{})
	bp.Add(open, time.Now())
	bp.Flush()

	if occ, ok := ledger.occupantOf(root); !ok || !types.HashEqual(occ, open.Hash()) {
		t.Fatal("initial open block did not land")
	}

	minority := stateBlock(accA, types.Hash{}, accA, 200, types.HashBytes([]byte("minority")))
	majority := stateBlock(accA, types.Hash{}, accA, 300, types.HashBytes([]byte("majority")))

	bp.Add(minority, time.Now())
	bp.Flush()
	bp.Add(majority, time.Now())
	bp.Flush()

	election, ok := active.ElectionFor(root)
	if !ok {
		t.Fatal("expected an active election over root after fork")
	}

	repLow, _ := genAccount(t)
	repHigh, _ := genAccount(t)
	ledger.setWeight(repLow, 10)
	ledger.setWeight(repHigh, 90)

	now := time.Now()
	election.Vote(repLow, 1, minority.Hash(), now)
	election.Vote(repHigh, 1, majority.Hash(), now)
	onlineReps.Observe(repLow, ledger.RepWeight(repLow), now)
	onlineReps.Observe(repHigh, ledger.RepWeight(repHigh), now)

	if !election.ConfirmIfQuorum(types.ZeroAmount(), now) {
		t.Fatal("expected quorum to be reached in favor of the majority-weight block")
	}
	bp.Flush()

	winner, ok := ledger.occupantOf(root)
	if !ok || !types.HashEqual(winner, majority.Hash()) {
		t.Fatal("expected the majority-weight block to occupy the root after confirmation")
	}
	if _, ok := active.ElectionFor(root); ok {
		t.Error("expected the election to be retired from the active set after confirmation")
	}
}

// Scenario B: a vote with a lower sequence than one already recorded from
// the same account is reported as a replay and has no effect on the tally.
func TestScenarioReplayVoteIgnored(t *testing.T) {
	cfg := engine.DefaultNodeConfig()
	ledger := newFakeLedger()
	onlineReps := engine.NewOnlineReps(cfg, ledger.RepWeight)

	rep, _ := genAccount(t)
	ledger.setWeight(rep, 50)

	hashFirst := types.HashBytes([]byte("first"))
	hashSecond := types.HashBytes([]byte("second"))
	block := stateBlock(types.Account{Data: hashFirst.Data}, types.Hash{}, rep, 10, types.Hash{})

	election := engine.NewElection(block.Root(), block, onlineReps, 50, nil, nil, nil, nil)

	now := time.Now()
	replay, processed := election.Vote(rep, 5, hashFirst, now)
	if replay || !processed {
		t.Fatalf("first vote at sequence 5 should not be a replay, got replay=%v processed=%v", replay, processed)
	}
	tallyBefore := election.Tally()

	replay, processed = election.Vote(rep, 3, hashSecond, now)
	if !replay || processed {
		t.Fatalf("vote at sequence 3 after sequence 5 should be a replay, got replay=%v processed=%v", replay, processed)
	}

	tallyAfter := election.Tally()
	if tallyBefore[hashFirst].Cmp(tallyAfter[hashFirst]) != 0 {
		t.Error("replayed vote should not have altered the tally")
	}
	if !tallyAfter[hashSecond].IsZero() {
		t.Error("the replayed vote's hash should carry no weight")
	}
}

// Scenario C: ten representatives of equal weight, 60% quorum cutoff; the
// requester recruits enough of them, assembles an aggregate staple, and
// the XOR solver recovers the exact contributing subset from its
// fingerprint.
func TestScenarioVoteStapleRoundTrip(t *testing.T) {
	const n = 10
	dir := t.TempDir()

	signers := make([]*privval.FilePV, n)
	stapleSigners := make([]privval.StapleSigner, n)
	reps := make([]musig.RepWeight, n)
	for i := 0; i < n; i++ {
		keyPath := filepath.Join(dir, "rep"+string(rune('a'+i))+"_key.json")
		statePath := filepath.Join(dir, "rep"+string(rune('a'+i))+"_state.json")
		pv, err := privval.GenerateFilePV(keyPath, statePath)
		if err != nil {
			t.Fatalf("GenerateFilePV: %v", err)
		}
		signers[i] = pv
		stapleSigners[i] = pv
		reps[i] = musig.RepWeight{Account: pv.GetAccount(), Weight: types.NewAmountFromUint64(1000)}
	}

	lookup := musig.KeyLookupFunc(func(account types.Account) (kyber.Point, bool) {
		for _, s := range signers {
			if types.AccountEqual(s.GetAccount(), account) {
				return s.SchnorrPoint(), true
			}
		}
		return nil, false
	})

	stapler := musig.NewVoteStapler(stapleSigners, lookup, 64, 30*time.Second, nil)

	transport := &loopbackTransport{stapler: stapler}
	locator := staticLocator{}

	source := repWeightSource{reps: reps}
	solver := musig.NewRepXorSolver(source, lookup, musig.RepXorSolverConfig{
		HardCutoff:           127,
		GenerationCutoff:     6,
		ConfirmationCutoff:   n,
		PossibilitiesCapLog2: 3,
		RecalculateInterval:  time.Minute,
	})
	solver.CalculateTopReps(time.Now())

	totalWeight := types.NewAmountFromUint64(uint64(n) * 1000)
	weightCutoff := totalWeight.MulFraction(60, 100)

	requester := musig.NewVoteStapleRequester(transport, locator, lookup, solver, musig.RequesterConfig{
		NodeID:         types.MustNewPublicKey(make([]byte, types.PublicKeySize)),
		WeightCutoff:   weightCutoff,
		RecruitTimeout: 2 * time.Second,
		Stage0Fanout:   n,
		MaxRounds:      3,
	}, nil)

	block := stateBlock(signers[0].GetAccount(), types.Hash{}, signers[0].GetAccount(), 10, types.Hash{})

	resultCh := make(chan struct {
		staple types.Staple
		err    error
	}, 1)
	requester.RequestStaple(context.Background(), block.Root(), block, func(s types.Staple, err error) {
		resultCh <- struct {
			staple types.Staple
			err    error
		}{s, err}
	})

	var result struct {
		staple types.Staple
		err    error
	}
	select {
	case result = <-resultCh:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for staple")
	}
	if result.err != nil {
		t.Fatalf("RequestStaple failed: %v", result.err)
	}

	totalStake, maxPosition, ok := solver.ValidateStaple(result.staple.BlockHash, result.staple.RepsXor, result.staple.Signature)
	if !ok {
		t.Fatal("XOR solver failed to validate the assembled staple")
	}
	if totalStake.Cmp(weightCutoff) < 0 {
		t.Errorf("recovered stake %s below weight cutoff %s", totalStake.String(), weightCutoff.String())
	}
	if maxPosition < 0 || maxPosition >= n {
		t.Errorf("recovered max position %d out of range", maxPosition)
	}
}

// loopbackTransport routes stage0/stage1 calls straight to an in-process
// VoteStapler, standing in for the network.
type loopbackTransport struct {
	stapler *musig.VoteStapler
}

func (l *loopbackTransport) Stage0(ctx context.Context, endpoint types.Endpoint, req musig.Stage0Request) (musig.Stage0Response, error) {
	return l.stapler.Stage0(req, time.Now())
}

func (l *loopbackTransport) Stage1(ctx context.Context, endpoint types.Endpoint, req musig.Stage1Request) (musig.Stage1Response, error) {
	return l.stapler.Stage1(req)
}

// staticLocator resolves every account to the same loopback endpoint; the
// loopbackTransport ignores the endpoint value entirely.
type staticLocator struct{}

func (staticLocator) EndpointsForAccount(types.Account) []types.Endpoint {
	return []types.Endpoint{{}}
}

// repWeightSource adapts a fixed slice to musig.RepSource.
type repWeightSource struct {
	reps []musig.RepWeight
}

func (s repWeightSource) TopRepresentatives(n int) []musig.RepWeight {
	if n > len(s.reps) {
		n = len(s.reps)
	}
	return append([]musig.RepWeight(nil), s.reps[:n]...)
}

// Scenario D: a block whose previous hash is unknown accumulates voter
// weight in the gap cache until it crosses the bootstrap threshold.
func TestScenarioGapCacheBootstrapTrigger(t *testing.T) {
	cfg := engine.DefaultNodeConfig()
	cfg.BootstrapThresholdPercent = 50
	gaps := engine.NewGapCache(cfg)

	hash := types.HashBytes([]byte("gapped block"))
	previous := types.HashBytes([]byte("missing previous"))
	gaps.Add(hash, previous, time.Now())

	onlineStake := types.NewAmountFromUint64(100)
	voterA, _ := genAccount(t)
	voterB, _ := genAccount(t)

	trigger, prev := gaps.Vote(hash, voterA, types.NewAmountFromUint64(30), onlineStake)
	if trigger {
		t.Fatal("30/100 should not yet cross the 50% bootstrap threshold")
	}
	trigger, prev = gaps.Vote(hash, voterB, types.NewAmountFromUint64(30), onlineStake)
	if !trigger {
		t.Fatal("60/100 should cross the 50% bootstrap threshold")
	}
	if !types.HashEqual(prev, previous) {
		t.Error("bootstrap trigger should report the missing predecessor's hash")
	}
}

// Scenario E: an aborted election never confirms and is evicted from the
// active set.
func TestScenarioElectionAbort(t *testing.T) {
	cfg := engine.DefaultNodeConfig()
	ledger := newFakeLedger()
	onlineReps := engine.NewOnlineReps(cfg, ledger.RepWeight)
	active := engine.NewActiveTransactions(cfg, onlineReps, nil, nil)

	acc, _ := genAccount(t)
	block := stateBlock(acc, types.Hash{}, acc, 10, types.Hash{})
	election, started := active.Start(block, nil, ledger.Rollback, nil)
	if !started {
		t.Fatal("expected a fresh election to start")
	}

	if !active.AbortRoot(block.Root()) {
		t.Fatal("AbortRoot should succeed on an active root")
	}

	rep, _ := genAccount(t)
	ledger.setWeight(rep, 100)
	onlineReps.Observe(rep, ledger.RepWeight(rep), time.Now())
	election.Vote(rep, 1, block.Hash(), time.Now())

	if election.ConfirmIfQuorum(types.ZeroAmount(), time.Now()) {
		t.Error("an aborted election must never confirm")
	}
	if _, ok := active.ElectionFor(block.Root()); ok {
		t.Error("an aborted root should be evicted from the active set")
	}
}

// Scenario F: a block already occupying a root, followed by a competing
// block, starts an election whose winner replaces the loser via rollback
// and a forced write.
func TestScenarioForkRollbackAndForce(t *testing.T) {
	ledger := newFakeLedger()
	cfg := engine.DefaultNodeConfig()
	onlineReps := engine.NewOnlineReps(cfg, ledger.RepWeight)
	active := engine.NewActiveTransactions(cfg, onlineReps, nil, nil)
	gaps := engine.NewGapCache(cfg)
	arrival := engine.NewBlockArrival(cfg)
	bp := engine.NewBlockProcessor(ledger, active, gaps, arrival, nil)
	go bp.Run()
	defer bp.Stop()

	acc, _ := genAccount(t)
	open := stateBlock(acc, types.Hash{}, acc, 100, types.Hash{})
	bp.Add(open, time.Now())
	bp.Flush()

	blockX := stateBlock(acc, types.Hash{}, acc, 50, types.HashBytes([]byte("x")))
	blockXPrime := stateBlock(acc, types.Hash{}, acc, 60, types.HashBytes([]byte("x-prime")))

	bp.Add(blockX, time.Now())
	bp.Flush()
	bp.Add(blockXPrime, time.Now())
	bp.Flush()

	election, ok := active.ElectionFor(blockX.Root())
	if !ok {
		t.Fatal("expected an election over the contested root")
	}
	if _, ok := election.Blocks()[blockX.Hash()]; !ok {
		t.Error("the election should carry the original occupant as a candidate")
	}
	if _, ok := election.Blocks()[blockXPrime.Hash()]; !ok {
		t.Error("the election should carry the competing block as a candidate")
	}

	winner, _ := genAccount(t)
	ledger.setWeight(winner, 100)
	now := time.Now()
	election.Vote(winner, 1, blockXPrime.Hash(), now)
	onlineReps.Observe(winner, ledger.RepWeight(winner), now)

	if !election.ConfirmIfQuorum(types.ZeroAmount(), now) {
		t.Fatal("expected quorum")
	}
	bp.Flush()

	occ, ok := ledger.occupantOf(blockX.Root())
	if !ok || !types.HashEqual(occ, blockXPrime.Hash()) {
		t.Fatal("expected the competing block to replace the original via force")
	}
	if _, ok := ledger.GetBlock(blockX.Hash()); ok {
		t.Error("the losing block should have been rolled back")
	}
}

func TestForkEvidenceRecordsEquivocation(t *testing.T) {
	pool := evidence.NewPool(evidence.DefaultConfig())

	acc, _ := genAccount(t)
	blockA := stateBlock(acc, types.Hash{}, acc, 10, types.HashBytes([]byte("a")))
	blockB := stateBlock(acc, types.Hash{}, acc, 20, types.HashBytes([]byte("b")))

	ev, err := pool.Record(acc, blockA, blockB, time.Now())
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if !types.HashEqual(ev.Root, blockA.Root()) {
		t.Error("evidence should record the shared root")
	}
	if pool.Size() != 1 {
		t.Errorf("expected 1 recorded fork, got %d", pool.Size())
	}

	if _, err := pool.Record(acc, blockA, blockB, time.Now()); err != evidence.ErrDuplicateFork {
		t.Errorf("expected ErrDuplicateFork on a repeat recording, got %v", err)
	}
}

func TestWALBlockArrivalRoundTrip(t *testing.T) {
	dir := t.TempDir()

	w, err := wal.NewFileWAL(dir)
	if err != nil {
		t.Fatalf("NewFileWAL: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	hash := types.HashBytes([]byte("arrived"))
	root := types.HashBytes([]byte("root"))
	msg, err := wal.NewBlockArrivalMessage(1, hash, root, false, time.Now().UnixNano())
	if err != nil {
		t.Fatalf("NewBlockArrivalMessage: %v", err)
	}
	if err := w.WriteSync(msg); err != nil {
		t.Fatalf("WriteSync: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	reader, err := wal.OpenWALForReading(dir)
	if err != nil {
		t.Fatalf("OpenWALForReading: %v", err)
	}
	defer reader.Close()

	read, err := reader.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	gotHash, gotRoot, forced, _, err := wal.DecodeBlockArrival(read.Data)
	if err != nil {
		t.Fatalf("DecodeBlockArrival: %v", err)
	}
	if !types.HashEqual(gotHash, hash) || !types.HashEqual(gotRoot, root) || forced {
		t.Error("decoded block arrival message does not match what was written")
	}
}
