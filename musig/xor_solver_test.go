package musig

import (
	"testing"
	"time"

	"go.dedis.ch/kyber/v3"

	"github.com/xinGGG/raiblocks/privval"
	"github.com/xinGGG/raiblocks/types"
)

type fakeRepSource struct {
	reps []RepWeight
}

func (f *fakeRepSource) TopRepresentatives(n int) []RepWeight {
	if n >= len(f.reps) {
		out := make([]RepWeight, len(f.reps))
		copy(out, f.reps)
		return out
	}
	out := make([]RepWeight, n)
	copy(out, f.reps[:n])
	return out
}

func buildRepPool(t *testing.T, n int) ([]*privval.FilePV, []RepWeight) {
	t.Helper()
	signers := make([]*privval.FilePV, n)
	reps := make([]RepWeight, n)
	for i := 0; i < n; i++ {
		pv := newTestSigner(t, "rep")
		signers[i] = pv
		reps[i] = RepWeight{Account: pv.Account(), Weight: types.NewAmountFromUint64(uint64(1000 - i))}
	}
	return signers, reps
}

func lookupForFilePVs(signers []*privval.FilePV) KeyLookup {
	points := make(map[types.Account]kyber.Point, len(signers))
	for _, s := range signers {
		points[s.Account()] = s.SchnorrPoint()
	}
	return KeyLookupFunc(func(a types.Account) (kyber.Point, bool) {
		p, ok := points[a]
		return p, ok
	})
}

type nonceCommit struct {
	session types.Hash
	point   kyber.Point
}

// aggregateStaple drives signers through a real stage0/stage1 round and
// returns the staple's reps_xor fingerprint and assembled signature.
func aggregateStaple(t *testing.T, signers []*privval.FilePV, blockHash types.Hash) (types.PublicKey, types.Signature) {
	t.Helper()
	accounts := make([]types.Account, len(signers))
	for i, s := range signers {
		accounts[i] = s.Account()
	}
	lookup := lookupForFilePVs(signers)

	lBase, err := ComputeLBase(accounts, lookup)
	if err != nil {
		t.Fatalf("ComputeLBase: %v", err)
	}

	var repsXor types.PublicKey
	for _, acc := range accounts {
		repsXor = types.XOR(repsXor, acc)
	}

	commits := make([]nonceCommit, len(signers))
	for i, s := range signers {
		session := types.HashBytes(blockHash.Bytes(), []byte("xor-test"))
		r, err := s.CommitNonce(session)
		if err != nil {
			t.Fatalf("CommitNonce: %v", err)
		}
		commits[i] = nonceCommit{session: session, point: r}
	}

	points := make([]kyber.Point, len(signers))
	for i, s := range signers {
		points[i] = s.SchnorrPoint()
	}
	aggPubkey, err := AggregatePubkey(lBase, points)
	if err != nil {
		t.Fatalf("AggregatePubkey: %v", err)
	}

	rPoints := make([]kyber.Point, len(commits))
	for i, c := range commits {
		rPoints[i] = c.point
	}
	rTotal, err := AggregateCommitment(rPoints)
	if err != nil {
		t.Fatalf("AggregateCommitment: %v", err)
	}

	e, err := Challenge(lBase, aggPubkey, rTotal, blockHash)
	if err != nil {
		t.Fatalf("Challenge: %v", err)
	}

	partials := make([]kyber.Scalar, len(signers))
	for i, s := range signers {
		a, err := Coefficient(lBase, s.SchnorrPoint())
		if err != nil {
			t.Fatalf("Coefficient: %v", err)
		}
		perSigner := Suite.Scalar().Mul(e, a)
		partial, err := s.PartialSign(commits[i].session, perSigner)
		if err != nil {
			t.Fatalf("PartialSign: %v", err)
		}
		partials[i] = partial
	}
	sTotal := SumScalars(partials)

	rTotalBytes, err := PointToBytes(rTotal)
	if err != nil {
		t.Fatalf("PointToBytes: %v", err)
	}
	sTotalBytes := ScalarToBytes(sTotal)

	staple := types.NewStaple(blockHash, repsXor, rTotalBytes, sTotalBytes)
	return repsXor, staple.Signature
}

func TestRepXorSolverRecoversFullPrefix(t *testing.T) {
	signers, reps := buildRepPool(t, 6)
	source := &fakeRepSource{reps: reps}
	lookup := lookupForFilePVs(signers)

	solver := NewRepXorSolver(source, lookup, RepXorSolverConfig{
		HardCutoff:           127,
		GenerationCutoff:     3,
		ConfirmationCutoff:   6,
		PossibilitiesCapLog2: 3,
		RecalculateInterval:  time.Minute,
	})
	solver.CalculateTopReps(time.Now())

	blockHash := types.HashBytes([]byte("full prefix block"))
	repsXor, signature := aggregateStaple(t, signers, blockHash)

	total, maxPos, ok := solver.ValidateStaple(blockHash, repsXor, signature)
	if !ok {
		t.Fatal("expected the full top-6 prefix to validate")
	}
	if maxPos != 5 {
		t.Errorf("expected maxPosition 5, got %d", maxPos)
	}
	wantTotal := types.NewAmountFromUint64(0)
	for _, r := range reps {
		wantTotal = wantTotal.Add(r.Weight)
	}
	if total.Cmp(wantTotal) != 0 {
		t.Errorf("expected total stake %s, got %s", wantTotal, total)
	}
}

func TestRepXorSolverRecoversPartialSubsetWithinCap(t *testing.T) {
	signers, reps := buildRepPool(t, 6)
	source := &fakeRepSource{reps: reps}
	lookup := lookupForFilePVs(signers)

	solver := NewRepXorSolver(source, lookup, RepXorSolverConfig{
		HardCutoff:           127,
		GenerationCutoff:     3,
		ConfirmationCutoff:   6,
		PossibilitiesCapLog2: 3,
		RecalculateInterval:  time.Minute,
	})
	solver.CalculateTopReps(time.Now())

	// Omit the lowest-weighted rep (index 5) from the signing set; it
	// falls inside the capLog2=3 tail of the length-6 prefix, so the
	// solver should still recover it.
	subset := signers[:5]
	blockHash := types.HashBytes([]byte("partial subset block"))
	repsXor, signature := aggregateStaple(t, subset, blockHash)

	total, maxPos, ok := solver.ValidateStaple(blockHash, repsXor, signature)
	if !ok {
		t.Fatal("expected a 5-of-6 subset within the cap to validate")
	}
	if maxPos != 4 {
		t.Errorf("expected maxPosition 4, got %d", maxPos)
	}
	wantTotal := types.NewAmountFromUint64(0)
	for _, r := range reps[:5] {
		wantTotal = wantTotal.Add(r.Weight)
	}
	if total.Cmp(wantTotal) != 0 {
		t.Errorf("expected total stake %s, got %s", wantTotal, total)
	}
}

func TestRepXorSolverRejectsUnknownFingerprint(t *testing.T) {
	signers, reps := buildRepPool(t, 4)
	source := &fakeRepSource{reps: reps}
	lookup := lookupForFilePVs(signers)

	solver := NewRepXorSolver(source, lookup, RepXorSolverConfig{
		HardCutoff:           127,
		GenerationCutoff:     1,
		ConfirmationCutoff:   4,
		PossibilitiesCapLog2: 1,
		RecalculateInterval:  time.Minute,
	})
	solver.CalculateTopReps(time.Now())

	blockHash := types.HashBytes([]byte("garbage block"))
	garbage := types.MustNewPublicKey(make([]byte, types.PublicKeySize))
	badSig := types.MustNewSignature(make([]byte, types.SignatureSize))

	if _, _, ok := solver.ValidateStaple(blockHash, garbage, badSig); ok {
		t.Fatal("garbage fingerprint must not validate")
	}
}
