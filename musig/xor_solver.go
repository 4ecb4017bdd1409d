package musig

import (
	"sort"
	"sync"
	"time"

	"go.dedis.ch/kyber/v3"

	"github.com/xinGGG/raiblocks/types"
)

// RepWeight pairs a representative account with its current voting
// weight, the minimal view RepXorSolver needs of the network's
// representative set.
type RepWeight struct {
	Account types.Account
	Weight  types.Amount
}

// RepSource supplies the representatives RepXorSolver ranks by weight.
// Implemented by engine.PeerDirectory in production; kept as an
// interface here so musig never imports engine.
type RepSource interface {
	TopRepresentatives(n int) []RepWeight
}

// RepXorSolverConfig bounds how many representatives are tracked and how
// much ambiguity the subset search tolerates.
type RepXorSolverConfig struct {
	HardCutoff           int // top_reps never grows past this many accounts
	GenerationCutoff     int // smallest prefix size assumed to carry quorum
	ConfirmationCutoff   int // largest prefix size searched during validation
	PossibilitiesCapLog2 int // log2 of per-prefix toggle combinations tried
	RecalculateInterval  time.Duration
}

// RepXorSolver recovers, from a Staple's reps_xor fingerprint, which
// subset of the network's top representatives contributed to its
// aggregate signature, so a receiver can verify the signature without
// the staple listing every signer by account.
type RepXorSolver struct {
	mu sync.Mutex

	source RepSource
	lookup KeyLookup
	cfg    RepXorSolverConfig

	topReps        []RepWeight
	prefixXor      []types.PublicKey // prefixXor[i] = XOR of topReps[0:i]
	lastCalculated time.Time
}

// NewRepXorSolver constructs a solver over source, using lookup to
// resolve each representative's Schnorr point during verification.
func NewRepXorSolver(source RepSource, lookup KeyLookup, cfg RepXorSolverConfig) *RepXorSolver {
	return &RepXorSolver{source: source, lookup: lookup, cfg: cfg}
}

// TopReps returns the current top representative list, recalculating
// first if the cached list has aged past cfg.RecalculateInterval.
func (s *RepXorSolver) TopReps(now time.Time) []RepWeight {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recalculateLocked(now)
	out := make([]RepWeight, len(s.topReps))
	copy(out, s.topReps)
	return out
}

func (s *RepXorSolver) recalculateLocked(now time.Time) {
	if !s.lastCalculated.IsZero() && now.Sub(s.lastCalculated) < s.cfg.RecalculateInterval {
		return
	}
	s.calculateTopRepsLocked(now)
}

// CalculateTopReps forces recalculation of the top representative list
// and its prefix-XOR table, regardless of cache age.
func (s *RepXorSolver) CalculateTopReps(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calculateTopRepsLocked(now)
}

func (s *RepXorSolver) calculateTopRepsLocked(now time.Time) {
	reps := s.source.TopRepresentatives(s.cfg.HardCutoff)
	sort.SliceStable(reps, func(i, j int) bool {
		c := reps[i].Weight.Cmp(reps[j].Weight)
		if c != 0 {
			return c > 0
		}
		return types.PublicKeyLess(reps[i].Account, reps[j].Account)
	})
	if len(reps) > s.cfg.HardCutoff {
		reps = reps[:s.cfg.HardCutoff]
	}

	prefix := make([]types.PublicKey, len(reps)+1)
	running := types.PublicKey{}
	for i, r := range reps {
		running = types.XOR(running, r.Account)
		prefix[i+1] = running
	}

	s.topReps = reps
	s.prefixXor = prefix
	s.lastCalculated = now
}

// ValidateStaple attempts to recover the signer subset behind a
// Staple's reps_xor fingerprint and verify its aggregate signature
// against blockHash. On success it returns the recovered subset's total
// voting weight and maxPosition, how far down the weight-sorted top_reps
// list the least-weighted contributing representative sits.
func (s *RepXorSolver) ValidateStaple(blockHash types.Hash, repsXor types.PublicKey, signature types.Signature) (types.Amount, int, bool) {
	s.mu.Lock()
	topReps := make([]RepWeight, len(s.topReps))
	copy(topReps, s.topReps)
	prefixXor := make([]types.PublicKey, len(s.prefixXor))
	copy(prefixXor, s.prefixXor)
	s.mu.Unlock()

	if len(topReps) == 0 {
		return types.Amount{}, 0, false
	}

	start := s.cfg.GenerationCutoff
	if start < 1 {
		start = 1
	}
	end := s.cfg.ConfirmationCutoff
	if end > len(topReps) {
		end = len(topReps)
	}

	capCombos := 1 << uint(maxInt(s.cfg.PossibilitiesCapLog2, 0))

	for k := start; k <= end; k++ {
		base := prefixXor[k]
		for _, omitted := range s.candidateOmissions(k, capCombos) {
			fingerprint := base
			for _, idx := range omitted {
				fingerprint = types.XOR(fingerprint, topReps[idx].Account)
			}
			if fingerprint != repsXor {
				continue
			}

			members, maxPos := s.membersFor(topReps, k, omitted)
			total, ok := s.verifyCandidate(members, blockHash, signature)
			if ok {
				return total, maxPos, true
			}
		}
	}

	return types.Amount{}, 0, false
}

// candidateOmissions enumerates which subsets of the last
// PossibilitiesCapLog2 representatives in a length-k prefix might be
// absent, bounded to capCombos candidates per prefix length.
func (s *RepXorSolver) candidateOmissions(prefixLen, capCombos int) [][]int {
	tailSize := s.cfg.PossibilitiesCapLog2
	if tailSize > prefixLen {
		tailSize = prefixLen
	}
	tailStart := prefixLen - tailSize

	out := make([][]int, 0, capCombos)
	for mask := 0; mask < (1 << uint(tailSize)); mask++ {
		var omitted []int
		for bit := 0; bit < tailSize; bit++ {
			if mask&(1<<uint(bit)) != 0 {
				omitted = append(omitted, tailStart+bit)
			}
		}
		out = append(out, omitted)
	}
	return out
}

func (s *RepXorSolver) membersFor(topReps []RepWeight, prefixLen int, omitted []int) ([]RepWeight, int) {
	omit := make(map[int]bool, len(omitted))
	for _, idx := range omitted {
		omit[idx] = true
	}
	members := make([]RepWeight, 0, prefixLen)
	maxPos := 0
	for i := 0; i < prefixLen; i++ {
		if omit[i] {
			continue
		}
		members = append(members, topReps[i])
		if i > maxPos {
			maxPos = i
		}
	}
	return members, maxPos
}

func (s *RepXorSolver) verifyCandidate(members []RepWeight, blockHash types.Hash, signature types.Signature) (types.Amount, bool) {
	if len(members) == 0 {
		return types.Amount{}, false
	}

	accounts := make([]types.Account, len(members))
	total := types.Amount{}
	for i, m := range members {
		accounts[i] = m.Account
		total = total.Add(m.Weight)
	}

	lBase, err := ComputeLBase(accounts, s.lookup)
	if err != nil {
		return types.Amount{}, false
	}

	points := make([]kyber.Point, len(accounts))
	for i, acc := range accounts {
		p, ok := s.lookup.SchnorrPoint(acc)
		if !ok {
			return types.Amount{}, false
		}
		points[i] = p
	}

	aggPubkey, err := AggregatePubkey(lBase, points)
	if err != nil {
		return types.Amount{}, false
	}

	var rTotalBytes, sTotalBytes [32]byte
	copy(rTotalBytes[:], signature.Data[:32])
	copy(sTotalBytes[:], signature.Data[32:64])

	rTotal, err := BytesToPoint(rTotalBytes)
	if err != nil {
		return types.Amount{}, false
	}
	sTotal := BytesToScalar(sTotalBytes)

	e, err := Challenge(lBase, aggPubkey, rTotal, blockHash)
	if err != nil {
		return types.Amount{}, false
	}

	if !VerifyAggregate(sTotal, rTotal, aggPubkey, e) {
		return types.Amount{}, false
	}
	return total, true
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
