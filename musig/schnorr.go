package musig

import (
	"errors"
	"sort"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/group/edwards25519"

	"github.com/xinGGG/raiblocks/types"
)

// Errors
var (
	ErrInvalidPoint    = errors.New("musig: invalid curve point encoding")
	ErrNoParticipants  = errors.New("musig: no participants")
	ErrUnknownAccount  = errors.New("musig: no schnorr public key known for account")
	ErrAggregateVerify = errors.New("musig: aggregate signature does not verify")
)

// Suite is the Schnorr group every staple session operates over, the
// same edwards25519 group privval.FilePV derives its Schnorr scalar
// from.
var Suite = edwards25519.NewBlakeSHA256Ed25519()

// KeyLookup resolves the long-term Schnorr public point backing a
// representative account. Wallet/key distribution is out of scope for
// this package; an integration supplies this from whatever directory
// gossips representative Schnorr keys.
type KeyLookup interface {
	SchnorrPoint(account types.Account) (kyber.Point, bool)
}

// KeyLookupFunc adapts a plain function to KeyLookup.
type KeyLookupFunc func(types.Account) (kyber.Point, bool)

func (f KeyLookupFunc) SchnorrPoint(a types.Account) (kyber.Point, bool) { return f(a) }

// PointToBytes marshals a Schnorr point to its 32-byte compressed form.
func PointToBytes(p kyber.Point) ([32]byte, error) {
	var out [32]byte
	b, err := p.MarshalBinary()
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, ErrInvalidPoint
	}
	copy(out[:], b)
	return out, nil
}

// BytesToPoint unmarshals a 32-byte compressed point.
func BytesToPoint(b [32]byte) (kyber.Point, error) {
	p := Suite.Point()
	if err := p.UnmarshalBinary(b[:]); err != nil {
		return nil, ErrInvalidPoint
	}
	return p, nil
}

// ScalarToBytes marshals a scalar to its 32-byte little-endian form.
func ScalarToBytes(s kyber.Scalar) [32]byte {
	var out [32]byte
	b, _ := s.MarshalBinary()
	copy(out[:], b)
	return out
}

// BytesToScalar unmarshals a 32-byte scalar, reducing mod the group
// order if the encoding is not already canonical.
func BytesToScalar(b [32]byte) kyber.Scalar {
	return Suite.Scalar().SetBytes(b[:])
}

// sortedAccounts returns a copy of accounts sorted by PublicKeyLess, so
// L_base is independent of the order candidates were recruited in.
func sortedAccounts(accounts []types.Account) []types.Account {
	out := make([]types.Account, len(accounts))
	copy(out, accounts)
	sort.Slice(out, func(i, j int) bool { return types.PublicKeyLess(out[i], out[j]) })
	return out
}

// ComputeLBase derives L_base = H(X_1 || X_2 || ... || X_n) over the
// participant set's Schnorr public points, sorted by account so the
// result does not depend on recruitment order. This is the MuSig
// key-prefixing that defeats rogue-key attacks: a participant cannot
// choose its public key as a function of the others' once every
// coefficient a_i depends on the full set via L_base.
func ComputeLBase(accounts []types.Account, lookup KeyLookup) ([]byte, error) {
	if len(accounts) == 0 {
		return nil, ErrNoParticipants
	}
	ordered := sortedAccounts(accounts)
	parts := make([][]byte, 0, len(ordered))
	for _, acc := range ordered {
		point, ok := lookup.SchnorrPoint(acc)
		if !ok {
			return nil, ErrUnknownAccount
		}
		pb, err := PointToBytes(point)
		if err != nil {
			return nil, err
		}
		parts = append(parts, pb[:])
	}
	return types.HashBytes(parts...).Bytes(), nil
}

// Coefficient computes a_i = H(L_base || X_i) reduced mod the group
// order, the weight MuSig gives participant i's contribution to the
// aggregate public key and signature.
func Coefficient(lBase []byte, point kyber.Point) (kyber.Scalar, error) {
	pb, err := PointToBytes(point)
	if err != nil {
		return nil, err
	}
	digest := types.HashBytes(lBase, pb[:])
	return Suite.Scalar().SetBytes(digest.Data[:]), nil
}

// AggregatePubkey computes agg_pubkey = Sum(a_i * X_i).
func AggregatePubkey(lBase []byte, points []kyber.Point) (kyber.Point, error) {
	if len(points) == 0 {
		return nil, ErrNoParticipants
	}
	agg := Suite.Point().Null()
	for _, p := range points {
		a, err := Coefficient(lBase, p)
		if err != nil {
			return nil, err
		}
		term := Suite.Point().Mul(a, p)
		agg = Suite.Point().Add(agg, term)
	}
	return agg, nil
}

// AggregateCommitment computes R_total = Sum(R_i).
func AggregateCommitment(commitments []kyber.Point) (kyber.Point, error) {
	if len(commitments) == 0 {
		return nil, ErrNoParticipants
	}
	total := Suite.Point().Null()
	for _, r := range commitments {
		total = Suite.Point().Add(total, r)
	}
	return total, nil
}

// Challenge computes e = H(L_base || agg_pubkey || R_total || block_hash),
// the aggregate Schnorr challenge every participant's partial signature
// is bound to.
func Challenge(lBase []byte, aggPubkey, rTotal kyber.Point, blockHash types.Hash) (kyber.Scalar, error) {
	aggBytes, err := PointToBytes(aggPubkey)
	if err != nil {
		return nil, err
	}
	rBytes, err := PointToBytes(rTotal)
	if err != nil {
		return nil, err
	}
	digest := types.HashBytes(lBase, aggBytes[:], rBytes[:], blockHash.Bytes())
	return Suite.Scalar().SetBytes(digest.Data[:]), nil
}

// VerifyPartial checks one participant's partial signature s_i against
// its own nonce commitment R_i and public point X_i:
// s_i*G == R_i + (e*a_i)*X_i. perSignerChallenge is e*a_i, the value
// actually handed to the signer (see stapler.go).
func VerifyPartial(sPartial kyber.Scalar, rCommit, point kyber.Point, perSignerChallenge kyber.Scalar) bool {
	lhs := Suite.Point().Mul(sPartial, nil)
	rhs := Suite.Point().Add(rCommit, Suite.Point().Mul(perSignerChallenge, point))
	return lhs.Equal(rhs)
}

// VerifyAggregate checks an assembled staple signature (rTotal, sTotal)
// against aggPubkey and challenge: sTotal*G == rTotal + challenge*aggPubkey.
func VerifyAggregate(sTotal kyber.Scalar, rTotal, aggPubkey kyber.Point, challenge kyber.Scalar) bool {
	lhs := Suite.Point().Mul(sTotal, nil)
	rhs := Suite.Point().Add(rTotal, Suite.Point().Mul(challenge, aggPubkey))
	return lhs.Equal(rhs)
}

// SumScalars folds a list of partial signatures into s_total = Sum(s_i)
// mod the group order.
func SumScalars(values []kyber.Scalar) kyber.Scalar {
	total := Suite.Scalar().Zero()
	for _, v := range values {
		total = Suite.Scalar().Add(total, v)
	}
	return total
}
