package types

import "fmt"

// BlockType identifies which of the five block variants a Block is.
type BlockType uint8

const (
	BlockTypeSend BlockType = iota + 1
	BlockTypeReceive
	BlockTypeOpen
	BlockTypeChange
	BlockTypeState
)

// String renders the block type for logging.
func (t BlockType) String() string {
	switch t {
	case BlockTypeSend:
		return "send"
	case BlockTypeReceive:
		return "receive"
	case BlockTypeOpen:
		return "open"
	case BlockTypeChange:
		return "change"
	case BlockTypeState:
		return "state"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Block is the common interface satisfied by all five block variants.
// SetSignature is the only method that modifies a block; the others only
// read its fields.
type Block interface {
	Type() BlockType
	// Hash is the block's content hash: the value votes reference and the
	// value that gets signed.
	Hash() Hash
	// Root is Previous for every variant except Open, where it is Account.
	// Elections are keyed by root.
	Root() Hash
	// Previous is the account's prior head, or the zero hash on Open.
	Previous() Hash
	// Account is the chain this block belongs to.
	Account() Account
	Signature() Signature
	SetSignature(Signature)
	// Stapleable reports whether this variant may carry an aggregate
	// Schnorr signature instead of a plain Ed25519 one. Only state blocks
	// may be stapled; legacy variants are still accepted by the ledger.
	Stapleable() bool
}

// typePrefix domain-separates the hash of each variant so two variants can
// never collide despite differing field layouts.
func typePrefix(t BlockType) []byte {
	return []byte{byte(t)}
}

// SendBlock moves funds out of AccountField to Destination.
type SendBlock struct {
	AccountField Account
	PreviousHash Hash
	Destination  Account
	Balance      Amount // balance of AccountField after this send
	Sig          Signature
}

func (b *SendBlock) Type() BlockType          { return BlockTypeSend }
func (b *SendBlock) Previous() Hash           { return b.PreviousHash }
func (b *SendBlock) Root() Hash               { return b.PreviousHash }
func (b *SendBlock) Account() Account         { return b.AccountField }
func (b *SendBlock) Signature() Signature     { return b.Sig }
func (b *SendBlock) SetSignature(s Signature) { b.Sig = s }
func (b *SendBlock) Stapleable() bool         { return false }

func (b *SendBlock) Hash() Hash {
	return HashBytes(typePrefix(BlockTypeSend), b.AccountField.Data[:], b.PreviousHash.Data[:], b.Destination.Data[:], b.Balance.Bytes())
}

// ReceiveBlock claims funds sent to AccountField by the block at Source.
type ReceiveBlock struct {
	AccountField Account
	PreviousHash Hash
	Source       Hash
	Sig          Signature
}

func (b *ReceiveBlock) Type() BlockType          { return BlockTypeReceive }
func (b *ReceiveBlock) Previous() Hash           { return b.PreviousHash }
func (b *ReceiveBlock) Root() Hash               { return b.PreviousHash }
func (b *ReceiveBlock) Account() Account         { return b.AccountField }
func (b *ReceiveBlock) Signature() Signature     { return b.Sig }
func (b *ReceiveBlock) SetSignature(s Signature) { b.Sig = s }
func (b *ReceiveBlock) Stapleable() bool         { return false }

func (b *ReceiveBlock) Hash() Hash {
	return HashBytes(typePrefix(BlockTypeReceive), b.AccountField.Data[:], b.PreviousHash.Data[:], b.Source.Data[:])
}

// OpenBlock is the first block on an account's chain. Its root is the
// account itself since there is no previous block.
type OpenBlock struct {
	Source         Hash
	Representative Account
	AccountField   Account
	Sig            Signature
}

func (b *OpenBlock) Type() BlockType          { return BlockTypeOpen }
func (b *OpenBlock) Previous() Hash           { return Hash{} }
func (b *OpenBlock) Root() Hash               { return Hash{Data: b.AccountField.Data} }
func (b *OpenBlock) Account() Account         { return b.AccountField }
func (b *OpenBlock) Signature() Signature     { return b.Sig }
func (b *OpenBlock) SetSignature(s Signature) { b.Sig = s }
func (b *OpenBlock) Stapleable() bool         { return false }

func (b *OpenBlock) Hash() Hash {
	return HashBytes(typePrefix(BlockTypeOpen), b.Source.Data[:], b.Representative.Data[:], b.AccountField.Data[:])
}

// ChangeBlock alters AccountField's chosen representative without moving
// funds.
type ChangeBlock struct {
	AccountField   Account
	PreviousHash   Hash
	Representative Account
	Sig            Signature
}

func (b *ChangeBlock) Type() BlockType          { return BlockTypeChange }
func (b *ChangeBlock) Previous() Hash           { return b.PreviousHash }
func (b *ChangeBlock) Root() Hash               { return b.PreviousHash }
func (b *ChangeBlock) Account() Account         { return b.AccountField }
func (b *ChangeBlock) Signature() Signature     { return b.Sig }
func (b *ChangeBlock) SetSignature(s Signature) { b.Sig = s }
func (b *ChangeBlock) Stapleable() bool         { return false }

func (b *ChangeBlock) Hash() Hash {
	return HashBytes(typePrefix(BlockTypeChange), b.AccountField.Data[:], b.PreviousHash.Data[:], b.Representative.Data[:])
}

// StateBlock is the unified block format: every operation (send, receive,
// open, change, or no-op) is expressed as a balance delta plus a Link field
// whose meaning depends on context (destination account for sends, source
// block hash for receives, zero for changes/no-ops). Only state blocks may
// be stapled.
type StateBlock struct {
	AccountField   Account
	PreviousHash   Hash
	Representative Account
	Balance        Amount
	Link           Hash
	Sig            Signature
}

func (b *StateBlock) Type() BlockType { return BlockTypeState }
func (b *StateBlock) Previous() Hash  { return b.PreviousHash }

// Root is Previous, unless this is an open (Previous is zero), in which
// case it is the account itself.
func (b *StateBlock) Root() Hash {
	if IsHashEmpty(&b.PreviousHash) {
		return Hash{Data: b.AccountField.Data}
	}
	return b.PreviousHash
}

func (b *StateBlock) Account() Account         { return b.AccountField }
func (b *StateBlock) Signature() Signature     { return b.Sig }
func (b *StateBlock) SetSignature(s Signature) { b.Sig = s }
func (b *StateBlock) Stapleable() bool         { return true }

func (b *StateBlock) Hash() Hash {
	return HashBytes(
		typePrefix(BlockTypeState),
		b.AccountField.Data[:],
		b.PreviousHash.Data[:],
		b.Representative.Data[:],
		b.Balance.Bytes(),
		b.Link.Data[:],
	)
}

// IsOpen reports whether blk has no predecessor (its Previous is zero).
func IsOpen(blk Block) bool {
	p := blk.Previous()
	return IsHashEmpty(&p)
}
