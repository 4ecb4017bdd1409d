// Package types defines the wire-level data model shared by every
// consensus component: accounts, hashes, amounts, the five block
// variants that make up an account's chain, votes, and vote staples.
//
// # Core types
//
// Hash: a 256-bit Blake2b digest used for block hashes and vote hashes.
// A Staple's reps_xor fingerprint is an XOR of public keys, typed
// PublicKey.
//
// Account: an Ed25519 public key identifying a chain; accounts own their
// chain by being able to sign blocks that extend it.
//
// Amount: an unsigned 128-bit integer denoting balance or representative
// stake weight.
//
// Block: one of five variants (send, receive, open, change,
// state). Each has a Previous hash (empty on open) and a Root used to key
// elections: Previous for every variant except open, where it is the
// account itself.
//
// Vote: a representative's signed, sequence-numbered statement favoring a
// set of block hashes. Sequence is monotonic per account.
//
// Staple: an aggregate Schnorr signature standing in for the individual
// votes of a set of representatives, identified by the XOR of their public
// keys rather than by listing them.
//
// # Immutability
//
// Hash, Signature, PublicKey and Amount are values; Amount arithmetic
// returns a new Amount rather than modifying the receiver. Blocks are
// shared by pointer, and SetSignature is the one Block method that
// modifies a block in place; the others only read its fields.
package types
