package corenet

import (
	"time"

	"github.com/corechain/corenet/common"
)

// ChainController is the external consensus/validation engine collaborator
// (spec.md §1: "out of scope ... accessed only through the interfaces named
// in §6"). corenet never implements block/transaction validation itself.
type ChainController interface {
	// ValidateBlock hands a decoded block payload to the chain controller.
	// A nil error means the block was accepted (or already known); a
	// non-nil error carries a GoAwayReason-shaped classification via
	// IsUnlinkable/IsValidationError below.
	ValidateBlock(payload []byte) error
	// ValidateTransaction hands a decoded transaction payload to the
	// mempool for verification.
	ValidateTransaction(payload []byte) error
	// Head returns the local chain's current head number/id.
	Head() (num uint32, id common.Hash)
	// LastIrreversible returns the local chain's current LIB.
	LastIrreversible() (num uint32, id common.Hash)
	// BlockByNumber returns the locally-held block at num, if any, for
	// serving SyncRequest. (Request is served from the Dispatcher's caches.)
	BlockByNumber(num uint32) (payload []byte, id common.Hash, ok bool)
}

// IsUnlinkable reports whether err represents an unlinkable-block rejection
// (spec.md §4.2: "On SignedBlock ... on unlinkable reject → GoAway(unlinkable)").
func IsUnlinkable(err error) bool {
	type unlinkable interface{ Unlinkable() bool }
	u, ok := err.(unlinkable)
	return ok && u.Unlinkable()
}

// IsValidationError reports whether err represents a block validation
// failure as opposed to an unlinkable block.
func IsValidationError(err error) bool {
	return err != nil && !IsUnlinkable(err)
}

// Signer produces the handshake token signature for an outbound handshake.
// Cryptographic primitives are out of scope per spec.md §1; this interface
// is the seam corenet calls through.
type Signer interface {
	Sign(message []byte) (common.Signature, error)
	PubKey() common.PubKey
}

// Verifier checks a handshake signature against a claimed public key.
type Verifier interface {
	Verify(pubkey common.PubKey, message []byte, sig common.Signature) bool
}

// Clock abstracts time.Now for deterministic tests of the time-sync exchange
// and timers.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock is the production Clock implementation.
var RealClock Clock = realClock{}
