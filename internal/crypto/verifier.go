package crypto

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/oracleadapter/internal/domain"
)

func errJoin(sentinel, err error) error {
	return errors.Join(sentinel, err)
}

// Verifier authenticates signed calls: it recovers the signer, enforces the
// expiry window and rejects reused nonces.
type Verifier struct {
	chainID int64
	maxTTL  time.Duration
	guard   *ReplayGuard
	now     func() time.Time
}

// NewVerifier accepts calls whose expiry lies no more than maxTTL ahead.
func NewVerifier(chainID int64, maxTTL time.Duration) *Verifier {
	return &Verifier{
		chainID: chainID,
		maxTTL:  maxTTL,
		guard:   NewReplayGuard(),
		now:     time.Now,
	}
}

// Verify returns the caller identity for c signed by sigHex.
func (v *Verifier) Verify(c Call, sigHex string) (common.Address, error) {
	if c.Nonce == "" {
		return common.Address{}, fmt.Errorf("crypto/verifier: missing nonce: %w", domain.ErrInvalidSigned)
	}
	now := v.now()
	expires := time.Unix(c.Expires, 0)
	if !expires.After(now) {
		return common.Address{}, fmt.Errorf("crypto/verifier: call expired at %s: %w", expires.UTC().Format(time.RFC3339), domain.ErrInvalidSigned)
	}
	if expires.Sub(now) > v.maxTTL {
		return common.Address{}, fmt.Errorf("crypto/verifier: expiry beyond %s window: %w", v.maxTTL, domain.ErrInvalidSigned)
	}

	caller, err := RecoverCall(v.chainID, c, sigHex)
	if err != nil {
		return common.Address{}, err
	}
	if v.guard.Seen(caller.Hex()+"/"+c.Nonce, expires, now) {
		return common.Address{}, fmt.Errorf("crypto/verifier: nonce %s: %w", c.Nonce, domain.ErrReplayedCall)
	}
	return caller, nil
}

// Cleanup drops replay entries whose calls have expired.
func (v *Verifier) Cleanup() int {
	return v.guard.Cleanup(v.now())
}
