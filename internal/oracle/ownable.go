package oracle

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/oracleadapter/internal/domain"
)

// ownable is the access control gate: a single authority that may mutate
// the registry or hand itself over. It carries no lock of its own and is
// always accessed under the owning Registry's mutex.
type ownable struct {
	owner common.Address
}

func (o *ownable) checkOwner(caller common.Address) error {
	if caller != o.owner {
		return fmt.Errorf("oracle: caller %s is not the owner: %w", caller.Hex(), domain.ErrUnauthorized)
	}
	return nil
}

// checkTransfer validates a one-step ownership handover. There is no
// acceptance step, so a mistyped newOwner loses control permanently.
func (o *ownable) checkTransfer(caller, newOwner common.Address) error {
	if err := o.checkOwner(caller); err != nil {
		return err
	}
	if newOwner == (common.Address{}) {
		return fmt.Errorf("oracle: new owner is the zero address: %w", domain.ErrInvalidAuthority)
	}
	return nil
}
