package escrow

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/goliatone/go-oracle/core"
)

type ValidateOptions struct {
	AcceptedStatuses []core.EscrowStatus
	AllowNoFunds     bool
}

// Validate returns an escrow state error unless escrow has one of the
// accepted statuses and, unless AllowNoFunds, a positive balance.
func Validate(escrow core.Escrow, opts ValidateOptions) error {
	accepted := opts.AcceptedStatuses
	if len(accepted) == 0 {
		accepted = []core.EscrowStatus{core.EscrowStatusPending}
	}
	statusOK := false
	for _, status := range accepted {
		if strings.EqualFold(string(status), string(escrow.Status)) {
			statusOK = true
			break
		}
	}
	if !statusOK {
		return core.NewEscrowStateError(fmt.Sprintf(
			"escrow %s has status %s, expected one of %v", escrow.Address, escrow.Status, accepted,
		))
	}
	if opts.AllowNoFunds {
		return nil
	}
	balance, ok := new(big.Int).SetString(strings.TrimSpace(escrow.Balance), 10)
	if !ok || balance.Sign() <= 0 {
		return core.NewEscrowStateError(fmt.Sprintf("escrow %s does not have funds", escrow.Address))
	}
	return nil
}
