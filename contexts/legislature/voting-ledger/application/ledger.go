package application

import (
	"fmt"

	"legisledger/contexts/legislature/voting-ledger/domain/entities"
	domainerrors "legisledger/contexts/legislature/voting-ledger/domain/errors"
)

// CheckTxRef rejects ledger replies whose transaction reference is not a 32-byte hash.
func CheckTxRef(op string, txRef string) error {
	if entities.ValidTxRef(txRef) {
		return nil
	}
	return domainerrors.Ledger(op, fmt.Errorf("%w: tx ref %q", domainerrors.ErrMalformedLedgerReply, txRef))
}
