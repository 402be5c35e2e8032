package domain

// SummarizeLedger aggregates a user's full ledger history into a balance.
// Pending grants count in neither confirmed nor available. Open redemptions
// reduce the spendable amount without touching the ledger.
func SummarizeLedger(userID string, entries []LedgerEntry, open []Redemption) Balance {
	balance := Balance{UserID: userID}
	for _, entry := range entries {
		switch entry.Status {
		case LedgerStatusConfirmed:
			if entry.IsGrant() {
				balance.ConfirmedCents += entry.AmountCents
			}
		case LedgerStatusPending:
			if entry.IsGrant() {
				balance.PendingCents += entry.AmountCents
			}
		case LedgerStatusRedeemed:
			balance.RedeemedCents += abs(entry.AmountCents)
		}
	}
	balance.AvailableCents = balance.ConfirmedCents - balance.RedeemedCents
	for _, redemption := range open {
		if redemption.Status.Open() {
			balance.ReservedCents += redemption.AmountCents
		}
	}
	balance.SpendableCents = balance.AvailableCents - balance.ReservedCents
	if balance.SpendableCents < 0 {
		balance.SpendableCents = 0
	}
	return balance
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
