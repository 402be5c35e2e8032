package memory

import (
	"context"
	"errors"
	"sync"

	domain "github.com/hanko-field/rewards/internal/domain"
	"github.com/hanko-field/rewards/internal/repositories"
)

type accountLocker struct{ s *Store }

func (s *Store) userLock(userID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[userID] = lock
	}
	return lock
}

// WithAccount holds the user's mutex for the duration of fn and applies buffered writes on success.
func (l accountLocker) WithAccount(ctx context.Context, userID string, fn func(ctx context.Context, tx repositories.AccountTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := l.s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	tx := &accountTx{store: l.s, userID: userID, updates: make(map[string]domain.Redemption)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type accountTx struct {
	store   *Store
	userID  string
	debits  []domain.LedgerEntry
	inserts []domain.Redemption
	updates map[string]domain.Redemption
	minted  []domain.Voucher
}

var _ repositories.AccountTx = (*accountTx)(nil)

var errForeignRedemption = errors.New("redemption belongs to another account")

func (tx *accountTx) Entries(context.Context) ([]domain.LedgerEntry, error) {
	tx.store.mu.RLock()
	entries := tx.store.entriesForLocked(tx.userID)
	tx.store.mu.RUnlock()
	return append(entries, tx.debits...), nil
}

func (tx *accountTx) OpenRedemptions(context.Context) ([]domain.Redemption, error) {
	tx.store.mu.RLock()
	var open []domain.Redemption
	for _, redemption := range tx.store.redemptions {
		if redemption.UserID != tx.userID {
			continue
		}
		if updated, ok := tx.updates[redemption.ID]; ok {
			redemption = updated
		}
		if redemption.Status.Open() {
			open = append(open, redemption)
		}
	}
	tx.store.mu.RUnlock()
	for _, redemption := range tx.inserts {
		if redemption.Status.Open() {
			open = append(open, redemption)
		}
	}
	return open, nil
}

func (tx *accountTx) GetRedemption(_ context.Context, redemptionID string) (domain.Redemption, error) {
	if updated, ok := tx.updates[redemptionID]; ok {
		return updated, nil
	}
	for _, redemption := range tx.inserts {
		if redemption.ID == redemptionID {
			return redemption, nil
		}
	}
	tx.store.mu.RLock()
	redemption, ok := tx.store.redemptions[redemptionID]
	tx.store.mu.RUnlock()
	if !ok {
		return domain.Redemption{}, repositories.NotFound("accounts.get_redemption")
	}
	if redemption.UserID != tx.userID {
		return domain.Redemption{}, repositories.NewError("accounts.get_redemption", repositories.ErrorKindConflict, errForeignRedemption)
	}
	return redemption, nil
}

func (tx *accountTx) InsertRedemption(_ context.Context, redemption domain.Redemption) error {
	if redemption.UserID != tx.userID {
		return repositories.NewError("accounts.insert_redemption", repositories.ErrorKindConflict, errForeignRedemption)
	}
	tx.store.mu.RLock()
	_, exists := tx.store.redemptions[redemption.ID]
	tx.store.mu.RUnlock()
	if exists {
		return repositories.NewError("accounts.insert_redemption", repositories.ErrorKindConflict, errors.New("redemption already exists"))
	}
	tx.inserts = append(tx.inserts, redemption)
	return nil
}

func (tx *accountTx) UpdateRedemption(_ context.Context, redemption domain.Redemption) error {
	if redemption.UserID != tx.userID {
		return repositories.NewError("accounts.update_redemption", repositories.ErrorKindConflict, errForeignRedemption)
	}
	for i := range tx.inserts {
		if tx.inserts[i].ID == redemption.ID {
			tx.inserts[i] = redemption
			return nil
		}
	}
	tx.updates[redemption.ID] = redemption
	return nil
}

func (tx *accountTx) AppendDebit(_ context.Context, entry domain.LedgerEntry) error {
	if entry.UserID != tx.userID || entry.AmountCents >= 0 {
		return repositories.NewError("accounts.append_debit", repositories.ErrorKindConflict, errors.New("debit must be negative and belong to the account"))
	}
	tx.store.mu.RLock()
	_, exists := tx.store.entryKeys[entry.Key()]
	tx.store.mu.RUnlock()
	if exists {
		return repositories.NewError("accounts.append_debit", repositories.ErrorKindConflict, errors.New("debit already recorded"))
	}
	tx.debits = append(tx.debits, entry)
	return nil
}

func (tx *accountTx) InsertVoucher(_ context.Context, voucher domain.Voucher) error {
	tx.minted = append(tx.minted, voucher)
	return nil
}

func (tx *accountTx) commit() {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, redemption := range tx.inserts {
		s.redemptions[redemption.ID] = redemption
	}
	for id, redemption := range tx.updates {
		s.redemptions[id] = redemption
	}
	for _, entry := range tx.debits {
		s.appendEntryLocked(entry)
	}
	for _, voucher := range tx.minted {
		s.vouchers[voucher.ID] = voucher
	}
}
