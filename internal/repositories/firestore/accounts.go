package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/rewards/internal/domain"
	pfirestore "github.com/hanko-field/rewards/internal/platform/firestore"
	"github.com/hanko-field/rewards/internal/repositories"
)

var errForeignRedemption = errors.New("redemption belongs to another account")

type accountLocker struct{ s *Store }

// WithAccount runs fn inside a Firestore transaction that also rewrites the user's account
// document. Two transactions for the same user therefore contend on that document and the
// loser is retried by the client. Writes are buffered because Firestore requires every read
// of a transaction to happen before its first write.
func (l accountLocker) WithAccount(ctx context.Context, userID string, fn func(ctx context.Context, tx repositories.AccountTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	accountRef, err := l.s.accounts.Doc(ctx, userID)
	if err != nil {
		return err
	}
	ledgerRef, err := l.s.ledger.Ref(ctx)
	if err != nil {
		return err
	}
	redemptionRef, err := l.s.redemptions.Ref(ctx)
	if err != nil {
		return err
	}
	voucherRef, err := l.s.vouchers.Ref(ctx)
	if err != nil {
		return err
	}

	err = l.s.provider.RunTransaction(ctx, func(ctx context.Context, ftx *firestore.Transaction) error {
		account := accountDocument{UserID: userID}
		snap, err := ftx.Get(accountRef)
		switch {
		case err == nil:
			if account, err = pfirestore.Decode[accountDocument](snap); err != nil {
				return err
			}
		case pfirestore.IsNotFound(err):
		default:
			return err
		}

		tx := &accountTx{
			tx:          ftx,
			userID:      userID,
			ledger:      ledgerRef,
			redemptions: redemptionRef,
			updates:     make(map[string]domain.Redemption),
		}
		if err := fn(ctx, tx); err != nil {
			return err
		}

		account.UserID = userID
		account.Version++
		account.UpdatedAt = l.s.now().UTC()
		if err := ftx.Set(accountRef, account); err != nil {
			return err
		}
		for _, entry := range tx.debits {
			if err := ftx.Create(ledgerRef.Doc(ledgerDocumentID(entry.Key())), toLedgerEntryDocument(entry)); err != nil {
				return err
			}
		}
		for _, redemption := range tx.inserts {
			if err := ftx.Create(redemptionRef.Doc(redemption.ID), toRedemptionDocument(redemption)); err != nil {
				return err
			}
		}
		for id, redemption := range tx.updates {
			if err := ftx.Set(redemptionRef.Doc(id), toRedemptionDocument(redemption)); err != nil {
				return err
			}
		}
		for _, voucher := range tx.minted {
			if err := ftx.Create(voucherRef.Doc(voucher.ID), toVoucherDocument(voucher)); err != nil {
				return err
			}
		}
		return nil
	}, pfirestore.WithTxAttempts(accountTxAttempts))
	return pfirestore.WrapError(l.s.accounts.Op("with_account"), err)
}

type accountTx struct {
	tx          *firestore.Transaction
	userID      string
	ledger      *firestore.CollectionRef
	redemptions *firestore.CollectionRef

	debits  []domain.LedgerEntry
	inserts []domain.Redemption
	updates map[string]domain.Redemption
	minted  []domain.Voucher
}

var _ repositories.AccountTx = (*accountTx)(nil)

func (t *accountTx) Entries(context.Context) ([]domain.LedgerEntry, error) {
	query := t.ledger.Where("userId", "==", t.userID).OrderBy("createdAt", firestore.Asc)
	docs, err := pfirestore.DecodeAll[ledgerEntryDocument](t.tx.Documents(query))
	if err != nil {
		return nil, pfirestore.WrapError("accounts.entries", err)
	}
	return append(ledgerEntries(docs), t.debits...), nil
}

func (t *accountTx) OpenRedemptions(context.Context) ([]domain.Redemption, error) {
	statuses := []string{string(domain.RedemptionStatusRequested), string(domain.RedemptionStatusApproved)}
	query := t.redemptions.Where("userId", "==", t.userID).Where("status", "in", statuses)
	docs, err := pfirestore.DecodeAll[redemptionDocument](t.tx.Documents(query))
	if err != nil {
		return nil, pfirestore.WrapError("accounts.open_redemptions", err)
	}
	var open []domain.Redemption
	for _, doc := range docs {
		redemption := doc.toDomain()
		if updated, ok := t.updates[redemption.ID]; ok {
			redemption = updated
		}
		if redemption.Status.Open() {
			open = append(open, redemption)
		}
	}
	for _, redemption := range t.inserts {
		if redemption.Status.Open() {
			open = append(open, redemption)
		}
	}
	return open, nil
}

func (t *accountTx) GetRedemption(_ context.Context, redemptionID string) (domain.Redemption, error) {
	if updated, ok := t.updates[redemptionID]; ok {
		return updated, nil
	}
	for _, redemption := range t.inserts {
		if redemption.ID == redemptionID {
			return redemption, nil
		}
	}
	snap, err := t.tx.Get(t.redemptions.Doc(redemptionID))
	if err != nil {
		return domain.Redemption{}, pfirestore.WrapError("accounts.get_redemption", err)
	}
	doc, err := pfirestore.Decode[redemptionDocument](snap)
	if err != nil {
		return domain.Redemption{}, err
	}
	if doc.UserID != t.userID {
		return domain.Redemption{}, repositories.NewError("accounts.get_redemption", repositories.ErrorKindConflict, errForeignRedemption)
	}
	return doc.toDomain(), nil
}

func (t *accountTx) InsertRedemption(_ context.Context, redemption domain.Redemption) error {
	if redemption.UserID != t.userID {
		return repositories.NewError("accounts.insert_redemption", repositories.ErrorKindConflict, errForeignRedemption)
	}
	exists, err := t.exists(t.redemptions.Doc(redemption.ID))
	if err != nil {
		return pfirestore.WrapError("accounts.insert_redemption", err)
	}
	if exists {
		return repositories.NewError("accounts.insert_redemption", repositories.ErrorKindConflict, errors.New("redemption already exists"))
	}
	t.inserts = append(t.inserts, redemption)
	return nil
}

func (t *accountTx) UpdateRedemption(_ context.Context, redemption domain.Redemption) error {
	if redemption.UserID != t.userID {
		return repositories.NewError("accounts.update_redemption", repositories.ErrorKindConflict, errForeignRedemption)
	}
	for i := range t.inserts {
		if t.inserts[i].ID == redemption.ID {
			t.inserts[i] = redemption
			return nil
		}
	}
	t.updates[redemption.ID] = redemption
	return nil
}

func (t *accountTx) AppendDebit(_ context.Context, entry domain.LedgerEntry) error {
	if entry.UserID != t.userID || entry.AmountCents >= 0 {
		return repositories.NewError("accounts.append_debit", repositories.ErrorKindConflict, errors.New("debit must be negative and belong to the account"))
	}
	exists, err := t.exists(t.ledger.Doc(ledgerDocumentID(entry.Key())))
	if err != nil {
		return pfirestore.WrapError("accounts.append_debit", err)
	}
	if exists {
		return repositories.NewError("accounts.append_debit", repositories.ErrorKindConflict, errors.New("debit already recorded"))
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	t.debits = append(t.debits, entry)
	return nil
}

func (t *accountTx) InsertVoucher(_ context.Context, voucher domain.Voucher) error {
	t.minted = append(t.minted, voucher)
	return nil
}

func (t *accountTx) exists(ref *firestore.DocumentRef) (bool, error) {
	_, err := t.tx.Get(ref)
	switch {
	case err == nil:
		return true, nil
	case pfirestore.IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}
