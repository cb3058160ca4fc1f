package services

import (
	"context"

	"github.com/coinledger/coinledger/pkg"
	"github.com/coinledger/coinledger/pkg/currency"
	"github.com/coinledger/coinledger/services/ledger-api/internal/views"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TransferService implements the two-step transfer handshake: Request
// validates the terms and parks a pending intent; Confirm executes it. Funds
// are only checked as a preview at request time; the authoritative check
// happens inside the ledger transaction at confirm time.
type TransferService interface {
	Request(ctx context.Context, traceID string, req views.TransferRequest) (views.TransferPreviewResponse, error)
	Confirm(ctx context.Context, traceID string, from uuid.UUID) (views.TransferResultResponse, error)
}

type TransferServiceImpl struct {
	logger     *zap.Logger
	currencies *currency.Holder
	ledger     LedgerService
	pending    *PendingStore
	limiter    *pkg.DistributedLimiter
}

func NewTransferService(
	logger *zap.Logger,
	currencies *currency.Holder,
	ledger LedgerService,
	pending *PendingStore,
	limiter *pkg.DistributedLimiter,
) TransferService {
	return &TransferServiceImpl{
		logger:     logger,
		currencies: currencies,
		ledger:     ledger,
		pending:    pending,
		limiter:    limiter,
	}
}

func (t *TransferServiceImpl) Request(ctx context.Context, traceID string, req views.TransferRequest) (views.TransferPreviewResponse, error) {
	if !t.limiter.Allow(ctx) {
		return views.TransferPreviewResponse{}, pkg.NewAppError(pkg.ErrRateLimitedCode, "too many transfer requests", nil)
	}

	cur, ok := t.currencies.Current().Get(req.Currency)
	if !ok {
		return views.TransferPreviewResponse{}, pkg.NewAppError(pkg.ErrUnknownCurrencyCode, "unknown currency: "+req.Currency, nil)
	}
	if !cur.PayEnabled {
		return views.TransferPreviewResponse{}, pkg.NewAppError(pkg.ErrPayDisabledCode, "payments disabled for "+cur.ID, nil)
	}
	if req.From == req.To {
		return views.TransferPreviewResponse{}, pkg.NewAppError(pkg.ErrSelfTransferCode, "cannot transfer to self", nil)
	}
	if err := validateAmount(req.Amount); err != nil {
		return views.TransferPreviewResponse{}, err
	}
	if !cur.WithinPayLimits(req.Amount) {
		return views.TransferPreviewResponse{}, pkg.NewAppError(pkg.ErrInvalidAmountCode,
			"amount outside pay limits of "+cur.ID, nil)
	}

	for _, id := range []uuid.UUID{req.From, req.To} {
		exists, err := t.ledger.HasAccount(ctx, traceID, id)
		if err != nil {
			return views.TransferPreviewResponse{}, err
		}
		if !exists {
			return views.TransferPreviewResponse{}, pkg.NewAppError(pkg.ErrAccountNotFoundCode, "account not found: "+id.String(), nil)
		}
	}

	tax := cur.Tax(req.Amount)
	total := req.Amount.Add(tax)
	if total.GreaterThan(overflowCeiling) {
		return views.TransferPreviewResponse{}, pkg.NewAppError(pkg.ErrOverflowCode,
			"amount plus tax exceeds safety ceiling", nil)
	}

	// Preview funds check against the effective balance, substituting the
	// starter for an account that never touched the currency. Advisory only:
	// the balance can change before confirm, where the transaction re-checks
	// under lock.
	stored, _, err := t.ledger.GetBalance(ctx, traceID, req.From, cur.ID)
	if err != nil {
		return views.TransferPreviewResponse{}, err
	}
	balance := cur.StarterBalance
	if stored.Valid {
		balance = stored.Decimal
	}
	if balance.LessThan(total) {
		return views.TransferPreviewResponse{}, pkg.NewAppError(pkg.ErrInsufficientFundsCode,
			"balance too low to send "+req.Amount.String()+" plus tax "+tax.String(), nil)
	}

	pending := t.pending.Put(req.From, req.To, cur.ID, req.Amount, tax)
	t.logger.Info("transfer requested",
		zap.String(pkg.TraceId, traceID),
		zap.String("from", req.From.String()),
		zap.String("to", req.To.String()),
		zap.String("currency", cur.ID),
		zap.String("amount", req.Amount.String()),
		zap.Time("expiresAt", pending.ExpiresAt))

	return views.TransferPreviewResponse{
		From:      pending.From,
		To:        pending.To,
		Currency:  pending.Currency,
		Amount:    pending.Amount,
		Tax:       pending.Tax,
		Total:     total,
		ExpiresAt: pending.ExpiresAt,
	}, nil
}

func (t *TransferServiceImpl) Confirm(ctx context.Context, traceID string, from uuid.UUID) (views.TransferResultResponse, error) {
	pending, result := t.pending.Take(from)
	switch result {
	case TakeNone:
		return views.TransferResultResponse{}, pkg.NewAppError(pkg.ErrNoPendingCode, "no pending transfer for "+from.String(), nil)
	case TakeExpired:
		return views.TransferResultResponse{}, pkg.NewAppError(pkg.ErrExpiredCode, "pending transfer expired for "+from.String(), nil)
	}

	senderBalance, receiverBalance, err := t.ledger.Transfer(ctx, traceID,
		pending.From, pending.To, pending.Currency, pending.Amount, pending.Tax)
	if err != nil {
		return views.TransferResultResponse{}, err
	}

	return views.TransferResultResponse{
		From:            pending.From,
		To:              pending.To,
		Currency:        pending.Currency,
		Amount:          pending.Amount,
		Tax:             pending.Tax,
		SenderBalance:   senderBalance,
		ReceiverBalance: receiverBalance,
	}, nil
}
