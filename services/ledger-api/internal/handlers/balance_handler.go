package handlers

import (
	"context"
	"net/http"

	"github.com/coinledger/coinledger/pkg"
	"github.com/coinledger/coinledger/pkg/currency"
	"github.com/coinledger/coinledger/services/ledger-api/internal/services"
	"github.com/coinledger/coinledger/services/ledger-api/internal/views"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// balanceOp is the shared shape of the three amount-carrying balance writes.
type balanceOp func(ctx context.Context, traceID string, accountID uuid.UUID, currencyID string, amount decimal.Decimal) (decimal.Decimal, currency.Currency, error)

type BalanceHandler struct {
	logger *zap.Logger
	ledger services.LedgerService
}

func NewBalanceHandler(logger *zap.Logger, ledger services.LedgerService) *BalanceHandler {
	return &BalanceHandler{logger: logger, ledger: ledger}
}

func (h *BalanceHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/accounts/:id/balances/:currency", h.GetBalance)
	r.PUT("/accounts/:id/balances/:currency", h.SetBalance)
	r.POST("/accounts/:id/balances/:currency/add", h.AddBalance)
	r.POST("/accounts/:id/balances/:currency/remove", h.RemoveBalance)
}

func (h *BalanceHandler) GetBalance(c *gin.Context) {
	traceID, ok := requestContext(c, h.logger)
	if !ok {
		return
	}
	accountID, ok := uuidParam(c, h.logger, traceID, "id")
	if !ok {
		return
	}

	stored, cur, err := h.ledger.GetBalance(c.Request.Context(), traceID, accountID, c.Param("currency"))
	if err != nil {
		abortWithError(c, h.logger, traceID, err)
		return
	}
	// An account that never touched the currency reads the starter balance.
	balance := cur.StarterBalance
	if stored.Valid {
		balance = stored.Decimal
	}
	h.respondBalance(c, traceID, accountID, cur, balance, stored.Valid)
}

func (h *BalanceHandler) SetBalance(c *gin.Context) {
	h.mutate(c, h.ledger.SetBalance)
}

func (h *BalanceHandler) AddBalance(c *gin.Context) {
	h.mutate(c, h.ledger.AddBalance)
}

func (h *BalanceHandler) RemoveBalance(c *gin.Context) {
	h.mutate(c, h.ledger.RemoveBalance)
}

func (h *BalanceHandler) mutate(c *gin.Context, op balanceOp) {
	traceID, ok := requestContext(c, h.logger)
	if !ok {
		return
	}
	accountID, ok := uuidParam(c, h.logger, traceID, "id")
	if !ok {
		return
	}

	var req views.AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, h.logger, traceID, pkg.NewAppError(pkg.ErrInvalidInputCode, "invalid request body", err))
		return
	}

	balance, cur, err := op(c.Request.Context(), traceID, accountID, c.Param("currency"), req.Amount)
	if err != nil {
		abortWithError(c, h.logger, traceID, err)
		return
	}
	// A write always leaves a stored row behind.
	h.respondBalance(c, traceID, accountID, cur, balance, true)
}

func (h *BalanceHandler) respondBalance(c *gin.Context, traceID string, accountID uuid.UUID, cur currency.Currency, balance decimal.Decimal, set bool) {
	c.JSON(http.StatusOK, pkg.APIResponse{
		TraceID: traceID,
		Data: views.BalanceResponse{
			AccountID: accountID,
			Currency:  cur.ID,
			Balance:   balance,
			Set:       set,
			Formatted: cur.FormatAmount(balance),
		},
	})
}
