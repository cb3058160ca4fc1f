package handlers

import (
	"net/http"
	"strconv"

	"github.com/coinledger/coinledger/pkg"
	"github.com/coinledger/coinledger/services/ledger-api/internal/services"
	"github.com/coinledger/coinledger/services/ledger-api/internal/views"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AccountHandler struct {
	logger *zap.Logger
	ledger services.LedgerService
}

func NewAccountHandler(logger *zap.Logger, ledger services.LedgerService) *AccountHandler {
	return &AccountHandler{logger: logger, ledger: ledger}
}

func (h *AccountHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.PUT("/accounts/:id", h.UpsertAccount)
	r.GET("/accounts/:id", h.GetAccount)
	r.GET("/accounts/:id/transactions", h.GetTransactions)
	r.POST("/accounts/:id/disconnect", h.Disconnect)
}

// UpsertAccount registers an account or refreshes its username. Safe to call
// on every client connect.
func (h *AccountHandler) UpsertAccount(c *gin.Context) {
	traceID, ok := requestContext(c, h.logger)
	if !ok {
		return
	}
	accountID, ok := uuidParam(c, h.logger, traceID, "id")
	if !ok {
		return
	}

	var req views.AccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, h.logger, traceID, pkg.NewAppError(pkg.ErrInvalidInputCode, "invalid request body", err))
		return
	}

	if err := h.ledger.CreateAccount(c.Request.Context(), traceID, accountID, req.Username); err != nil {
		abortWithError(c, h.logger, traceID, err)
		return
	}

	c.JSON(http.StatusOK, pkg.APIResponse{
		TraceID: traceID,
		Data: map[string]interface{}{
			"accountId": accountID,
			"username":  req.Username,
		},
	})
}

// GetAccount reports whether the account is known to the ledger.
func (h *AccountHandler) GetAccount(c *gin.Context) {
	traceID, ok := requestContext(c, h.logger)
	if !ok {
		return
	}
	accountID, ok := uuidParam(c, h.logger, traceID, "id")
	if !ok {
		return
	}

	exists, err := h.ledger.HasAccount(c.Request.Context(), traceID, accountID)
	if err != nil {
		abortWithError(c, h.logger, traceID, err)
		return
	}
	if !exists {
		abortWithError(c, h.logger, traceID,
			pkg.NewAppError(pkg.ErrAccountNotFoundCode, "account not found: "+accountID.String(), nil))
		return
	}

	c.JSON(http.StatusOK, pkg.APIResponse{
		TraceID: traceID,
		Data: map[string]interface{}{
			"accountId": accountID,
			"exists":    true,
		},
	})
}

func (h *AccountHandler) GetTransactions(c *gin.Context) {
	traceID, ok := requestContext(c, h.logger)
	if !ok {
		return
	}
	accountID, ok := uuidParam(c, h.logger, traceID, "id")
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			abortWithError(c, h.logger, traceID, pkg.NewAppError(pkg.ErrInvalidInputCode, "invalid limit parameter", err))
			return
		}
		limit = parsed
	}

	txs, err := h.ledger.TransactionHistory(c.Request.Context(), traceID, accountID, limit)
	if err != nil {
		abortWithError(c, h.logger, traceID, err)
		return
	}

	c.JSON(http.StatusOK, pkg.APIResponse{
		TraceID: traceID,
		Data: map[string]interface{}{
			"accountId":    accountID,
			"transactions": txs,
		},
	})
}

// Disconnect drops the account's cached balances, typically on client
// logout. The stored ledger state is untouched.
func (h *AccountHandler) Disconnect(c *gin.Context) {
	traceID, ok := requestContext(c, h.logger)
	if !ok {
		return
	}
	accountID, ok := uuidParam(c, h.logger, traceID, "id")
	if !ok {
		return
	}

	h.ledger.Disconnect(accountID)
	c.JSON(http.StatusOK, pkg.APIResponse{
		TraceID: traceID,
		Data: map[string]interface{}{
			"accountId": accountID,
		},
	})
}
