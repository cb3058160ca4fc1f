package handlers

import (
	"net/http"

	"github.com/coinledger/coinledger/pkg"
	"github.com/coinledger/coinledger/services/ledger-api/internal/services"
	"github.com/coinledger/coinledger/services/ledger-api/internal/views"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type TransferHandler struct {
	logger   *zap.Logger
	transfer services.TransferService
}

func NewTransferHandler(logger *zap.Logger, transfer services.TransferService) *TransferHandler {
	return &TransferHandler{logger: logger, transfer: transfer}
}

func (h *TransferHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/transfers", h.RequestTransfer)
	r.POST("/transfers/confirm", h.ConfirmTransfer)
}

// RequestTransfer opens a pending transfer. Nothing moves until the sender
// confirms; the response carries the terms and the confirmation deadline.
func (h *TransferHandler) RequestTransfer(c *gin.Context) {
	traceID, ok := requestContext(c, h.logger)
	if !ok {
		return
	}

	var req views.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, h.logger, traceID, pkg.NewAppError(pkg.ErrInvalidInputCode, "invalid request body", err))
		return
	}

	preview, err := h.transfer.Request(c.Request.Context(), traceID, req)
	if err != nil {
		abortWithError(c, h.logger, traceID, err)
		return
	}

	c.JSON(http.StatusAccepted, pkg.APIResponse{TraceID: traceID, Data: preview})
}

// ConfirmTransfer executes the sender's pending transfer.
func (h *TransferHandler) ConfirmTransfer(c *gin.Context) {
	traceID, ok := requestContext(c, h.logger)
	if !ok {
		return
	}

	var req views.TransferConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, h.logger, traceID, pkg.NewAppError(pkg.ErrInvalidInputCode, "invalid request body", err))
		return
	}

	result, err := h.transfer.Confirm(c.Request.Context(), traceID, req.From)
	if err != nil {
		abortWithError(c, h.logger, traceID, err)
		return
	}

	c.JSON(http.StatusOK, pkg.APIResponse{TraceID: traceID, Data: result})
}
