package handlers

import (
	"net/http"

	"github.com/coinledger/coinledger/pkg"
	"github.com/coinledger/coinledger/services/ledger-api/internal/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AdminHandler struct {
	logger   *zap.Logger
	admin    services.AdminService
	snapshot services.SnapshotService
}

func NewAdminHandler(logger *zap.Logger, admin services.AdminService, snapshot services.SnapshotService) *AdminHandler {
	return &AdminHandler{logger: logger, admin: admin, snapshot: snapshot}
}

func (h *AdminHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/admin/reload", h.ReloadCurrencies)
	r.POST("/admin/snapshot", h.TakeSnapshot)
}

// ReloadCurrencies re-reads currency definitions and swaps the registry at
// runtime, without touching in-flight requests.
func (h *AdminHandler) ReloadCurrencies(c *gin.Context) {
	traceID, ok := requestContext(c, h.logger)
	if !ok {
		return
	}

	loaded, err := h.admin.ReloadCurrencies(traceID)
	if err != nil {
		abortWithError(c, h.logger, traceID, err)
		return
	}

	c.JSON(http.StatusOK, pkg.APIResponse{
		TraceID: traceID,
		Data: map[string]interface{}{
			"currencies": toCurrencyViews(loaded),
		},
	})
}

// TakeSnapshot writes a full ledger snapshot now, outside the schedule.
func (h *AdminHandler) TakeSnapshot(c *gin.Context) {
	traceID, ok := requestContext(c, h.logger)
	if !ok {
		return
	}

	path, err := h.snapshot.Snapshot(c.Request.Context(), traceID)
	if err != nil {
		abortWithError(c, h.logger, traceID, err)
		return
	}

	c.JSON(http.StatusCreated, pkg.APIResponse{
		TraceID: traceID,
		Data: map[string]interface{}{
			"path": path,
		},
	})
}
