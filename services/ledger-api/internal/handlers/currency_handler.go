package handlers

import (
	"net/http"

	"github.com/coinledger/coinledger/pkg"
	"github.com/coinledger/coinledger/pkg/currency"
	"github.com/coinledger/coinledger/services/ledger-api/internal/services"
	"github.com/coinledger/coinledger/services/ledger-api/internal/views"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type CurrencyHandler struct {
	logger *zap.Logger
	admin  services.AdminService
}

func NewCurrencyHandler(logger *zap.Logger, admin services.AdminService) *CurrencyHandler {
	return &CurrencyHandler{logger: logger, admin: admin}
}

func (h *CurrencyHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/currencies", h.ListCurrencies)
	r.GET("/currencies/:id", h.GetCurrency)
}

func (h *CurrencyHandler) ListCurrencies(c *gin.Context) {
	traceID, ok := requestContext(c, h.logger)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, pkg.APIResponse{
		TraceID: traceID,
		Data: map[string]interface{}{
			"currencies": toCurrencyViews(h.admin.Currencies()),
		},
	})
}

func (h *CurrencyHandler) GetCurrency(c *gin.Context) {
	traceID, ok := requestContext(c, h.logger)
	if !ok {
		return
	}

	cur, found := h.admin.Currency(c.Param("id"))
	if !found {
		abortWithError(c, h.logger, traceID,
			pkg.NewAppError(pkg.ErrUnknownCurrencyCode, "unknown currency: "+c.Param("id"), nil))
		return
	}

	c.JSON(http.StatusOK, pkg.APIResponse{TraceID: traceID, Data: toCurrencyView(cur)})
}

func toCurrencyView(c currency.Currency) views.CurrencyResponse {
	return views.CurrencyResponse{
		ID:            c.ID,
		DisplayName:   c.DisplayName,
		Symbol:        c.Symbol,
		NameSingular:  c.NameSingular,
		NamePlural:    c.NamePlural,
		DecimalPlaces: c.DecimalPlaces,
		PayEnabled:    c.PayEnabled,
		Default:       c.Default,
		MinBalance:    c.MinBalance,
		MaxBalance:    c.MaxBalance,
	}
}

func toCurrencyViews(currencies []currency.Currency) []views.CurrencyResponse {
	out := make([]views.CurrencyResponse, 0, len(currencies))
	for _, c := range currencies {
		out = append(out, toCurrencyView(c))
	}
	return out
}
