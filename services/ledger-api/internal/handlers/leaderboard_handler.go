package handlers

import (
	"net/http"
	"strconv"

	"github.com/coinledger/coinledger/pkg"
	"github.com/coinledger/coinledger/services/ledger-api/internal/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type LeaderboardHandler struct {
	logger      *zap.Logger
	leaderboard services.LeaderboardService
}

func NewLeaderboardHandler(logger *zap.Logger, leaderboard services.LeaderboardService) *LeaderboardHandler {
	return &LeaderboardHandler{logger: logger, leaderboard: leaderboard}
}

func (h *LeaderboardHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/leaderboard/:currency", h.GetLeaderboard)
	r.GET("/leaderboard/:currency/rank/:id", h.GetRank)
}

func (h *LeaderboardHandler) GetLeaderboard(c *gin.Context) {
	traceID, ok := requestContext(c, h.logger)
	if !ok {
		return
	}

	page := 1
	if raw := c.Query("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			abortWithError(c, h.logger, traceID, pkg.NewAppError(pkg.ErrInvalidPageCode, "invalid page parameter", err))
			return
		}
		page = parsed
	}

	board, err := h.leaderboard.TopBalances(c.Request.Context(), traceID, c.Param("currency"), page)
	if err != nil {
		abortWithError(c, h.logger, traceID, err)
		return
	}

	c.JSON(http.StatusOK, pkg.APIResponse{TraceID: traceID, Data: board})
}

func (h *LeaderboardHandler) GetRank(c *gin.Context) {
	traceID, ok := requestContext(c, h.logger)
	if !ok {
		return
	}
	accountID, ok := uuidParam(c, h.logger, traceID, "id")
	if !ok {
		return
	}

	rank, err := h.leaderboard.Rank(c.Request.Context(), traceID, accountID, c.Param("currency"))
	if err != nil {
		abortWithError(c, h.logger, traceID, err)
		return
	}

	c.JSON(http.StatusOK, pkg.APIResponse{TraceID: traceID, Data: rank})
}
