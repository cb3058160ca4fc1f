package handlers

import (
	"github.com/coinledger/coinledger/pkg"
	"github.com/coinledger/coinledger/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// requestContext pulls the trace ID set by the middleware; a missing one is a
// wiring bug and becomes a 500.
func requestContext(c *gin.Context, logger *zap.Logger) (string, bool) {
	traceID, err := utils.GetTraceID(c)
	if err != nil {
		resp := pkg.ToErrorResponse(logger, "", err)
		c.JSON(resp.Status, resp)
		return "", false
	}
	return traceID, true
}

// uuidParam parses a UUID path parameter, answering 400 on garbage.
func uuidParam(c *gin.Context, logger *zap.Logger, traceID, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		resp := pkg.ToErrorResponse(logger, traceID,
			pkg.NewAppError(pkg.ErrInvalidInputCode, "invalid "+name+" parameter", err))
		c.JSON(resp.Status, resp)
		return uuid.UUID{}, false
	}
	return id, true
}

// abortWithError renders any error in the standard envelope.
func abortWithError(c *gin.Context, logger *zap.Logger, traceID string, err error) {
	resp := pkg.ToErrorResponse(logger, traceID, err)
	c.JSON(resp.Status, resp)
}
