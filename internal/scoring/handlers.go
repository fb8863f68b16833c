package scoring

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/trustsignal/trustsignal/internal/common/errors"
	"github.com/trustsignal/trustsignal/internal/model"
)

// Handler exposes the scoring pipeline over HTTP.
type Handler struct {
	pipeline *Pipeline
	logger   *zap.Logger
}

// NewHandler creates a scoring HTTP handler.
func NewHandler(pipeline *Pipeline, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		pipeline: pipeline,
		logger:   logger.With(zap.String("component", "scoring_handler")),
	}
}

// RegisterRoutes registers the scoring endpoints on the router.
func RegisterRoutes(router *gin.Engine, h *Handler) {
	v1 := router.Group("/api/v1")
	{
		v1.POST("/score", h.ScoreDefault)
		v1.POST("/score/:use_case", h.Score)
	}
}

// ScoreDefault handles POST /api/v1/score with the generic score use case.
func (h *Handler) ScoreDefault(c *gin.Context) {
	h.score(c, model.UseCaseScore)
}

// Score handles POST /api/v1/score/:use_case.
func (h *Handler) Score(c *gin.Context) {
	h.score(c, model.UseCase(c.Param("use_case")))
}

func (h *Handler) score(c *gin.Context, useCase model.UseCase) {
	raw, err := c.GetRawData()
	if err != nil {
		apperrors.HandleError(c, apperrors.MalformedRequest("unable to read request body"))
		return
	}

	assessment, err := h.pipeline.Score(c.Request.Context(), raw, c.ClientIP(), useCase)
	if err != nil {
		apperrors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, assessment)
}
