package projection

import (
	"net/http"

	httperr "github.com/aevon-lab/event-aggregator/internal/core/errors"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all projection API routes on the given router.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/events", s.HandleListEvents)
	r.GET("/stats", s.HandleStats)
}

// HandleListEvents handles GET /events
// Query parameters: topic, limit
func (s *Service) HandleListEvents(c *gin.Context) {
	var query struct {
		Topic string `form:"topic"`
		Limit int    `form:"limit"`
	}

	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
		return
	}

	resp, err := s.ListEvents(c.Request.Context(), query.Topic, query.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to list events",
			Details:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// HandleStats handles GET /stats
func (s *Service) HandleStats(c *gin.Context) {
	resp, err := s.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to read stats",
			Details:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, resp)
}
