package telemetry

import (
	"github.com/gin-gonic/gin"
	"github.com/voltgrid/voltgrid-api/pkg/response"
)

// GinHandlers contains HTTP handlers for telemetry endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// SubmitReadingHandler handles POST requests carrying a signed meter reading
func (h *GinHandlers) SubmitReadingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SubmitReadingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		resp, err := h.service.SubmitReading(req)
		response.Handle(c, resp, err)
	}
}

// RegisterSubmitterHandler handles POST requests enrolling a reading source
func (h *GinHandlers) RegisterSubmitterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterSubmitterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		submitter, err := h.service.RegisterSubmitter(req)
		response.Handle(c, submitter, err)
	}
}

// MarkSubmitterFailedHandler handles PUT requests flipping the failed flag
// URL parameter: submitter_id
func (h *GinHandlers) MarkSubmitterFailedHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Failed bool `json:"failed"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		submitter, err := h.service.MarkSubmitterFailed(c.Param("submitter_id"), req.Failed)
		response.Handle(c, submitter, err)
	}
}

// ListSubmittersHandler handles GET requests for the authorized set
func (h *GinHandlers) ListSubmittersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		submitters, err := h.service.ListSubmitters()
		response.Handle(c, submitters, err)
	}
}
