package certificates

import (
	"github.com/gin-gonic/gin"
	"github.com/voltgrid/voltgrid-api/pkg/response"
)

// GinHandlers contains HTTP handlers for certificate endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// IssueHandler handles POST requests from the issuance authority
func (h *GinHandlers) IssueHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req IssueRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		cert, err := h.service.Issue(req)
		response.Handle(c, cert, err)
	}
}

// ActivateHandler handles POST requests from the validator authority
// URL parameter: certificate_id
func (h *GinHandlers) ActivateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		cert, err := h.service.Activate(c.Param("certificate_id"))
		response.Handle(c, cert, err)
	}
}

// RetireHandler handles POST requests from the certificate owner
// URL parameter: certificate_id
func (h *GinHandlers) RetireHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		cert, err := h.service.Retire(c.Param("certificate_id"), c.GetString("clientID"))
		response.Handle(c, cert, err)
	}
}

// RevokeHandler handles POST requests from the issuance authority
// URL parameter: certificate_id
func (h *GinHandlers) RevokeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RevokeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		cert, err := h.service.Revoke(c.Param("certificate_id"), req.Reason)
		response.Handle(c, cert, err)
	}
}

// TransferHandler handles POST requests reassigning ownership
// URL parameter: certificate_id
func (h *GinHandlers) TransferHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TransferRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		cert, err := h.service.Transfer(c.Param("certificate_id"), c.GetString("clientID"), req.NewOwner)
		response.Handle(c, cert, err)
	}
}

// GetCertificateHandler handles GET requests for one certificate
// URL parameter: certificate_id
func (h *GinHandlers) GetCertificateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		cert, err := h.service.GetCertificate(c.Param("certificate_id"))
		response.Handle(c, cert, err)
	}
}

// ListOwnerCertificatesHandler handles GET requests for the caller's certificates
func (h *GinHandlers) ListOwnerCertificatesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		certs, err := h.service.GetOwnerCertificates(c.GetString("clientID"))
		response.Handle(c, certs, err)
	}
}

// ListDeviceCertificatesHandler handles GET requests for a device's certificates
// URL parameter: device_id
func (h *GinHandlers) ListDeviceCertificatesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		certs, err := h.service.GetDeviceCertificates(c.Param("device_id"))
		response.Handle(c, certs, err)
	}
}

// GetStatsHandler handles GET requests for registry counters
func (h *GinHandlers) GetStatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := h.service.GetStats()
		response.Handle(c, stats, err)
	}
}
