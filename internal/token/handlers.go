package token

import (
	"github.com/gin-gonic/gin"
	"github.com/voltgrid/voltgrid-api/pkg/response"
)

// OwnerBalancesResponse aggregates every holding an owner controls, escrow
// accounts included.
type OwnerBalancesResponse struct {
	Owner    string    `json:"owner"`
	Total    uint64    `json:"total"`
	Accounts []Balance `json:"accounts"`
}

// GinHandlers contains HTTP handlers for balance endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// GetOwnerBalancesHandler handles GET requests for an owner's holdings
// URL parameter: owner
func (h *GinHandlers) GetOwnerBalancesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp, err := h.service.OwnerBalances(c.Param("owner"))
		response.Handle(c, resp, err)
	}
}
