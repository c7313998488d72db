package market

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/voltgrid/voltgrid-api/pkg/response"
)

// GinHandlers contains HTTP handlers for market endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateOrderHandler handles POST requests opening a limit order
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.CreateOrder(c.GetString("clientID"), req)
		response.Handle(c, order, err)
	}
}

// MatchHandler handles POST requests from the matching layer
func (h *GinHandlers) MatchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req MatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		trade, err := h.service.Match(req)
		response.Handle(c, trade, err)
	}
}

// CancelOrderHandler handles DELETE requests from the order owner
// URL parameter: order_id
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := h.service.CancelOrder(c.Param("order_id"), c.GetString("clientID"))
		response.Handle(c, order, err)
	}
}

// GetOrderHandler handles GET requests for one order
// URL parameter: order_id
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := h.service.GetOrder(c.Param("order_id"))
		response.Handle(c, order, err)
	}
}

// ListOwnerOrdersHandler handles GET requests for the caller's orders
func (h *GinHandlers) ListOwnerOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orders, err := h.service.GetOwnerOrders(c.GetString("clientID"))
		response.Handle(c, orders, err)
	}
}

// RecentTradesHandler handles GET requests for the trade tape
// Query parameter: limit
func (h *GinHandlers) RecentTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		trades, err := h.service.GetRecentTrades(limit)
		response.Handle(c, trades, err)
	}
}

// MarketStateHandler handles GET requests for the aggregate block
func (h *GinHandlers) MarketStateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		state, err := h.service.GetMarketState()
		response.Handle(c, state, err)
	}
}

// SweepExpiredHandler handles POST requests from the maintenance layer
func (h *GinHandlers) SweepExpiredHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		swept, err := h.service.SweepExpired()
		response.Handle(c, gin.H{"swept": swept}, err)
	}
}
