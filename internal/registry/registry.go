package registry

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/voltgrid/voltgrid-api/internal/types"
	"github.com/voltgrid/voltgrid-api/pkg/response"
	"gorm.io/gorm"
)

// Service owns the device records. Registration and status changes arrive
// from the identity subsystem over the internal boundary, which this core
// trusts completely.
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// RegisterDevice creates a device record with zeroed counters and marks.
func (s *Service) RegisterDevice(req RegisterDeviceRequest) (*types.Device, error) {
	logger := log.With().
		Str("device_id", req.DeviceID).
		Str("owner", req.Owner).
		Str("service", "registry").
		Logger()

	switch req.DeviceType {
	case types.DeviceSolar, types.DeviceWind, types.DeviceBattery, types.DeviceGrid:
	default:
		return nil, types.ErrInvalidStatus.WithMessage("unknown device type %q", req.DeviceType)
	}

	existing, err := s.db.GetDevice(req.DeviceID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	ownerDevices, err := s.db.CountOwnerDevices(req.Owner)
	if err != nil {
		return nil, err
	}

	device := &types.Device{
		DeviceID:     req.DeviceID,
		Owner:        req.Owner,
		DeviceType:   req.DeviceType,
		Status:       types.DeviceActive,
		RegisteredAt: time.Now(),
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(device).Error; err != nil {
			return err
		}
		stats, err := s.db.GetStats(tx)
		if err != nil {
			return err
		}
		stats.DeviceCount++
		stats.ActiveCount++
		if ownerDevices == 0 {
			stats.OwnerCount++
		}
		return s.db.SaveStats(tx, stats)
	})
	if err != nil {
		return nil, err
	}

	logger.Info().Str("device_type", device.DeviceType).Msg("device registered")
	return device, nil
}

// SetDeviceStatus activates or deactivates a device. Devices are never
// deleted; a deactivated device keeps its counters and marks.
func (s *Service) SetDeviceStatus(deviceID string, active bool) (*types.Device, error) {
	device, err := s.db.GetDevice(deviceID)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, types.ErrNotFound.WithMessage("device %s not found", deviceID)
	}

	newStatus := types.DeviceInactive
	if active {
		newStatus = types.DeviceActive
	}
	if device.Status == newStatus {
		return device, nil
	}

	wasActive := device.Status == types.DeviceActive
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.db.UpdateDeviceStatusGuarded(tx, device, newStatus); err != nil {
			return err
		}
		stats, err := s.db.GetStats(tx)
		if err != nil {
			return err
		}
		if wasActive && !active {
			stats.ActiveCount = types.SaturatingSub(stats.ActiveCount, 1)
		} else if !wasActive && active {
			stats.ActiveCount++
		}
		return s.db.SaveStats(tx, stats)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("device_id", deviceID).
		Str("status", newStatus).
		Str("service", "registry").
		Msg("device status updated")
	return device, nil
}

// GetDevice returns a device record by ID.
func (s *Service) GetDevice(deviceID string) (*types.Device, error) {
	device, err := s.db.GetDevice(deviceID)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, types.ErrNotFound.WithMessage("device %s not found", deviceID)
	}
	return device, nil
}

// GetOwnerDevices lists every device registered to an owner, newest first.
func (s *Service) GetOwnerDevices(owner string) ([]types.Device, error) {
	return s.db.GetOwnerDevices(owner)
}

// GetStats returns the registry counters.
func (s *Service) GetStats() (*Stats, error) {
	var stats *Stats
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		stats, err = s.db.GetStats(tx)
		return err
	})
	return stats, err
}

func toDeviceResponse(d *types.Device) DeviceResponse {
	return DeviceResponse{
		DeviceID:                     d.DeviceID,
		Owner:                        d.Owner,
		DeviceType:                   d.DeviceType,
		Status:                       d.Status,
		TotalProduction:              d.TotalProduction,
		TotalConsumption:             d.TotalConsumption,
		SettledNetGeneration:         d.SettledNetGeneration,
		ClaimedCertificateGeneration: d.ClaimedCertificateGeneration,
		UnsettledGeneration:          d.UnsettledGeneration(),
		LastReadingAt:                d.LastReadingAt,
		RegisteredAt:                 d.RegisteredAt,
	}
}

// GinHandlers contains HTTP handlers for registry endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// RegisterDeviceHandler handles POST requests from the registration subsystem
func (h *GinHandlers) RegisterDeviceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterDeviceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		device, err := h.service.RegisterDevice(req)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, toDeviceResponse(device))
	}
}

// SetDeviceStatusHandler handles PUT requests toggling device status
// URL parameter: device_id
func (h *GinHandlers) SetDeviceStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req StatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		device, err := h.service.SetDeviceStatus(c.Param("device_id"), req.Active)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, toDeviceResponse(device))
	}
}

// GetDeviceHandler handles GET requests for a device record
func (h *GinHandlers) GetDeviceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		device, err := h.service.GetDevice(c.Param("device_id"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, toDeviceResponse(device))
	}
}

// ListOwnerDevicesHandler handles GET requests for the caller's devices
func (h *GinHandlers) ListOwnerDevicesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		devices, err := h.service.GetOwnerDevices(c.GetString("clientID"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		out := make([]DeviceResponse, 0, len(devices))
		for i := range devices {
			out = append(out, toDeviceResponse(&devices[i]))
		}
		response.Success(c, out)
	}
}

// GetStatsHandler handles GET requests for registry counters
func (h *GinHandlers) GetStatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := h.service.GetStats()
		response.Handle(c, stats, err)
	}
}
