package rest

import (
	"errors"
	"net/http"

	"github.com/KevinKickass/OpenSensorCore/internal/board"
	"github.com/KevinKickass/OpenSensorCore/internal/sensor/color"
	"github.com/KevinKickass/OpenSensorCore/internal/sensor/fusion"
	"github.com/KevinKickass/OpenSensorCore/internal/sensor/ibeacon"
	"github.com/KevinKickass/OpenSensorCore/internal/sensor/magnetometer"
	"github.com/KevinKickass/OpenSensorCore/internal/sensor/settings"
	"github.com/KevinKickass/OpenSensorCore/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var invalidValueErrors = []error{
	magnetometer.ErrInvalidDataRate,
	magnetometer.ErrInvalidPreset,
	fusion.ErrInvalidMode,
	fusion.ErrInvalidAccRange,
	fusion.ErrInvalidGyroRange,
	fusion.ErrInvalidOutput,
}

// commandError maps a sensor command error to an HTTP response
func (s *Server) commandError(c *gin.Context, err error) {
	if errors.Is(err, board.ErrUnsupportedFeature) {
		c.JSON(http.StatusConflict, types.ErrorFrom("BOARD_409", "Module not present on board", err))
		return
	}
	for _, target := range invalidValueErrors {
		if errors.Is(err, target) {
			c.JSON(http.StatusBadRequest, types.ErrorFrom("SENSOR_400", "Invalid value", err))
			return
		}
	}

	s.logger.Error("Board command failed",
		zap.String("board", c.Param("name")),
		zap.String("path", c.FullPath()),
		zap.Error(err))
	c.JSON(http.StatusBadGateway, types.ErrorFrom("BOARD_502", "Failed to send command", err))
}

// runCommands sends the commands in order and answers 202 on success
func (s *Server) runCommands(c *gin.Context, b *board.Board, message string, commands ...func(*board.Board) error) {
	for _, cmd := range commands {
		if err := cmd(b); err != nil {
			s.commandError(c, err)
			return
		}
	}
	c.JSON(http.StatusAccepted, gin.H{"message": message})
}

// POST /api/v1/boards/:name/battery/read
func (s *Server) readBattery(c *gin.Context) {
	inst, ok := s.board(c)
	if !ok {
		return
	}
	s.runCommands(c, inst.Board, "Battery read requested", settings.ReadBatteryState)
}

// POST /api/v1/boards/:name/color/read
func (s *Server) readColor(c *gin.Context) {
	inst, ok := s.board(c)
	if !ok {
		return
	}
	s.runCommands(c, inst.Board, "Color ADC read requested", color.ReadADC)
}

// POST /api/v1/boards/:name/magnetometer/preset
func (s *Server) setMagnetometerPreset(c *gin.Context) {
	inst, ok := s.board(c)
	if !ok {
		return
	}

	var req struct {
		Preset string `json:"preset" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorFrom("SENSOR_400", "Invalid request body", err))
		return
	}

	preset, err := magnetometer.ParsePreset(req.Preset)
	if err != nil {
		s.commandError(c, err)
		return
	}

	s.runCommands(c, inst.Board, "Magnetometer preset applied", func(b *board.Board) error {
		return magnetometer.SetPreset(b, preset)
	})
}

// POST /api/v1/boards/:name/magnetometer/configure
func (s *Server) configureMagnetometer(c *gin.Context) {
	inst, ok := s.board(c)
	if !ok {
		return
	}

	var req struct {
		XYReps uint16  `json:"xy_reps" binding:"required"`
		ZReps  uint16  `json:"z_reps" binding:"required"`
		ODRHz  float64 `json:"odr_hz" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorFrom("SENSOR_400", "Invalid request body", err))
		return
	}

	odr, err := magnetometer.DataRateForHz(req.ODRHz)
	if err != nil {
		s.commandError(c, err)
		return
	}

	s.runCommands(c, inst.Board, "Magnetometer configured", func(b *board.Board) error {
		return magnetometer.Configure(b, req.XYReps, req.ZReps, odr)
	})
}

// POST /api/v1/boards/:name/magnetometer/start
func (s *Server) startMagnetometer(c *gin.Context) {
	inst, ok := s.board(c)
	if !ok {
		return
	}
	s.runCommands(c, inst.Board, "Magnetometer started",
		magnetometer.EnableBFieldSampling, magnetometer.Start)
}

// POST /api/v1/boards/:name/magnetometer/stop
func (s *Server) stopMagnetometer(c *gin.Context) {
	inst, ok := s.board(c)
	if !ok {
		return
	}
	s.runCommands(c, inst.Board, "Magnetometer stopped",
		magnetometer.Stop, magnetometer.DisableBFieldSampling)
}

type FusionConfigRequest struct {
	Mode         string  `json:"mode" binding:"required"`
	AccRangeG    float64 `json:"acc_range_g"`
	GyroRangeDPS float64 `json:"gyro_range_dps"`
}

func fusionConfigJSON(cfg fusion.Config, mask uint8) gin.H {
	enabled := make([]string, 0)
	for _, o := range fusion.Outputs() {
		if mask&(1<<o) != 0 {
			enabled = append(enabled, o.String())
		}
	}
	return gin.H{
		"mode":           cfg.Mode.String(),
		"acc_range_g":    cfg.AccRange.G(),
		"gyro_range_dps": cfg.GyroRange.DPS(),
		"outputs":        enabled,
	}
}

// GET /api/v1/boards/:name/fusion/config
func (s *Server) getFusionConfig(c *gin.Context) {
	inst, ok := s.board(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, fusionConfigJSON(inst.Fusion.Config(), inst.Fusion.EnabledMask()))
}

// PUT /api/v1/boards/:name/fusion/config
// Ranges left out keep their current value.
func (s *Server) writeFusionConfig(c *gin.Context) {
	inst, ok := s.board(c)
	if !ok {
		return
	}

	var req FusionConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorFrom("FUSION_400", "Invalid request body", err))
		return
	}

	if !inst.Board.Supports(types.ModuleSensorFusion) {
		s.commandError(c, board.ErrUnsupportedFeature)
		return
	}

	mode, err := fusion.ParseMode(req.Mode)
	if err != nil {
		s.commandError(c, err)
		return
	}
	cfg := inst.Fusion.Config()
	cfg.Mode = mode
	if req.AccRangeG != 0 {
		if cfg.AccRange, err = fusion.AccRangeForG(req.AccRangeG); err != nil {
			s.commandError(c, err)
			return
		}
	}
	if req.GyroRangeDPS != 0 {
		if cfg.GyroRange, err = fusion.GyroRangeForDPS(req.GyroRangeDPS); err != nil {
			s.commandError(c, err)
			return
		}
	}

	if err := inst.Fusion.Apply(inst.Board, cfg); err != nil {
		s.commandError(c, err)
		return
	}
	c.JSON(http.StatusOK, fusionConfigJSON(inst.Fusion.Config(), inst.Fusion.EnabledMask()))
}

// POST /api/v1/boards/:name/fusion/start
func (s *Server) startFusion(c *gin.Context) {
	inst, ok := s.board(c)
	if !ok {
		return
	}

	var req struct {
		Outputs []string `json:"outputs" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorFrom("FUSION_400", "Invalid request body", err))
		return
	}

	outputs := make([]fusion.Output, 0, len(req.Outputs))
	for _, name := range req.Outputs {
		o, err := fusion.ParseOutput(name)
		if err != nil {
			s.commandError(c, err)
			return
		}
		outputs = append(outputs, o)
	}

	s.runCommands(c, inst.Board, "Sensor fusion started", func(b *board.Board) error {
		return inst.Fusion.StartOutputs(b, outputs...)
	})
}

// POST /api/v1/boards/:name/fusion/stop
func (s *Server) stopFusion(c *gin.Context) {
	inst, ok := s.board(c)
	if !ok {
		return
	}
	s.runCommands(c, inst.Board, "Sensor fusion stopped", inst.Fusion.Stop)
}

type IBeaconRequest struct {
	Enabled *bool   `json:"enabled"`
	UUID    *string `json:"uuid"`
	Major   *uint16 `json:"major"`
	Minor   *uint16 `json:"minor"`
	RxPower *int8   `json:"rx_power"`
	TxPower *int8   `json:"tx_power"`
	Period  *uint16 `json:"period_ms"`
}

// PUT /api/v1/boards/:name/ibeacon
// Only the given fields are written; enable/disable is sent last.
func (s *Server) configureIBeacon(c *gin.Context) {
	inst, ok := s.board(c)
	if !ok {
		return
	}

	var req IBeaconRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorFrom("IBEACON_400", "Invalid request body", err))
		return
	}

	var commands []func(*board.Board) error
	if req.UUID != nil {
		id, err := uuid.Parse(*req.UUID)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.ErrorFrom("IBEACON_400", "Invalid UUID", err))
			return
		}
		commands = append(commands, func(b *board.Board) error { return ibeacon.SetUUID(b, id) })
	}
	if req.Major != nil {
		commands = append(commands, func(b *board.Board) error { return ibeacon.SetMajor(b, *req.Major) })
	}
	if req.Minor != nil {
		commands = append(commands, func(b *board.Board) error { return ibeacon.SetMinor(b, *req.Minor) })
	}
	if req.RxPower != nil {
		commands = append(commands, func(b *board.Board) error { return ibeacon.SetRxPower(b, *req.RxPower) })
	}
	if req.TxPower != nil {
		commands = append(commands, func(b *board.Board) error { return ibeacon.SetTxPower(b, *req.TxPower) })
	}
	if req.Period != nil {
		commands = append(commands, func(b *board.Board) error { return ibeacon.SetPeriod(b, *req.Period) })
	}
	if req.Enabled != nil {
		if *req.Enabled {
			commands = append(commands, ibeacon.Enable)
		} else {
			commands = append(commands, ibeacon.Disable)
		}
	}

	if len(commands) == 0 {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("IBEACON_400", "Nothing to configure", nil))
		return
	}

	s.runCommands(c, inst.Board, "iBeacon configured", commands...)
}
