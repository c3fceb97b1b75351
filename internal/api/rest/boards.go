package rest

import (
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"

	"github.com/KevinKickass/OpenSensorCore/internal/boards"
	"github.com/KevinKickass/OpenSensorCore/internal/signal"
	"github.com/KevinKickass/OpenSensorCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultSampleLimit = 100
	maxSampleLimit     = 10000
)

// board resolves the :name parameter, answering 404 if unknown
func (s *Server) board(c *gin.Context) (*boards.Instance, bool) {
	inst, exists := s.lm.BoardManager().GetBoardByName(c.Param("name"))
	if !exists {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("BOARD_404", "Board not found", c.Param("name")))
		return nil, false
	}
	return inst, true
}

func boardSummary(inst *boards.Instance) gin.H {
	summary := gin.H{
		"id":          inst.Board.ID,
		"name":        inst.Board.Name,
		"model":       inst.Profile.Board.Model,
		"firmware":    inst.Profile.Board.Firmware,
		"source":      inst.Source,
		"initialized": inst.Board.Initialized(),
		"polling":     inst.Polling(),
		"signals":     len(inst.Board.Signals()),
		"routing":     inst.Board.Stats(),
	}
	if stats, ok := inst.TransportStats(); ok {
		summary["transport"] = stats
	}
	return summary
}

// GET /api/v1/boards
func (s *Server) listBoards(c *gin.Context) {
	list := s.lm.BoardManager().ListBoards()

	response := make([]gin.H, 0, len(list))
	for _, inst := range list {
		response = append(response, boardSummary(inst))
	}

	c.JSON(http.StatusOK, gin.H{
		"boards": response,
		"count":  len(response),
	})
}

// GET /api/v1/boards/:name
func (s *Server) getBoard(c *gin.Context) {
	inst, ok := s.board(c)
	if !ok {
		return
	}

	response := boardSummary(inst)
	response["modules"] = inst.Profile.PresentModules()
	response["fusion"] = fusionConfigJSON(inst.Fusion.Config(), inst.Fusion.EnabledMask())
	c.JSON(http.StatusOK, response)
}

func signalSummary(sig *signal.DataSignal) gin.H {
	cfg := sig.Config()
	return gin.H{
		"header":      cfg.Header.String(),
		"module":      cfg.Header.Module.String(),
		"kind":        cfg.Kind.String(),
		"interpreter": cfg.Interpreter.String(),
		"converter":   cfg.Converter.String(),
		"channels":    cfg.ChannelCount,
		"value_size":  cfg.ValueByteSize,
		"offset":      cfg.ByteOffset,
		"components":  len(sig.Components()),
		"subscribers": sig.SubscriberCount(),
	}
}

// GET /api/v1/boards/:name/signals
func (s *Server) listSignals(c *gin.Context) {
	inst, ok := s.board(c)
	if !ok {
		return
	}

	signals := inst.Board.Signals()
	response := make([]gin.H, 0, len(signals))
	for _, sig := range signals {
		response = append(response, signalSummary(sig))
	}

	c.JSON(http.StatusOK, gin.H{
		"signals": response,
		"count":   len(response),
	})
}

// GET /api/v1/boards/:name/signals/:header
func (s *Server) getSignal(c *gin.Context) {
	inst, ok := s.board(c)
	if !ok {
		return
	}

	header, err := types.ParseResponseHeader(c.Param("header"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorFrom("SIGNAL_400", "Invalid response header", err))
		return
	}

	sig, exists := inst.Board.GetSignal(header)
	if !exists {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("SIGNAL_404", "Signal not found", header.String()))
		return
	}

	response := signalSummary(sig)
	if last, ok := sig.LastValue(); ok {
		response["last"] = gin.H{
			"value":     last.Value,
			"fields":    types.Fields(last.Value),
			"timestamp": last.Timestamp,
		}
	}
	if rec := s.lm.Recorder(); rec != nil {
		if stats, ok := rec.Stats(inst.Board.Name, header); ok {
			response["stats"] = stats
		}
	}

	c.JSON(http.StatusOK, response)
}

// GET /api/v1/boards/:name/samples?header=15:05&limit=100
func (s *Server) listSamples(c *gin.Context) {
	inst, ok := s.board(c)
	if !ok {
		return
	}

	store := s.lm.Storage()
	if store == nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse("DB_503", "Sample storage disabled", nil))
		return
	}

	header := c.Query("header")
	if header != "" {
		parsed, err := types.ParseResponseHeader(header)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.ErrorFrom("SAMPLE_400", "Invalid response header", err))
			return
		}
		header = parsed.String()
	}

	limit := defaultSampleLimit
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 || n > maxSampleLimit {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse("SAMPLE_400", "Invalid limit", l))
			return
		}
		limit = n
	}

	samples, err := store.RecentSamples(c.Request.Context(), inst.Board.Name, header, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorFrom("SAMPLE_500", "Failed to query samples", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"samples": samples,
		"count":   len(samples),
	})
}

// POST /api/v1/boards/:name/packets
// Feeds a raw response packet ("module register payload...") into the board
// as if it had been received.
func (s *Server) injectPacket(c *gin.Context) {
	inst, ok := s.board(c)
	if !ok {
		return
	}

	var req struct {
		Hex string `json:"hex" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorFrom("PACKET_400", "Invalid request body", err))
		return
	}

	packet, err := hex.DecodeString(strings.ReplaceAll(req.Hex, " ", ""))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorFrom("PACKET_400", "Invalid hex", err))
		return
	}
	if len(packet) < 2 {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("PACKET_400", "Packet needs module and register", len(packet)))
		return
	}

	s.logger.Debug("Injecting packet",
		zap.String("board", inst.Board.Name),
		zap.String("packet", hex.EncodeToString(packet)))
	inst.Board.OnRawPacket(packet)

	c.JSON(http.StatusAccepted, gin.H{
		"routing": inst.Board.Stats(),
	})
}

// GET /api/v1/profiles
func (s *Server) listProfiles(c *gin.Context) {
	names, err := s.lm.BoardManager().ListProfiles()
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.ErrorFrom("PROFILE_500", "Failed to list profiles", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"profiles": names,
		"count":    len(names),
	})
}

// GET /api/v1/profiles/:profile
func (s *Server) getProfile(c *gin.Context) {
	profile, err := s.lm.BoardManager().LoadProfile(c.Param("profile"))
	if err != nil {
		c.JSON(http.StatusNotFound, types.ErrorFrom("PROFILE_404", "Profile not found", err))
		return
	}

	c.JSON(http.StatusOK, profile)
}
