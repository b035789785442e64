package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/edgeflare/pumprelay/pkg/control"
	"github.com/edgeflare/pumprelay/pkg/httputil"
	"github.com/edgeflare/pumprelay/pkg/ingest"
	"github.com/edgeflare/pumprelay/pkg/store"
	"github.com/edgeflare/pumprelay/pkg/telemetry"
	"go.uber.org/zap"
)

type HealthResponse struct {
	Status   string `json:"status"`
	MQTT     bool   `json:"mqtt"`
	Database bool   `json:"database"`
}

type ControlRequest struct {
	Command any `json:"command"`
}

type ControlResponse struct {
	Success   bool              `json:"success"`
	Message   string            `json:"message"`
	PumpID    telemetry.PumpID  `json:"pump_id"`
	Command   telemetry.Command `json:"command"`
	MQTTTopic string            `json:"mqtt_topic"`
	Timestamp time.Time         `json:"timestamp"`
}

type IngestResponse struct {
	Message string           `json:"message"`
	PumpID  telemetry.PumpID `json:"pump_id"`
	ID      int64            `json:"id"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := HealthResponse{Status: "ok", MQTT: s.bus != nil && s.bus.IsConnected()}
	if err := s.store.Ping(ctx); err != nil {
		httputil.Logger(r).Warn("database ping failed", zap.Error(err))
	} else {
		resp.Database = true
	}

	status := http.StatusOK
	if !resp.MQTT || !resp.Database {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	httputil.JSON(w, status, resp)
}

// handleControl relays START/STOP to one pump. A 200 means the broker took the message; the
// pump itself never confirms.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	rawID := r.PathValue("id")
	logger := httputil.Logger(r).With(zap.String("pump_id", rawID))

	body, err := httputil.ReadBody(w, r)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	var req ControlRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	command, _ := req.Command.(string)

	ack, err := s.relay.Send(r.Context(), rawID, command)
	switch {
	case err == nil:
	case errors.Is(err, telemetry.ErrInvalidPumpID):
		httputil.ErrorReceived(w, http.StatusBadRequest, "Invalid pump ID", rawID)
		return
	case errors.Is(err, telemetry.ErrInvalidCommand):
		httputil.ErrorReceived(w, http.StatusBadRequest, "Invalid command. Must be START or STOP", req.Command)
		return
	case errors.Is(err, control.ErrBusUnavailable):
		httputil.Error(w, http.StatusServiceUnavailable, "Message bus not connected")
		return
	default:
		logger.Error("control command failed", zap.Any("command", req.Command), zap.Error(err))
		httputil.Error(w, http.StatusInternalServerError, "Failed to publish command")
		return
	}

	httputil.JSON(w, http.StatusOK, ControlResponse{
		Success:   true,
		Message:   ack.Message(),
		PumpID:    ack.PumpID,
		Command:   ack.Command,
		MQTTTopic: ack.Topic,
		Timestamp: ack.IssuedAt,
	})
}

func (s *Server) handleRecentTelemetry(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httputil.ErrorReceived(w, http.StatusBadRequest, "limit must be an integer", raw)
			return
		}
		limit = store.ClampLimit(n)
	}

	readings, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		httputil.Logger(r).Error("recent telemetry query failed", zap.Error(err))
		httputil.Error(w, http.StatusInternalServerError, "Failed to read telemetry")
		return
	}
	httputil.JSON(w, http.StatusOK, nonNil(readings))
}

func (s *Server) handlePumpStatus(w http.ResponseWriter, r *http.Request) {
	readings, err := s.store.LatestPerPump(r.Context())
	if err != nil {
		httputil.Logger(r).Error("pump status query failed", zap.Error(err))
		httputil.Error(w, http.StatusInternalServerError, "Failed to read pump status")
		return
	}
	httputil.JSON(w, http.StatusOK, nonNil(readings))
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := httputil.ReadBody(w, r)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	res := s.ingester.Ingest(r.Context(), body)
	switch res.Stage {
	case ingest.StageOK:
		httputil.JSON(w, http.StatusCreated, IngestResponse{
			Message: "Telemetry data received successfully",
			PumpID:  res.Reading.PumpID,
			ID:      res.Reading.ID,
		})
	case ingest.StageStore:
		httputil.Error(w, http.StatusInternalServerError, "Failed to store telemetry data")
	default:
		httputil.Error(w, http.StatusBadRequest, "Invalid telemetry data format: "+res.Err.Error())
	}
}

func nonNil(readings []telemetry.Reading) []telemetry.Reading {
	if readings == nil {
		return []telemetry.Reading{}
	}
	return readings
}
