package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/guild-tender/db"
	"github.com/onnwee/guild-tender/telemetry"
)

// HandleHealthz reports liveness. The process is alive if it can answer.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HandleReadyz reports readiness: the database must answer a ping.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.DB == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "degraded", "db": "not configured"})
		return
	}
	if err := h.DB.PingContext(r.Context()); err != nil {
		telemetry.LoggerWithCorr(r.Context()).Warn("readiness db ping failed", slog.Any("err", err))
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "degraded", "db": err.Error()})
		return
	}
	if h.GatewayReady != nil && !h.GatewayReady() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "degraded", "gateway": "not connected"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HandleStatus exposes a small operational snapshot.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"uptime_seconds": int(time.Since(h.startTime).Seconds()),
	}
	if h.DB != nil {
		if n, err := db.CountVerifications(r.Context(), h.DB); err == nil {
			resp["verifications"] = n
		} else {
			telemetry.LoggerWithCorr(r.Context()).Warn("verification count failed", slog.Any("err", err))
		}
	}
	if h.ManagedChannels != nil {
		if n, err := h.ManagedChannels(r.Context()); err == nil {
			resp["managed_voice_channels"] = n
		} else {
			telemetry.LoggerWithCorr(r.Context()).Warn("managed channel count failed", slog.Any("err", err))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
