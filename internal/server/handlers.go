package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/jeongseonghan/ofdm-sim/internal/audio"
	"github.com/jeongseonghan/ofdm-sim/internal/channel"
	"github.com/jeongseonghan/ofdm-sim/internal/modem"
	"github.com/jeongseonghan/ofdm-sim/internal/protocol"
	"github.com/jeongseonghan/ofdm-sim/internal/sim"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 8 << 20

// Playback is the audio sink behind /api/play and /api/devices.
type Playback interface {
	Play(ctx context.Context, samples []complex128) error
	Devices() ([]audio.DeviceInfo, error)
}

// Defaults fill in the parts of a job a client leaves out.
type Defaults struct {
	OFDM        modem.Params
	BandwidthHz float64
}

// Handlers holds the HTTP API handlers.
type Handlers struct {
	session  *protocol.Session
	wsHub    *WSHub
	playback Playback
	defaults Defaults
	logger   *zap.Logger
	playing  atomic.Bool
}

// NewHandlers creates new API handlers. playback may be nil when audio is disabled.
func NewHandlers(session *protocol.Session, hub *WSHub, playback Playback, defaults Defaults, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		session:  session,
		wsHub:    hub,
		playback: playback,
		defaults: defaults,
		logger:   logger.Named("http"),
	}
}

// HandleWebSocket handles WebSocket upgrade requests.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade", zap.Error(err))
		return
	}

	h.wsHub.AddClient(conn)

	// Drain client messages until the connection drops
	go func() {
		defer h.wsHub.RemoveClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// HandleTransmit queues a transmission job. The result is pushed over /ws.
func (h *Handlers) HandleTransmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	job, sentOFDM, err := decodeJob(w, r)
	if err != nil {
		http.Error(w, fmt.Sprintf("Parse request: %v", err), http.StatusBadRequest)
		return
	}
	h.applyDefaults(&job, sentOFDM)

	ticket, err := h.session.Transmit(r.Context(), job)
	switch {
	case errors.Is(err, protocol.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"status": "rate_limited", "message": err.Error()})
		return
	case errors.Is(err, protocol.ErrClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":    "queued",
		"sessionId": h.session.ID(),
		"requestId": ticket.ID,
	})
}

// HandleQuality returns a quick channel assessment.
func (h *Handlers) HandleQuality(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Channel channel.Params  `json:"channel"`
		Agents  []channel.Agent `json:"agents"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		http.Error(w, fmt.Sprintf("Parse request: %v", err), http.StatusBadRequest)
		return
	}
	if req.Channel.BandwidthHz == 0 {
		req.Channel.BandwidthHz = h.defaults.BandwidthHz
	}
	if err := req.Channel.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, sim.AnalyzeChannelQuality(req.Channel, req.Agents))
}

// HandleStatus returns current session status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId":       h.session.ID(),
		"status":          h.session.Status().String(),
		"latestRequestId": h.session.Latest(),
		"hasResult":       h.session.LastResult() != nil,
		"clients":         h.wsHub.ClientCount(),
		"audio":           h.playback != nil,
	})
}

// HandleDevices lists available audio devices.
func (h *Handlers) HandleDevices(w http.ResponseWriter, r *http.Request) {
	if h.playback == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "disabled",
			"devices": []audio.DeviceInfo{},
		})
		return
	}
	devices, err := h.playback.Devices()
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"devices": devices,
	})
}

// HandlePlay plays the latest transmitted waveform in the background.
func (h *Handlers) HandlePlay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.playback == nil {
		http.Error(w, "Audio disabled", http.StatusServiceUnavailable)
		return
	}
	res := h.session.LastResult()
	if res == nil {
		http.Error(w, "No transmission to play", http.StatusConflict)
		return
	}
	if !h.playing.CompareAndSwap(false, true) {
		http.Error(w, "Playback in progress", http.StatusConflict)
		return
	}

	samples := []complex128(res.Transmitted)
	go func() {
		defer h.playing.Store(false)
		h.wsHub.BroadcastStatus("playing", fmt.Sprintf("Playing %d samples", len(samples)))
		if err := h.playback.Play(context.Background(), samples); err != nil {
			h.logger.Warn("playback failed", zap.Error(err))
			h.wsHub.BroadcastStatus("error", fmt.Sprintf("Playback failed: %v", err))
			return
		}
		h.wsHub.BroadcastStatus("played", "Playback finished")
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "playing"})
}

// HandleHealth reports liveness.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// applyDefaults fills the server's OFDM grid when the client gave no
// fftSize. A client that sent an ofdm object keeps its modulation, so an
// omitted or "auto" modulation selects the scheme adaptively.
func (h *Handlers) applyDefaults(job *sim.TransmissionJob, sentOFDM bool) {
	if job.OFDM.FFTSize == 0 {
		mod := job.OFDM.Modulation
		job.OFDM = h.defaults.OFDM
		if sentOFDM {
			job.OFDM.Modulation = mod
		}
	}
	if job.Channel.BandwidthHz == 0 {
		job.Channel.BandwidthHz = h.defaults.BandwidthHz
	}
}

// decodeJob decodes a transmission job and reports whether the body
// carried an ofdm object.
func decodeJob(w http.ResponseWriter, r *http.Request) (sim.TransmissionJob, bool, error) {
	var job sim.TransmissionJob
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return job, false, err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&job); err != nil {
		return job, false, err
	}

	var present struct {
		OFDM json.RawMessage `json:"ofdm"`
	}
	if err := json.Unmarshal(body, &present); err != nil {
		return job, false, err
	}
	sent := len(present.OFDM) > 0 && string(present.OFDM) != "null"
	return job, sent, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
