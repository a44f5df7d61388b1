package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jeongseonghan/ofdm-sim/internal/audio"
	"github.com/jeongseonghan/ofdm-sim/internal/channel"
	"github.com/jeongseonghan/ofdm-sim/internal/modem"
	"github.com/jeongseonghan/ofdm-sim/internal/protocol"
)

type fakePlayback struct {
	mu     sync.Mutex
	played [][]complex128
	done   chan struct{}
	err    error
}

func (f *fakePlayback) Play(ctx context.Context, samples []complex128) error {
	f.mu.Lock()
	f.played = append(f.played, samples)
	f.mu.Unlock()
	close(f.done)
	return f.err
}

func (f *fakePlayback) Devices() ([]audio.DeviceInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []audio.DeviceInfo{{Name: "fake", MaxOutputChannels: 2, DefaultSampleRate: 48000, IsDefault: true}}, nil
}

type testEnv struct {
	ts       *httptest.Server
	session  *protocol.Session
	hub      *WSHub
	playback *fakePlayback
}

func newTestEnv(t *testing.T, cooldown time.Duration, playback *fakePlayback) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	collector, err := protocol.NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	cfg := protocol.Config{
		Cooldown:  cooldown,
		NewSource: func() channel.RandomSource { return channel.NewSeededSource(1) },
	}
	session := protocol.NewSession(cfg, logger, collector)
	hub := NewWSHub(logger)
	go hub.Forward(session.Events())

	defaults := Defaults{OFDM: modem.DefaultParams(), BandwidthHz: 20e6}
	var pb Playback
	if playback != nil {
		pb = playback
	}
	handlers := NewHandlers(session, hub, pb, defaults, logger)
	srv := NewServer("127.0.0.1:0", handlers, collector.Handler(), logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		session.Close()
	})
	return &testEnv{ts: ts, session: session, hub: hub, playback: playback}
}

func (e *testEnv) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(e.ts.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads websocket messages until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == typ {
			return msg.Payload
		}
	}
}

const bpskJobJSON = `{
	"inputBits": "0101010101010101010101010101010101010101010101010101010101010101",
	"ofdm": {"fftSize": 64, "numSubcarriers": 64, "cyclicPrefixLength": 16, "modulation": "BPSK"},
	"channel": {"snrDb": 30}
}`

func waitForClients(t *testing.T, e *testEnv, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := http.Get(e.ts.URL + "/api/status")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var st struct {
			Clients int `json:"clients"`
		}
		return json.NewDecoder(resp.Body).Decode(&st) == nil && st.Clients >= n
	}, 5*time.Second, 10*time.Millisecond)
}

func TestTransmit_ResultOverWebSocket(t *testing.T) {
	env := newTestEnv(t, 0, nil)
	conn := env.dial(t)
	waitForClients(t, env, 1)

	resp := env.post(t, "/api/transmit", bpskJobJSON)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var accepted struct {
		RequestID uint64 `json:"requestId"`
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	assert.Equal(t, uint64(1), accepted.RequestID)
	assert.Equal(t, env.session.ID(), accepted.SessionID)

	var payload struct {
		RequestID uint64 `json:"requestId"`
		Result    struct {
			DecodedBits string `json:"decodedBits"`
			Metrics     struct {
				BitErrorRate float64 `json:"bitErrorRate"`
			} `json:"metrics"`
			Layout struct {
				CPLength int `json:"cpLength"`
			} `json:"layout"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(readUntil(t, conn, "result"), &payload))
	assert.Equal(t, accepted.RequestID, payload.RequestID)
	assert.Equal(t, 64, len(payload.Result.DecodedBits))
	assert.Equal(t, 16, payload.Result.Layout.CPLength)
}

func TestTransmit_RateLimited(t *testing.T) {
	env := newTestEnv(t, time.Hour, nil)

	first := env.post(t, "/api/transmit", bpskJobJSON)
	assert.Equal(t, http.StatusAccepted, first.StatusCode)
	second := env.post(t, "/api/transmit", bpskJobJSON)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
}

func TestTransmit_BadRequest(t *testing.T) {
	env := newTestEnv(t, 0, nil)

	assert.Equal(t, http.StatusBadRequest, env.post(t, "/api/transmit", `{"inputBits": "01x"}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.post(t, "/api/transmit", `{"bogus": 1}`).StatusCode)

	resp, err := http.Get(env.ts.URL + "/api/transmit")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestQuality(t *testing.T) {
	env := newTestEnv(t, 0, nil)

	resp := env.post(t, "/api/quality", `{
		"channel": {"snrDb": 5, "dopplerShiftHz": 300},
		"agents": [{"id": "a", "kind": "mobile", "isTransmitting": true, "interferenceLevel": 0.7}]
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var q struct {
		Quality           string `json:"quality"`
		DopplerSeverity   string `json:"dopplerSeverity"`
		ActiveInterferers int    `json:"activeInterferers"`
		Recommended       string `json:"recommendedModulation"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&q))
	assert.Equal(t, "poor", q.Quality)
	assert.Equal(t, "high", q.DopplerSeverity)
	assert.Equal(t, 1, q.ActiveInterferers)
	assert.Equal(t, "BPSK", q.Recommended)

	bad := env.post(t, "/api/quality", `{"channel": {"snrDb": 5, "bandwidthHz": -1}}`)
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestStatusHealthMetrics(t *testing.T) {
	env := newTestEnv(t, 0, nil)

	for _, path := range []string{"/api/status", "/healthz", "/metrics", "/api/devices"} {
		resp, err := http.Get(env.ts.URL + path)
		require.NoError(t, err, path)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp, err := http.Get(env.ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var st map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, "idle", st["status"])
	assert.Equal(t, false, st["audio"])
}

func TestPlay(t *testing.T) {
	pb := &fakePlayback{done: make(chan struct{})}
	env := newTestEnv(t, 0, pb)

	assert.Equal(t, http.StatusConflict, env.post(t, "/api/play", "").StatusCode)

	conn := env.dial(t)
	waitForClients(t, env, 1)
	require.Equal(t, http.StatusAccepted, env.post(t, "/api/transmit", bpskJobJSON).StatusCode)
	readUntil(t, conn, "result")
	require.Eventually(t, func() bool { return env.session.LastResult() != nil }, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, http.StatusAccepted, env.post(t, "/api/play", "").StatusCode)
	select {
	case <-pb.done:
	case <-time.After(5 * time.Second):
		t.Fatal("playback not started")
	}

	pb.mu.Lock()
	defer pb.mu.Unlock()
	require.Len(t, pb.played, 1)
	assert.Len(t, pb.played[0], len(env.session.LastResult().Transmitted))
}

func TestPlay_Disabled(t *testing.T) {
	env := newTestEnv(t, 0, nil)
	assert.Equal(t, http.StatusServiceUnavailable, env.post(t, "/api/play", "").StatusCode)
}

func TestDevices(t *testing.T) {
	env := newTestEnv(t, 0, &fakePlayback{done: make(chan struct{})})

	resp, err := http.Get(env.ts.URL + "/api/devices")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		Status  string             `json:"status"`
		Devices []audio.DeviceInfo `json:"devices"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	require.Len(t, body.Devices, 1)
	assert.Equal(t, "fake", body.Devices[0].Name)
}

func TestWSHub_ForwardRoutesEvents(t *testing.T) {
	env := newTestEnv(t, 0, nil)
	conn := env.dial(t)
	waitForClients(t, env, 1)

	events := make(chan protocol.SessionEvent, 3)
	events <- protocol.SessionEvent{SessionID: "s", Status: protocol.StatusRunning, RequestID: 7, Stage: protocol.StageChannel, Progress: 0.4}
	events <- protocol.SessionEvent{SessionID: "s", Status: protocol.StatusError, RequestID: 7, Message: "boom"}
	close(events)
	env.hub.Forward(events)

	var progress ProgressPayload
	require.NoError(t, json.Unmarshal(readUntil(t, conn, "progress"), &progress))
	assert.Equal(t, uint64(7), progress.RequestID)
	assert.Equal(t, protocol.StageChannel, progress.Stage)
	assert.Equal(t, 0.4, progress.Progress)

	var status map[string]string
	require.NoError(t, json.Unmarshal(readUntil(t, conn, "status"), &status))
	assert.Equal(t, "error", status["status"])
	assert.Equal(t, "boom", status["message"])
}

func TestWSHub_RemoveClientIdempotent(t *testing.T) {
	env := newTestEnv(t, 0, nil)
	conn := env.dial(t)
	waitForClients(t, env, 1)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return env.hub.ClientCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestApplyDefaults_Modulation(t *testing.T) {
	h := NewHandlers(nil, nil, nil, Defaults{OFDM: modem.DefaultParams(), BandwidthHz: 20e6}, nil)

	tests := []struct {
		name     string
		body     string
		wantMod  modem.Modulation
		wantSize int
	}{
		{"no ofdm object uses server default", `{"inputBits":"01"}`, modem.ModQPSK, 64},
		{"auto stays adaptive", `{"inputBits":"01","ofdm":{"modulation":"auto"}}`, 0, 64},
		{"omitted modulation stays adaptive", `{"inputBits":"01","ofdm":{}}`, 0, 64},
		{"explicit scheme kept", `{"inputBits":"01","ofdm":{"modulation":"16-QAM"}}`, modem.Mod16QAM, 64},
		{"explicit grid kept", `{"inputBits":"01","ofdm":{"fftSize":128,"numSubcarriers":100,"modulation":"BPSK"}}`, modem.ModBPSK, 128},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/transmit", strings.NewReader(tt.body))
			job, sent, err := decodeJob(httptest.NewRecorder(), r)
			require.NoError(t, err)
			h.applyDefaults(&job, sent)

			assert.Equal(t, tt.wantMod, job.OFDM.Modulation)
			assert.Equal(t, tt.wantSize, job.OFDM.FFTSize)
			assert.Equal(t, 20e6, job.Channel.BandwidthHz)
		})
	}
}

func TestTransmit_AutoModulationIsAdaptive(t *testing.T) {
	env := newTestEnv(t, 0, nil)
	conn := env.dial(t)
	waitForClients(t, env, 1)

	resp := env.post(t, "/api/transmit", `{
		"inputBits": "0101010101010101010101010101010101010101010101010101010101010101",
		"ofdm": {"modulation": "auto"},
		"channel": {"snrDb": 35}
	}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var payload struct {
		Result struct {
			Modulation string `json:"modulation"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(readUntil(t, conn, "result"), &payload))
	assert.Equal(t, "256-QAM", payload.Result.Modulation)
}
