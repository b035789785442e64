package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/edgeflare/pumprelay/pkg/control"
	"github.com/edgeflare/pumprelay/pkg/ingest"
	"github.com/edgeflare/pumprelay/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Recent(ctx context.Context, limit int) ([]telemetry.Reading, error) {
	args := m.Called(ctx, limit)
	readings, _ := args.Get(0).([]telemetry.Reading)
	return readings, args.Error(1)
}

func (m *MockStore) LatestPerPump(ctx context.Context) ([]telemetry.Reading, error) {
	args := m.Called(ctx)
	readings, _ := args.Get(0).([]telemetry.Reading)
	return readings, args.Error(1)
}

func (m *MockStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type MockRelay struct {
	mock.Mock
}

func (m *MockRelay) Send(ctx context.Context, rawPumpID, rawCommand string) (control.Ack, error) {
	args := m.Called(ctx, rawPumpID, rawCommand)
	return args.Get(0).(control.Ack), args.Error(1)
}

type MockIngester struct {
	mock.Mock
}

func (m *MockIngester) Ingest(ctx context.Context, payload []byte) ingest.Result {
	return m.Called(ctx, payload).Get(0).(ingest.Result)
}

type fakeBus bool

func (b fakeBus) IsConnected() bool { return bool(b) }

type fixture struct {
	store    *MockStore
	relay    *MockRelay
	ingester *MockIngester
	logs     *observer.ObservedLogs
	handler  http.Handler
}

func newFixture(t *testing.T, connected bool) *fixture {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	f := &fixture{
		store:    &MockStore{},
		relay:    &MockRelay{},
		ingester: &MockIngester{},
		logs:     logs,
	}
	s := New(Options{
		Store:        f.store,
		Relay:        f.relay,
		Ingester:     f.ingester,
		Bus:          fakeBus(connected),
		Logger:       zap.New(core),
		MountMetrics: true,
	})
	f.handler = s.Router().Handler()
	t.Cleanup(func() {
		f.store.AssertExpectations(t)
		f.relay.AssertExpectations(t)
		f.ingester.AssertExpectations(t)
	})
	return f
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &m), rr.Body.String())
	return m
}

var ts = time.Date(2025, 2, 8, 21, 19, 42, 0, time.UTC)

func TestIndex(t *testing.T) {
	f := newFixture(t, true)
	rr := f.do(http.MethodGet, "/", "")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, Banner, rr.Body.String())
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-Id"))

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/nothing-here", "").Code)
}

func TestHealth(t *testing.T) {
	t.Run("all up", func(t *testing.T) {
		f := newFixture(t, true)
		f.store.On("Ping", mock.Anything).Return(nil)

		rr := f.do(http.MethodGet, "/healthz", "")
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"status":"ok","mqtt":true,"database":true}`, rr.Body.String())
	})

	t.Run("bus down", func(t *testing.T) {
		f := newFixture(t, false)
		f.store.On("Ping", mock.Anything).Return(nil)

		rr := f.do(http.MethodGet, "/healthz", "")
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.JSONEq(t, `{"status":"degraded","mqtt":false,"database":true}`, rr.Body.String())
	})

	t.Run("database down", func(t *testing.T) {
		f := newFixture(t, true)
		f.store.On("Ping", mock.Anything).Return(errors.New("connection refused"))

		rr := f.do(http.MethodGet, "/healthz", "")
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.JSONEq(t, `{"status":"degraded","mqtt":true,"database":false}`, rr.Body.String())
	})
}

func TestControl(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		f := newFixture(t, true)
		ack := control.Ack{PumpID: "1", Command: telemetry.CommandStart, Topic: "caracas/pumps/1/control", IssuedAt: ts}
		f.relay.On("Send", mock.Anything, "1", "START").Return(ack, nil).Once()

		rr := f.do(http.MethodPost, "/api/pumps/1/control", `{"command":"START"}`)
		require.Equal(t, http.StatusOK, rr.Code)

		body := decodeMap(t, rr)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, ack.Message(), body["message"])
		assert.Contains(t, body["message"], "not confirmed")
		assert.EqualValues(t, 1, body["pump_id"])
		assert.Equal(t, "START", body["command"])
		assert.Equal(t, "caracas/pumps/1/control", body["mqtt_topic"])
		assert.Equal(t, "2025-02-08T21:19:42Z", body["timestamp"])
	})

	tests := []struct {
		name         string
		path         string
		body         string
		sendErr      error
		wantStatus   int
		wantError    string
		wantReceived any
	}{
		{
			name:         "invalid command",
			path:         "/api/pumps/1/control",
			body:         `{"command":"RESTART"}`,
			sendErr:      fmt.Errorf("%w: RESTART", telemetry.ErrInvalidCommand),
			wantStatus:   http.StatusBadRequest,
			wantError:    "Invalid command. Must be START or STOP",
			wantReceived: "RESTART",
		},
		{
			name:         "non-string command",
			path:         "/api/pumps/1/control",
			body:         `{"command":7}`,
			sendErr:      telemetry.ErrInvalidCommand,
			wantStatus:   http.StatusBadRequest,
			wantError:    "Invalid command. Must be START or STOP",
			wantReceived: float64(7),
		},
		{
			name:         "invalid pump id",
			path:         "/api/pumps/abc/control",
			body:         `{"command":"STOP"}`,
			sendErr:      telemetry.ErrInvalidPumpID,
			wantStatus:   http.StatusBadRequest,
			wantError:    "Invalid pump ID",
			wantReceived: "abc",
		},
		{
			name:       "bus disconnected",
			path:       "/api/pumps/1/control",
			body:       `{"command":"STOP"}`,
			sendErr:    control.ErrBusUnavailable,
			wantStatus: http.StatusServiceUnavailable,
			wantError:  "Message bus not connected",
		},
		{
			name:       "publish failed",
			path:       "/api/pumps/1/control",
			body:       `{"command":"STOP"}`,
			sendErr:    fmt.Errorf("%w: %w", control.ErrPublish, errors.New("pingresp not received")),
			wantStatus: http.StatusInternalServerError,
			wantError:  "Failed to publish command",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			f.relay.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(control.Ack{}, tt.sendErr).Once()

			rr := f.do(http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, rr.Code)

			body := decodeMap(t, rr)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.wantError, body["error"])
			assert.Equal(t, tt.wantReceived, body["received"])
			assert.NotContains(t, rr.Body.String(), "pingresp", "internal detail stays in logs")
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		f := newFixture(t, true)
		rr := f.do(http.MethodPost, "/api/pumps/1/control", `{"command":`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		f.relay.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("publish failure is logged", func(t *testing.T) {
		f := newFixture(t, true)
		f.relay.On("Send", mock.Anything, "2", "STOP").Return(control.Ack{}, fmt.Errorf("%w: %w", control.ErrPublish, context.DeadlineExceeded)).Once()

		f.do(http.MethodPost, "/api/pumps/2/control", `{"command":"STOP"}`)
		entries := f.logs.FilterMessage("control command failed").All()
		require.Len(t, entries, 1)
		assert.Equal(t, "2", entries[0].ContextMap()["pump_id"])
	})

	t.Run("wrong method", func(t *testing.T) {
		f := newFixture(t, true)
		assert.Equal(t, http.StatusMethodNotAllowed, f.do(http.MethodGet, "/api/pumps/1/control", "").Code)
	})
}

type recordingPublisher struct {
	topic   string
	payload []byte
}

func (p *recordingPublisher) IsConnected() bool { return true }

func (p *recordingPublisher) Publish(_ context.Context, topic string, _ byte, _ bool, payload []byte) error {
	p.topic, p.payload = topic, payload
	return nil
}

func TestControlThroughRelay(t *testing.T) {
	pub := &recordingPublisher{}
	s := New(Options{Relay: control.New(control.Config{}, pub, nil), Bus: fakeBus(true)})
	h := s.Router().Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/pumps/3/control", strings.NewReader(`{"command":"STOP"}`)))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	assert.Equal(t, "caracas/pumps/3/control", pub.topic)
	var msg telemetry.ControlMessage
	require.NoError(t, json.Unmarshal(pub.payload, &msg))
	assert.Equal(t, telemetry.CommandStop, msg.Command)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/pumps/0/control", strings.NewReader(`{"command":"STOP"}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRecentTelemetry(t *testing.T) {
	readings := []telemetry.Reading{
		{ID: 2, PumpID: "1", Timestamp: ts.Add(time.Minute), WaterLevelPercent: 75.5, CurrentAmps: 12.3, InflowRate: 145.8, FlowStatus: "FLOWING"},
		{ID: 1, PumpID: "2", Timestamp: ts, WaterLevelPercent: 45.2, FlowStatus: "STOPPED"},
	}

	t.Run("default limit", func(t *testing.T) {
		f := newFixture(t, true)
		f.store.On("Recent", mock.Anything, 20).Return(readings, nil).Once()

		rr := f.do(http.MethodGet, "/api/telemetry", "")
		require.Equal(t, http.StatusOK, rr.Code)

		var got []telemetry.Reading
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		require.Len(t, got, 2)
		assert.Equal(t, int64(2), got[0].ID)
		assert.Nil(t, got[0].TemperatureCelsius)
		assert.Contains(t, rr.Body.String(), `"pump_temperature_celsius":null`)
	})

	t.Run("explicit limit", func(t *testing.T) {
		f := newFixture(t, true)
		f.store.On("Recent", mock.Anything, 5).Return(readings[:1], nil).Once()
		assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/telemetry?limit=5", "").Code)
	})

	t.Run("limit above cap", func(t *testing.T) {
		for _, q := range []string{"21", "100", "10000"} {
			f := newFixture(t, true)
			f.store.On("Recent", mock.Anything, 20).Return(readings, nil).Once()
			assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/telemetry?limit="+q, "").Code, q)
			f.store.AssertExpectations(t)
		}
	})

	t.Run("non-integer limit", func(t *testing.T) {
		f := newFixture(t, true)
		rr := f.do(http.MethodGet, "/api/telemetry?limit=ten", "")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "ten", decodeMap(t, rr)["received"])
	})

	t.Run("empty table", func(t *testing.T) {
		f := newFixture(t, true)
		f.store.On("Recent", mock.Anything, 20).Return(nil, nil).Once()
		rr := f.do(http.MethodGet, "/api/telemetry", "")
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `[]`, rr.Body.String())
	})

	t.Run("store failure", func(t *testing.T) {
		f := newFixture(t, true)
		f.store.On("Recent", mock.Anything, 20).Return(nil, errors.New("relation does not exist")).Once()
		rr := f.do(http.MethodGet, "/api/telemetry", "")
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.NotContains(t, rr.Body.String(), "relation")
	})
}

func TestPumpStatus(t *testing.T) {
	f := newFixture(t, true)
	latest := []telemetry.Reading{
		{ID: 9, PumpID: "1", Timestamp: ts, FlowStatus: "FLOWING"},
		{ID: 4, PumpID: "2", Timestamp: ts, FlowStatus: "STOPPED"},
	}
	f.store.On("LatestPerPump", mock.Anything).Return(latest, nil).Once()

	rr := f.do(http.MethodGet, "/api/pumps/status", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.EqualValues(t, 1, got[0]["pump_id"])
	assert.EqualValues(t, 2, got[1]["pump_id"])
}

func TestIngest(t *testing.T) {
	body := `{"pump_id":1,"water_level_percent":75.5,"current_amps":12.3,"current_inflow_rate":145.8,"street_flow_status":"FLOWING"}`

	t.Run("created", func(t *testing.T) {
		f := newFixture(t, true)
		f.ingester.On("Ingest", mock.Anything, []byte(body)).
			Return(ingest.Result{Stage: ingest.StageOK, Reading: telemetry.Reading{ID: 42, PumpID: "1"}}).Once()

		rr := f.do(http.MethodPost, "/api/telemetry", body)
		assert.Equal(t, http.StatusCreated, rr.Code)
		assert.JSONEq(t, `{"message":"Telemetry data received successfully","pump_id":1,"id":42}`, rr.Body.String())
	})

	t.Run("invalid payload", func(t *testing.T) {
		f := newFixture(t, true)
		f.ingester.On("Ingest", mock.Anything, mock.Anything).
			Return(ingest.Result{Stage: ingest.StageDecode, Err: fmt.Errorf("%w: missing required fields: water_level_percent", telemetry.ErrDecode)}).Once()

		rr := f.do(http.MethodPost, "/api/telemetry", `{"pump_id":1}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, decodeMap(t, rr)["error"], "water_level_percent")
	})

	t.Run("store failure", func(t *testing.T) {
		f := newFixture(t, true)
		f.ingester.On("Ingest", mock.Anything, mock.Anything).
			Return(ingest.Result{Stage: ingest.StageStore, Err: errors.New("disk full")}).Once()

		rr := f.do(http.MethodPost, "/api/telemetry", body)
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.NotContains(t, rr.Body.String(), "disk full")
	})
}

type countingWriter struct{ inserts int }

func (w *countingWriter) Insert(_ context.Context, r telemetry.Reading) (telemetry.Reading, error) {
	w.inserts++
	r.ID = int64(w.inserts)
	return r, nil
}

func TestIngestThroughListener(t *testing.T) {
	w := &countingWriter{}
	s := New(Options{Ingester: ingest.New(ingest.Config{}, nil, w, nil), Bus: fakeBus(true)})
	h := s.Router().Handler()

	post := func(pumpID string) *httptest.ResponseRecorder {
		body := `{"pump_id":` + pumpID + `,"water_level_percent":75.5,"current_amps":12.3,"current_inflow_rate":145.8,"street_flow_status":"FLOWING"}`
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/telemetry", strings.NewReader(body)))
		return rr
	}

	for _, id := range []string{`0`, `-3`, `1.5`, `"a/b"`, `"+"`, `"#"`} {
		rr := post(id)
		assert.Equal(t, http.StatusBadRequest, rr.Code, id)
	}
	assert.Zero(t, w.inserts)

	rr := post(`"4"`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.EqualValues(t, 4, decodeMap(t, rr)["pump_id"])
	assert.Equal(t, 1, w.inserts)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, true)
	rr := f.do(http.MethodOptions, "/api/pumps/1/control", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "authorization, x-client-info, apikey, content-type", rr.Header().Get("Access-Control-Allow-Headers"))
}

func TestMetricsMounted(t *testing.T) {
	f := newFixture(t, true)
	f.do(http.MethodGet, "/", "")

	rr := f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "pumprelay_http_requests_total")
}
