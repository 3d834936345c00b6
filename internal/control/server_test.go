package control

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreman2200/wordclock/internal/brightness"
	"github.com/coreman2200/wordclock/internal/config"
	"github.com/coreman2200/wordclock/internal/curve"
	"github.com/coreman2200/wordclock/internal/demo"
	diag "github.com/coreman2200/wordclock/internal/diagnostics"
	"github.com/coreman2200/wordclock/internal/grid"
	"github.com/coreman2200/wordclock/internal/guard"
	"github.com/coreman2200/wordclock/internal/led"
	"github.com/coreman2200/wordclock/internal/transition"
)

type rig struct {
	srv  *Server
	h    http.Handler
	bus  *led.SimBus
	eng  *transition.Engine
	diag *diag.Log
	path string
}

func newRig(t *testing.T) *rig {
	t.Helper()
	bus := led.NewSimBus()
	wo := led.DefaultWriterOptions()
	wo.Spacing = 0
	w := led.NewWriter(bus, wo)
	bright := brightness.New(brightness.Default())
	eng, err := transition.NewEngine(bright, w, transition.DefaultOptions())
	require.NoError(t, err)

	log := diag.NewLog(16)
	path := filepath.Join(t.TempDir(), "config.yaml")
	srv := NewServer(Deps{
		Engine:     eng,
		Writer:     w,
		Bright:     bright,
		Net:        guard.NewConnectivity(),
		Demo:       demo.NewDriver(eng, demo.DefaultFrames(), time.Hour),
		Diag:       log,
		ConfigPath: path,
		BusDriver:  config.DriverSim,
	})
	t.Cleanup(srv.Close)
	return &rig{srv: srv, h: srv.Handler(), bus: bus, eng: eng, diag: log, path: path}
}

func (r *rig) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.h.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 && rec.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func TestHealth(t *testing.T) {
	r := newRig(t)
	code, body := r.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "sim", body["bus"])
	assert.Equal(t, "idle", body["demo"])
	assert.Contains(t, body, "network")
	stats := body["stats"].(map[string]any)
	assert.EqualValues(t, 32, stats["capacity"])
}

func TestNetworkStatus(t *testing.T) {
	r := newRig(t)
	code, body := r.do(t, http.MethodGet, "/api/network", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"wifi": false, "ntp": false, "mqtt": false}, body)

	code, body = r.do(t, http.MethodPut, "/api/network", `{"wifi": true, "ntp": true}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"wifi": true, "ntp": true, "mqtt": false}, body)

	// omitted links are left alone
	code, body = r.do(t, http.MethodPut, "/api/network", `{"ntp": false, "mqtt": true}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"wifi": true, "ntp": false, "mqtt": true}, body)

	_, body = r.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, map[string]any{"wifi": true, "ntp": false, "mqtt": true}, body["network"])

	code, _ = r.do(t, http.MethodPut, "/api/network", `{"wifi": "yes"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestTransitionSettings(t *testing.T) {
	r := newRig(t)

	code, body := r.do(t, http.MethodPut, "/api/transition/duration", `{"duration_ms": 800}`)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 800, body["duration_ms"])

	code, _ = r.do(t, http.MethodPut, "/api/transition/duration", `{"duration_ms": 100}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = r.do(t, http.MethodPut, "/api/transition/duration", `{"duration_ms": 6000}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = r.do(t, http.MethodPut, "/api/transition/curves", `{"fade_in": "bounce"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "bounce", body["fade_in"])
	assert.Equal(t, "ease_out", body["fade_out"])

	code, _ = r.do(t, http.MethodPut, "/api/transition/curves", `{"fade_out": "wobble"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	set, err := r.eng.Settings()
	require.NoError(t, err)
	assert.Equal(t, 800*time.Millisecond, set.Duration)
	assert.Equal(t, curve.Bounce, set.FadeIn)
	assert.Equal(t, curve.EaseOut, set.FadeOut)

	saved, err := config.Load(r.path)
	require.NoError(t, err)
	assert.Equal(t, 800, saved.Transition.DurationMs)
	assert.Equal(t, curve.Bounce, saved.Transition.FadeIn)
}

func TestEnabledAndFallback(t *testing.T) {
	r := newRig(t)

	code, _ := r.do(t, http.MethodPut, "/api/transition/enabled", `{"enabled": false}`)
	require.Equal(t, http.StatusOK, code)
	assert.False(t, r.eng.Enabled())
	code, _ = r.do(t, http.MethodPut, "/api/transition/enabled", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = r.do(t, http.MethodPut, "/api/transition/fallback", `{"fallback": true}`)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, r.eng.InFallback())

	// the scheduler is not running, so fallback cannot be left
	code, _ = r.do(t, http.MethodPut, "/api/transition/fallback", `{"fallback": false}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.True(t, r.eng.InFallback())

	code, _ = r.do(t, http.MethodPost, "/api/transition/complete", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestDisplay(t *testing.T) {
	r := newRig(t)
	code, body := r.do(t, http.MethodPost, "/api/display",
		`{"words": ["es", "ist", "halb"], "indicators": 2, "cells": [{"row": 0, "col": 15}]}`)
	require.Equal(t, http.StatusOK, code)

	want, err := demo.Words("ES", "IST", "HALB")
	require.NoError(t, err)
	want.Set(grid.IndicatorCell(0), true)
	want.Set(grid.IndicatorCell(1), true)
	want.Set(grid.Cell{Row: 0, Col: 15}, true)
	assert.EqualValues(t, want.Count(), body["instant"])
	assert.Equal(t, want, r.bus.Lit())

	for name, doc := range map[string]string{
		"word":       `{"words": ["nope"]}`,
		"cell":       `{"cells": [{"row": 10, "col": 0}]}`,
		"indicators": `{"indicators": 5}`,
		"curve":      `{"words": ["es"], "fade_in": "wobble"}`,
		"duration":   `{"words": ["es"], "duration_ms": 50}`,
		"syntax":     `{"words": `,
	} {
		code, _ := r.do(t, http.MethodPost, "/api/display", doc)
		assert.Equal(t, http.StatusBadRequest, code, name)
	}
}

func TestBrightness(t *testing.T) {
	r := newRig(t)
	code, _ := r.do(t, http.MethodPost, "/api/display", `{"words": ["uhr"]}`)
	require.Equal(t, http.StatusOK, code)

	code, body := r.do(t, http.MethodPut, "/api/brightness", `{"individual": 300, "global": 64}`)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 255, body["individual"])
	assert.EqualValues(t, 64, body["global"])
	assert.Equal(t, uint8(64), r.bus.Global())

	uhr, err := demo.Words("UHR")
	require.NoError(t, err)
	for _, c := range uhr.Cells() {
		assert.Equal(t, uint8(255), r.bus.Value(c))
	}

	saved, err := config.Load(r.path)
	require.NoError(t, err)
	assert.Equal(t, 255, saved.Brightness.Individual)
	assert.Equal(t, 64, saved.Brightness.Global)
}

func TestDemoStartStop(t *testing.T) {
	r := newRig(t)
	code, body := r.do(t, http.MethodPost, "/api/test/start", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "running", body["state"])
	assert.Equal(t, true, body["active"])

	require.Eventually(t, func() bool { lit := r.bus.Lit(); return lit.Count() > 0 }, time.Second, time.Millisecond)

	code, body = r.do(t, http.MethodPost, "/api/test/stop", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "cancelled", body["state"])

	code, body = r.do(t, http.MethodGet, "/api/test", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["active"])
}

func TestMetricsAndDiagnostics(t *testing.T) {
	r := newRig(t)
	r.diag.Add(diag.Diagnostic{Severity: diag.Warn, Code: diag.CodeDegraded, Summary: "x"})

	req := httptest.NewRequest(http.MethodGet, "/api/diagnostics", nil)
	rec := httptest.NewRecorder()
	r.h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []diag.Diagnostic
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, diag.CodeDegraded, list[0].Code)

	_, err := r.eng.Display(grid.Matrix{})
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	r.h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "wordclock_")
}

func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func TestFrameStream(t *testing.T) {
	r := newRig(t)
	ts := httptest.NewServer(r.h)
	defer ts.Close()

	conn := dial(t, ts, "/ws/frames")
	var first frame
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, led.Unknown, first.Cells[0][0])

	var m grid.Matrix
	m.Set(grid.Cell{Row: 0, Col: 0}, true)
	_, err := r.eng.Display(m)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.srv.Stream(ctx, 5*time.Millisecond)

	var next frame
	require.NoError(t, conn.ReadJSON(&next))
	assert.Greater(t, next.FrameID, first.FrameID)
	assert.Equal(t, 32, next.Cells[0][0])
}

func TestDiagStream(t *testing.T) {
	r := newRig(t)
	ts := httptest.NewServer(r.h)
	defer ts.Close()

	conn := dial(t, ts, "/ws/diag")
	require.Eventually(t, func() bool { return len(r.srv.snapshot(r.srv.diagClients)) == 1 }, time.Second, time.Millisecond)

	r.diag.Add(diag.Diagnostic{Severity: diag.Err, Code: diag.CodeWriteFailed, Summary: "bus down"})
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)
	var d diag.Diagnostic
	require.NoError(t, json.NewDecoder(bytes.NewReader(b)).Decode(&d))
	assert.Equal(t, diag.CodeWriteFailed, d.Code)
	assert.Equal(t, diag.Err, d.Severity)
}
