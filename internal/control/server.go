// Package control serves the clock's HTTP control API and its live websocket
// streams.
package control

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

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

// Deps are the components the server drives. Config and ConfigPath are
// optional; without a path nothing is persisted.
type Deps struct {
	Engine *transition.Engine
	Writer *led.Writer
	Bright *brightness.State
	Net    *guard.Connectivity
	Demo   *demo.Driver
	Diag   *diag.Log

	Config     *config.Config
	ConfigPath string
	BusDriver  string

	// Context bounds demo runs started over the API.
	Context context.Context
}

type Server struct {
	d     Deps
	start time.Time

	mu  sync.Mutex // guards d.Config
	wmu sync.Mutex // serializes websocket writes

	cmu         sync.RWMutex
	clients     map[*websocket.Conn]bool
	diagClients map[*websocket.Conn]bool
	frameID     uint64

	unsubscribe func()
}

func NewServer(d Deps) *Server {
	if d.Context == nil {
		d.Context = context.Background()
	}
	if d.Config == nil {
		d.Config = config.Default()
	}
	if d.Net == nil {
		d.Net = guard.NewConnectivity()
	}
	s := &Server{
		d:           d,
		start:       time.Now(),
		clients:     map[*websocket.Conn]bool{},
		diagClients: map[*websocket.Conn]bool{},
	}
	if d.Diag != nil {
		s.unsubscribe = d.Diag.Subscribe(s.pushDiag)
	}
	return s
}

// Close drops the diagnostics subscription and every websocket client.
func (s *Server) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.cmu.Lock()
	defer s.cmu.Unlock()
	for c := range s.clients {
		c.Close()
		delete(s.clients, c)
	}
	for c := range s.diagClients {
		c.Close()
		delete(s.diagClients, c)
	}
}

// Handler returns the router with every route mounted.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), accessLog(), cors())

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws/frames", s.framesWS)
	r.GET("/ws/diag", s.diagWS)

	api := r.Group("/api")
	{
		api.GET("/transition", s.getTransition)
		api.PUT("/transition/duration", s.putDuration)
		api.PUT("/transition/curves", s.putCurves)
		api.PUT("/transition/enabled", s.putEnabled)
		api.PUT("/transition/fallback", s.putFallback)
		api.POST("/transition/complete", s.postComplete)
		api.GET("/transition/slots", s.getSlots)

		api.GET("/test", s.getTest)
		api.POST("/test/start", s.postTestStart)
		api.POST("/test/stop", s.postTestStop)

		api.GET("/brightness", s.getBrightness)
		api.PUT("/brightness", s.putBrightness)

		api.GET("/network", s.getNetwork)
		api.PUT("/network", s.putNetwork)

		api.POST("/display", s.postDisplay)
		api.GET("/diagnostics", s.getDiagnostics)
	}
	return r
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		t := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(t)).
			Msg("http")
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// fail maps engine errors onto status codes.
func fail(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, transition.ErrDurationRange),
		errors.Is(err, curve.ErrUnknownCurve),
		errors.Is(err, led.ErrOutOfRange),
		errors.Is(err, demo.ErrUnknownWord),
		errors.Is(err, demo.ErrNoFrames):
		code = http.StatusBadRequest
	case errors.Is(err, transition.ErrNotRunning):
		code = http.StatusConflict
	case errors.Is(err, guard.ErrTimeout):
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

// persist applies fn to the config and saves it when a path is set.
func (s *Server) persist(fn func(*config.Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.d.Config)
	if s.d.ConfigPath == "" {
		return
	}
	if err := config.Save(s.d.ConfigPath, s.d.Config); err != nil {
		log.Warn().Err(err).Str("path", s.d.ConfigPath).Msg("config save failed")
	}
}

func (s *Server) health(c *gin.Context) {
	resp := gin.H{
		"uptime_s": time.Since(s.start).Seconds(),
		"bus":      s.d.BusDriver,
		"stats":    s.d.Engine.Stats(),
		"demo":     s.d.Demo.State().String(),
		"network":  s.d.Net.Status(),
	}
	c.JSON(http.StatusOK, resp)
}

type transitionView struct {
	DurationMs int64            `json:"duration_ms"`
	FadeIn     curve.Kind       `json:"fade_in"`
	FadeOut    curve.Kind       `json:"fade_out"`
	Stats      transition.Stats `json:"stats"`
}

func (s *Server) view() (transitionView, error) {
	set, err := s.d.Engine.Settings()
	if err != nil {
		return transitionView{}, err
	}
	return transitionView{
		DurationMs: set.Duration.Milliseconds(),
		FadeIn:     set.FadeIn,
		FadeOut:    set.FadeOut,
		Stats:      s.d.Engine.Stats(),
	}, nil
}

func (s *Server) getTransition(c *gin.Context) {
	v, err := s.view()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) putDuration(c *gin.Context) {
	var body struct {
		DurationMs int `json:"duration_ms" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.d.Engine.SetDuration(time.Duration(body.DurationMs) * time.Millisecond); err != nil {
		fail(c, err)
		return
	}
	s.persist(func(cfg *config.Config) { cfg.Transition.DurationMs = body.DurationMs })
	s.getTransition(c)
}

func (s *Server) putCurves(c *gin.Context) {
	var body struct {
		FadeIn  *curve.Kind `json:"fade_in"`
		FadeOut *curve.Kind `json:"fade_out"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	set, err := s.d.Engine.Settings()
	if err != nil {
		fail(c, err)
		return
	}
	if body.FadeIn != nil {
		set.FadeIn = *body.FadeIn
	}
	if body.FadeOut != nil {
		set.FadeOut = *body.FadeOut
	}
	if err := s.d.Engine.SetCurves(set.FadeIn, set.FadeOut); err != nil {
		fail(c, err)
		return
	}
	s.persist(func(cfg *config.Config) {
		cfg.Transition.FadeIn = set.FadeIn
		cfg.Transition.FadeOut = set.FadeOut
	})
	s.getTransition(c)
}

func (s *Server) putEnabled(c *gin.Context) {
	var body struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.d.Engine.SetEnabled(*body.Enabled); err != nil {
		fail(c, err)
		return
	}
	s.persist(func(cfg *config.Config) { cfg.Transition.Enabled = *body.Enabled })
	s.getTransition(c)
}

func (s *Server) putFallback(c *gin.Context) {
	var body struct {
		Fallback *bool `json:"fallback" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var err error
	if *body.Fallback {
		err = s.d.Engine.EnterFallback()
	} else {
		err = s.d.Engine.TryExitFallback()
	}
	if err != nil {
		fail(c, err)
		return
	}
	s.getTransition(c)
}

func (s *Server) postComplete(c *gin.Context) {
	if err := s.d.Engine.CompleteAll(); err != nil {
		fail(c, err)
		return
	}
	s.getTransition(c)
}

func (s *Server) getSlots(c *gin.Context) {
	snap, err := s.d.Engine.Snapshot()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) getTest(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": s.d.Demo.State().String(), "active": s.d.Demo.Active()})
}

func (s *Server) postTestStart(c *gin.Context) {
	if err := s.d.Demo.Start(s.d.Context); err != nil {
		fail(c, err)
		return
	}
	s.getTest(c)
}

func (s *Server) postTestStop(c *gin.Context) {
	s.d.Demo.Stop()
	s.getTest(c)
}

func (s *Server) getBrightness(c *gin.Context) {
	var ch guard.Chain
	l, err := s.d.Bright.Snapshot(&ch)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"individual": l.Individual, "global": l.Global})
}

func (s *Server) putBrightness(c *gin.Context) {
	var body struct {
		Individual *int `json:"individual"`
		Global     *int `json:"global"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if body.Individual != nil {
		v, err := s.d.Bright.SetIndividual(*body.Individual)
		if err != nil {
			fail(c, err)
			return
		}
		if _, err := s.d.Engine.Refresh(); err != nil {
			fail(c, err)
			return
		}
		s.persist(func(cfg *config.Config) { cfg.Brightness.Individual = int(v) })
	}
	if body.Global != nil {
		v, err := s.d.Bright.ApplyGlobal(*body.Global, s.d.Writer)
		if err != nil {
			fail(c, err)
			return
		}
		s.persist(func(cfg *config.Config) { cfg.Brightness.Global = int(v) })
	}
	s.getBrightness(c)
}

func (s *Server) getNetwork(c *gin.Context) {
	c.JSON(http.StatusOK, s.d.Net.Status())
}

// putNetwork records link state reported by the network side. Omitted links
// keep their value.
func (s *Server) putNetwork(c *gin.Context) {
	var body struct {
		WiFi *bool `json:"wifi"`
		NTP  *bool `json:"ntp"`
		MQTT *bool `json:"mqtt"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, l := range []struct {
		up  *bool
		set func(bool) error
	}{
		{body.WiFi, s.d.Net.SetWiFi},
		{body.NTP, s.d.Net.SetNTP},
		{body.MQTT, s.d.Net.SetMQTT},
	} {
		if l.up == nil {
			continue
		}
		if err := l.set(*l.up); err != nil {
			fail(c, err)
			return
		}
	}
	st := s.d.Net.Status()
	log.Info().Bool("wifi", st.WiFi).Bool("ntp", st.NTP).Bool("mqtt", st.MQTT).Msg("network status")
	c.JSON(http.StatusOK, st)
}

// displayBody lights the union of cells, named words and minute indicators.
type displayBody struct {
	Cells      []grid.Cell `json:"cells"`
	Words      []string    `json:"words"`
	Indicators int         `json:"indicators"`
	DurationMs int         `json:"duration_ms,omitempty"`
	FadeIn     *curve.Kind `json:"fade_in,omitempty"`
	FadeOut    *curve.Kind `json:"fade_out,omitempty"`
}

func (b displayBody) request(base transition.Settings) (transition.Request, error) {
	var req transition.Request
	for _, cell := range b.Cells {
		if !cell.Valid() {
			return req, fmt.Errorf("%w: %v", led.ErrOutOfRange, cell)
		}
		req.Matrix.Set(cell, true)
	}
	if b.Indicators < 0 || b.Indicators > grid.Indicators {
		return req, fmt.Errorf("%w: indicators %d", led.ErrOutOfRange, b.Indicators)
	}
	if err := demo.Light(&req.Matrix, b.Indicators, b.Words...); err != nil {
		return req, err
	}
	if b.DurationMs == 0 && b.FadeIn == nil && b.FadeOut == nil {
		return req, nil
	}
	set := base
	if b.DurationMs != 0 {
		set.Duration = time.Duration(b.DurationMs) * time.Millisecond
	}
	if b.FadeIn != nil {
		set.FadeIn = *b.FadeIn
	}
	if b.FadeOut != nil {
		set.FadeOut = *b.FadeOut
	}
	req.Settings = &set
	return req, nil
}

func (s *Server) postDisplay(c *gin.Context) {
	var body displayBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	base, err := s.d.Engine.Settings()
	if err != nil {
		fail(c, err)
		return
	}
	req, err := body.request(base)
	if err != nil {
		fail(c, err)
		return
	}
	res, err := s.d.Engine.RequestDisplay(req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) getDiagnostics(c *gin.Context) {
	if s.d.Diag == nil {
		c.JSON(http.StatusOK, []diag.Diagnostic{})
		return
	}
	c.JSON(http.StatusOK, s.d.Diag.List())
}
