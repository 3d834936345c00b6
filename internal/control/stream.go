package control

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	diag "github.com/coreman2200/wordclock/internal/diagnostics"
	"github.com/coreman2200/wordclock/internal/led"
)

const writeWait = 200 * time.Millisecond

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// frame is one message on /ws/frames: the last value written to every cell.
type frame struct {
	T       int64     `json:"t"`
	FrameID uint64    `json:"frame_id"`
	Cells   led.Frame `json:"cells"`
	Active  int       `json:"active"`
}

func (s *Server) framesWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debug().Err(err).Msg("frames upgrade")
		return
	}
	s.cmu.Lock()
	s.clients[conn] = true
	s.cmu.Unlock()
	// new clients see the current face right away
	s.send(conn, s.frameMessage())
	go s.drain(conn, s.clients)
}

func (s *Server) diagWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debug().Err(err).Msg("diag upgrade")
		return
	}
	s.cmu.Lock()
	s.diagClients[conn] = true
	s.cmu.Unlock()
	go s.drain(conn, s.diagClients)
}

// drain reads until the peer goes away, then forgets the connection.
func (s *Server) drain(conn *websocket.Conn, set map[*websocket.Conn]bool) {
	defer func() {
		s.cmu.Lock()
		delete(set, conn)
		s.cmu.Unlock()
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) frameMessage() []byte {
	s.cmu.Lock()
	s.frameID++
	id := s.frameID
	s.cmu.Unlock()
	b, _ := json.Marshal(frame{
		T:       time.Now().UnixNano(),
		FrameID: id,
		Cells:   s.d.Writer.Snapshot(),
		Active:  s.d.Engine.Stats().Active,
	})
	return b
}

func (s *Server) send(conn *websocket.Conn, b []byte) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		log.Debug().Err(err).Msg("websocket write")
	}
}

func (s *Server) snapshot(set map[*websocket.Conn]bool) []*websocket.Conn {
	s.cmu.RLock()
	defer s.cmu.RUnlock()
	conns := make([]*websocket.Conn, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	return conns
}

// Broadcast sends the current hardware frame to every /ws/frames client.
func (s *Server) Broadcast() {
	conns := s.snapshot(s.clients)
	if len(conns) == 0 {
		return
	}
	b := s.frameMessage()
	for _, c := range conns {
		s.send(c, b)
	}
}

// Stream broadcasts every interval until ctx ends.
func (s *Server) Stream(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Broadcast()
		}
	}
}

func (s *Server) pushDiag(d diag.Diagnostic) {
	conns := s.snapshot(s.diagClients)
	if len(conns) == 0 {
		return
	}
	b, _ := json.Marshal(d)
	for _, c := range conns {
		s.send(c, b)
	}
}
