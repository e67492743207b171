package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/scanbridge/internal/bridge"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsWriteWait  = 10 * time.Second
)

// WebSocketRequest is a client message on /ws/decode.
//
//	{"type":"decode","image":"<base64>","formats":["QR_CODE"]}
//	{"type":"scan","prompt":"Scan the parcel label"}
//	{"type":"cancel"}
//
// A cancel only reaches scans started on the same connection: the one named by
// request_id, or all of them when it is empty. With nothing to cancel the reply
// is a cancel_response with status "idle"; otherwise the scan answers itself.
type WebSocketRequest struct {
	Type      string   `json:"type"` // "decode", "scan" or "cancel"
	RequestID string   `json:"request_id,omitempty"`
	Image     []byte   `json:"image,omitempty"`
	Prompt    string   `json:"prompt,omitempty"`
	Formats   []string `json:"formats,omitempty"`
	TryHarder bool     `json:"tryHarder,omitempty"`
}

func (r WebSocketRequest) scanRequest() bridge.ScanRequest {
	return bridge.ScanRequest{Prompt: r.Prompt, Formats: r.Formats, TryHarder: r.TryHarder}
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// WebSocketResponse answers a WebSocketRequest.
type WebSocketResponse struct {
	Type      string             `json:"type"`
	Status    string             `json:"status"` // "processing", "completed", "cancelled", "idle", "error"
	Result    *bridge.ScanResult `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	ErrorType string             `json:"error_type,omitempty"`
	RequestID string             `json:"request_id,omitempty"`
}

// lockedConn serializes writes; gorilla allows one concurrent writer.
type lockedConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *lockedConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(messageType, data)
}

var wsRequestSeq atomic.Uint64

// connScans tracks the in-flight scans of one connection by request id.
type connScans struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func (c *connScans) start(ctx context.Context, id string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.cancels == nil {
		c.cancels = make(map[string]context.CancelFunc)
	}
	c.cancels[id] = cancel
	c.mu.Unlock()
	return ctx, func() {
		c.mu.Lock()
		delete(c.cancels, id)
		c.mu.Unlock()
		cancel()
	}
}

// cancel stops the scan with the given id, or every scan when id is empty,
// and reports how many were stopped.
func (c *connScans) cancel(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for scanID, cancel := range c.cancels {
		if id == "" || scanID == id {
			cancel()
			delete(c.cancels, scanID)
			n++
		}
	}
	return n
}

// checkOrigin accepts any origin when CORS is open, otherwise only the configured one.
func (s *Server) checkOrigin(r *http.Request) bool {
	if s.corsOrigin == "" || s.corsOrigin == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || origin == s.corsOrigin
}

// decodeWebSocketHandler streams decode and scan requests over one connection.
func (s *Server) decodeWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	s.logger.Info("WebSocket client connected", "remote_addr", r.RemoteAddr)
	s.handleWebSocketConnection(conn)
	s.logger.Info("WebSocket client disconnected", "remote_addr", r.RemoteAddr)
}

func (s *Server) handleWebSocketConnection(conn *websocket.Conn) {
	conn.SetReadLimit(s.maxUploadMB * 1024 * 1024 * 2) // base64 overhead
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	out := &lockedConn{conn: conn}
	var scans connScans
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("WebSocket read error", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
		if messageType != websocket.TextMessage {
			continue
		}

		var req WebSocketRequest
		if err := json.Unmarshal(data, &req); err != nil {
			s.sendWebSocketError(out, "", "invalid_request", fmt.Sprintf("Failed to parse request: %v", err))
			continue
		}
		target := req.RequestID
		if req.RequestID == "" {
			req.RequestID = strconv.FormatUint(wsRequestSeq.Add(1), 10)
		}

		switch req.Type {
		case "decode":
			s.processWebSocketDecode(ctx, out, req)
		case "scan":
			// Scans block until a code is read, so they must not stall the read loop.
			scanCtx, done := scans.start(ctx, req.RequestID)
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer done()
				s.processWebSocketScan(scanCtx, out, req)
			}()
		case "cancel":
			// The scan's own response reports a successful cancel.
			if scans.cancel(target) == 0 {
				s.sendWebSocketResponse(out, WebSocketResponse{
					Type:      "cancel_response",
					Status:    "idle",
					RequestID: req.RequestID,
				})
			}
		default:
			s.sendWebSocketError(out, req.RequestID, "invalid_request", "Unsupported request type: "+req.Type)
		}
	}
}

func (s *Server) processWebSocketDecode(ctx context.Context, conn WebSocketConnWriter, req WebSocketRequest) {
	if len(req.Image) == 0 {
		s.sendWebSocketError(conn, req.RequestID, "invalid_request", "No image data provided")
		return
	}

	start := time.Now()
	res, err := s.facade.DecodeImage(ctx, req.Image, req.scanRequest())
	observeResult("websocket_decode", err, time.Since(start).Seconds())
	if err != nil {
		_, kind := errorStatus(err)
		s.sendWebSocketError(conn, req.RequestID, kind, err.Error())
		return
	}
	s.sendWebSocketResponse(conn, WebSocketResponse{
		Type:      "decode_response",
		Status:    "completed",
		Result:    &res,
		RequestID: req.RequestID,
	})
}

func (s *Server) processWebSocketScan(ctx context.Context, conn WebSocketConnWriter, req WebSocketRequest) {
	s.sendWebSocketResponse(conn, WebSocketResponse{
		Type:      "scan_response",
		Status:    "processing",
		RequestID: req.RequestID,
	})

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := s.facade.ScanContext(ctx, req.scanRequest())
	observeResult("websocket_scan", err, time.Since(start).Seconds())
	if err != nil {
		_, kind := errorStatus(err)
		s.sendWebSocketError(conn, req.RequestID, kind, err.Error())
		return
	}
	status := "completed"
	if res.Cancelled {
		status = "cancelled"
	}
	s.sendWebSocketResponse(conn, WebSocketResponse{
		Type:      "scan_response",
		Status:    status,
		Result:    &res,
		RequestID: req.RequestID,
	})
}

// sendWebSocketResponse sends a response message over WebSocket.
func (s *Server) sendWebSocketResponse(conn WebSocketConnWriter, response WebSocketResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		s.logger.Error("Failed to marshal WebSocket response", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug("Failed to send WebSocket message", "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

// sendWebSocketError sends an error message over WebSocket.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, requestID, errorType, message string) {
	s.sendWebSocketResponse(conn, WebSocketResponse{
		Type:      "error",
		Status:    "error",
		Error:     message,
		ErrorType: errorType,
		RequestID: requestID,
	})
}
