package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/MeKo-Tech/scanbridge/internal/bridge"
)

// Commands sent to the remote device.
const (
	CommandStartRead = "startRead"
	CommandStopRead  = "stopRead"
)

// DisconnectReason is reported for sessions whose device went away.
const DisconnectReason = "remote device disconnected"

const (
	remoteWriteWait  = 10 * time.Second
	remotePongWait   = 60 * time.Second
	remotePingPeriod = 30 * time.Second
)

var (
	remoteDevicesConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scanbridge_remote_devices_connected",
			Help: "Number of remote scan devices currently connected",
		},
	)

	remoteMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scanbridge_remote_messages_total",
			Help: "Total number of remote device messages by direction",
		},
		[]string{"direction"},
	)
)

// RemoteAdapter forwards sessions to a device (phone, handheld scanner app)
// connected over WebSocket. One device is served at a time.
//
// The device receives "startRead <id> <request json>" and "stopRead <id>" and
// answers with wire messages "<id> <event> <payload...>".
type RemoteAdapter struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conn   *websocket.Conn
	wmu    sync.Mutex // serializes writes to conn
	ready  chan struct{}
	sink   bridge.EventSink
	active map[uint64]struct{}
}

// NewRemoteAdapter creates an adapter that accepts a device through ServeHTTP.
// checkOrigin may be nil to accept any origin.
func NewRemoteAdapter(logger *slog.Logger, checkOrigin func(*http.Request) bool) *RemoteAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &RemoteAdapter{
		logger: logger.With("adapter", NameRemote),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		ready:  make(chan struct{}),
		active: make(map[uint64]struct{}),
	}
}

func (a *RemoteAdapter) Name() string { return NameRemote }

// Connected reports whether a device is attached.
func (a *RemoteAdapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn != nil
}

// WaitForDevice blocks until a device connects or ctx is done.
func (a *RemoteAdapter) WaitForDevice(ctx context.Context) error {
	a.mu.Lock()
	ready := a.ready
	a.mu.Unlock()
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeHTTP upgrades the request and serves the device until it disconnects.
func (a *RemoteAdapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	busy := a.conn != nil
	a.mu.Unlock()
	if busy {
		http.Error(w, "a device is already connected", http.StatusConflict)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Error("Failed to upgrade device connection", "error", err)
		return
	}

	a.mu.Lock()
	if a.conn != nil {
		a.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "device already connected"),
			time.Now().Add(remoteWriteWait))
		_ = conn.Close()
		return
	}
	a.conn = conn
	close(a.ready)
	a.mu.Unlock()

	remoteDevicesConnected.Inc()
	defer remoteDevicesConnected.Dec()
	a.logger.Info("Remote device connected", "remote_addr", r.RemoteAddr)

	a.serve(conn)
	a.disconnect(conn)
}

func (a *RemoteAdapter) serve(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(remotePongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(remotePongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(remotePingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				a.wmu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(remoteWriteWait))
				a.wmu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				a.logger.Warn("Remote device read failed", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		remoteMessagesTotal.WithLabelValues("received").Inc()
		_ = conn.SetReadDeadline(time.Now().Add(remotePongWait))
		a.dispatch(string(data))
	}
}

// dispatch parses one device message and forwards it to the coordinator,
// which drops events for sessions that are no longer live.
func (a *RemoteAdapter) dispatch(msg string) {
	ev, err := bridge.ParseMessage(msg)
	if err != nil {
		a.logger.Warn("Ignoring malformed device message", "error", err)
		return
	}
	a.mu.Lock()
	sink := a.sink
	if ev.Kind == bridge.EventEnded || ev.Kind == bridge.EventError {
		delete(a.active, ev.RequestID)
	}
	a.mu.Unlock()
	if sink == nil {
		a.logger.Debug("Device event without a session", "request_id", ev.RequestID, "event", ev.Kind.String())
		return
	}
	sink.Emit(ev)
}

// disconnect detaches conn and fails every session still open on it.
func (a *RemoteAdapter) disconnect(conn *websocket.Conn) {
	_ = conn.Close()

	a.mu.Lock()
	if a.conn != conn {
		a.mu.Unlock()
		return
	}
	a.conn = nil
	a.ready = make(chan struct{})
	sink := a.sink
	ids := make([]uint64, 0, len(a.active))
	for id := range a.active {
		ids = append(ids, id)
	}
	clear(a.active)
	a.mu.Unlock()

	a.logger.Info("Remote device disconnected", "open_sessions", len(ids))
	if sink == nil {
		return
	}
	for _, id := range ids {
		sink.Emit(bridge.Failed(id, DisconnectReason))
	}
}

func (a *RemoteAdapter) send(text string) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: no remote device connected", bridge.ErrNoWindowOrHardware)
	}

	a.wmu.Lock()
	defer a.wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(remoteWriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return err
	}
	remoteMessagesTotal.WithLabelValues("sent").Inc()
	return nil
}

// StartSession implements bridge.Adapter.
func (a *RemoteAdapter) StartSession(_ context.Context, id uint64, req bridge.ScanRequest, sink bridge.EventSink) error {
	if sink == nil {
		return errors.New("remote: nil sink")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}

	a.mu.Lock()
	if a.conn == nil {
		a.mu.Unlock()
		return fmt.Errorf("%w: no remote device connected", bridge.ErrNoWindowOrHardware)
	}
	a.sink = sink
	a.active[id] = struct{}{}
	a.mu.Unlock()

	if err := a.send(CommandStartRead + " " + strconv.FormatUint(id, 10) + " " + string(payload)); err != nil {
		a.mu.Lock()
		delete(a.active, id)
		a.mu.Unlock()
		return err
	}
	return nil
}

// StopSession implements bridge.Adapter.
func (a *RemoteAdapter) StopSession(id uint64) {
	a.mu.Lock()
	_, ok := a.active[id]
	a.mu.Unlock()
	if !ok {
		return
	}
	if err := a.send(CommandStopRead + " " + strconv.FormatUint(id, 10)); err != nil {
		a.logger.Warn("Failed to stop remote read", "request_id", id, "error", err)
	}
}
