package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ReconnectDelay is the fixed delay between reconnect attempts. Per
// spec this is deliberately flat, not exponential: the gateway is a
// local/trusted peer and a long-lived outage needs an operator anyway.
const ReconnectDelay = 5 * time.Second

// State is one of the Receiver's state-machine states.
type State int

const (
	Disconnected State = iota
	Connecting
	Receiving
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Receiving:
		return "receiving"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// Handler processes one decoded payload from the receive stream. The
// loop awaits Handler before reading the next frame, so a slow handler
// naturally throttles intake — there is no per-message parallelism
// inside the loop, per spec §4.7.
type Handler func(ctx context.Context, payload []byte)

// Receiver owns the WebSocket connection to the gateway's receive
// endpoint exclusively; no other component opens or mutates it.
type Receiver struct {
	endpoint string
	account  string
	handler  Handler
	logger   *slog.Logger
	dialer   *websocket.Dialer

	stateMu sync.Mutex
	state   State
}

func (r *Receiver) setState(s State) {
	r.stateMu.Lock()
	r.state = s
	r.stateMu.Unlock()
}

// State reports the receiver's current state-machine state. Safe for
// concurrent use; intended for the status endpoint.
func (r *Receiver) State() State {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.state
}

// NewReceiver builds a Receiver dialing ws://{endpoint}/v1/receive/{account}.
// handler is invoked once per received frame.
func NewReceiver(endpoint, account string, handler Handler, logger *slog.Logger) *Receiver {
	return &Receiver{
		endpoint: endpoint,
		account:  account,
		handler:  handler,
		logger:   logger,
		dialer: &websocket.Dialer{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		state: Disconnected,
	}
}

// Run drives the Disconnected → Connecting → Receiving → Disconnected
// cycle until ctx is cancelled. On any connect or receive error it
// logs, transitions to Disconnected, sleeps ReconnectDelay, and tries
// again — the retry delay is fixed, never exponential, per spec §4.7.
func (r *Receiver) Run(ctx context.Context) {
	url := "ws://" + r.endpoint + "/v1/receive/" + r.account

	for {
		if ctx.Err() != nil {
			r.setState(Disconnected)
			return
		}

		connID, err := uuid.NewV7()
		if err != nil {
			connID = uuid.New()
		}
		log := r.logger.With("connId", connID.String())

		r.setState(Connecting)
		conn, _, dialErr := r.dialer.DialContext(ctx, url, nil)
		if dialErr != nil {
			log.Error("receive loop: connect failed", "error", dialErr, "url", url)
			r.setState(Disconnected)
			if !r.sleepOrDone(ctx, ReconnectDelay) {
				return
			}
			continue
		}

		r.setState(Receiving)
		// Unblock a pending read as soon as ctx is cancelled.
		readDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				_ = conn.SetReadDeadline(time.Now())
			case <-readDone:
			}
		}()
		closeReason := r.readLoop(ctx, conn)
		close(readDone)

		r.setState(Closing)
		if ctx.Err() != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Host shutting down"),
				time.Now().Add(time.Second))
			conn.Close()
			r.setState(Disconnected)
			return
		}

		conn.Close()
		r.setState(Disconnected)

		if closeReason == nil {
			// Server-initiated normal close; reconnect after the same
			// fixed delay as any other disconnect.
		} else {
			log.Error("receive loop: connection lost", "error", closeReason)
		}

		if !r.sleepOrDone(ctx, ReconnectDelay) {
			return
		}
	}
}

// readLoop reads frames until the connection closes or ctx is
// cancelled, dispatching each to the handler. Returns nil for a
// server-initiated normal/going-away close, or the triggering error
// otherwise.
func (r *Receiver) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		r.handler(ctx, payload)
	}
}

// sleepOrDone waits for d or ctx cancellation, whichever comes first.
// Returns false if ctx was cancelled.
func (r *Receiver) sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
