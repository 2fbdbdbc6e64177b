package folio

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/golang/glog"
)

type ConnectionSettings struct {
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	PingTimeout  time.Duration
	SendTimeout  time.Duration
	// buffered frames on the send path
	SendBufferSize int
}

func DefaultConnectionSettings() *ConnectionSettings {
	return &ConnectionSettings{
		WriteTimeout:   5 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingTimeout:    15 * time.Second,
		SendTimeout:    5 * time.Second,
		SendBufferSize: 32,
	}
}

// Connection is the server side of one client socket. It owns the
// authenticated flag and the function registry for that client; no
// connection can read another's registry. Both die with the socket.
type Connection struct {
	ctx    context.Context
	cancel context.CancelFunc

	ws            *websocket.Conn
	authenticated bool

	send chan []byte

	stateMutex sync.Mutex
	// token -> callable. nil after close, so stale tokens fail locally.
	functions map[string]RemoteFunc

	settings *ConnectionSettings
}

func newConnection(ctx context.Context, ws *websocket.Conn, authenticated bool, settings *ConnectionSettings) *Connection {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Connection{
		ctx:           cancelCtx,
		cancel:        cancel,
		ws:            ws,
		authenticated: authenticated,
		send:          make(chan []byte, settings.SendBufferSize),
		functions:     map[string]RemoteFunc{},
		settings:      settings,
	}
}

func (self *Connection) Done() <-chan struct{} {
	return self.ctx.Done()
}

// sendFrame enqueues one outbound frame. Backpressure past the send
// buffer closes the connection, so the client never waits on a frame
// that was silently dropped.
func (self *Connection) sendFrame(frame []byte) {
	select {
	case <-self.ctx.Done():
	case self.send <- frame:
	case <-time.After(self.settings.SendTimeout):
		glog.Infof("[t]send timeout, close ->\n")
		self.cancel()
	}
}

func (self *Connection) writePump() {
	defer self.cancel()

	for {
		select {
		case <-self.ctx.Done():
			return
		case frame, ok := <-self.send:
			if !ok {
				return
			}
			self.ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
			if err := self.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				// a write deadline timeout cannot be recovered
				glog.Infof("[t]-> error = %s\n", err)
				return
			}
			glog.V(2).Infof("[t]->\n")
		case <-time.After(self.settings.PingTimeout):
			self.ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
			if err := self.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(self.settings.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

// readPump processes inbound frames in arrival order. Dispatch may
// complete out of order; correlation is by id only.
func (self *Connection) readPump(api *Api) {
	defer self.cancel()

	self.ws.SetPongHandler(func(string) error {
		self.ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		return nil
	})

	for {
		select {
		case <-self.ctx.Done():
			return
		default:
		}

		self.ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		messageType, message, err := self.ws.ReadMessage()
		if err != nil {
			glog.V(1).Infof("[t]<- error = %s\n", err)
			return
		}
		switch messageType {
		case websocket.TextMessage:
			glog.V(2).Infof("[t]<-\n")
			api.dispatch(self.ctx, self, message)
		default:
			glog.V(2).Infof("[t]other=%d <-\n", messageType)
		}
	}
}

// Close tears the connection down and invalidates every function token
// it minted. Invoking a stale token afterward fails locally.
func (self *Connection) Close() {
	self.cancel()

	self.stateMutex.Lock()
	self.functions = nil
	self.stateMutex.Unlock()

	self.ws.Close()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// the bearer token is the access control, not the origin
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWs upgrades one socket and runs it to completion. Sockets that
// fail the gate are accepted for upgrade and closed immediately with a
// policy violation; no frame is ever dispatched for them.
func (self *Server) handleWs(w http.ResponseWriter, r *http.Request) {
	authenticated := self.gate.Authenticate(r)

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("[t]upgrade error = %s\n", err)
		return
	}

	if !authenticated {
		message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized")
		ws.WriteControl(websocket.CloseMessage, message, time.Now().Add(self.connectionSettings.WriteTimeout))
		ws.Close()
		glog.V(1).Infof("[t]unauthenticated close\n")
		return
	}

	conn := newConnection(self.ctx, ws, true, self.connectionSettings)
	defer conn.Close()

	go conn.writePump()
	conn.readPump(self.api)
}
