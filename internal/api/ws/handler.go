package ws

import (
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apihttp "github.com/viable-systems/warden/internal/api/http"
	"github.com/viable-systems/warden/internal/infrastructure/logging"
	"github.com/viable-systems/warden/internal/infrastructure/monitoring"
	"github.com/viable-systems/warden/internal/sandbox"
	"github.com/viable-systems/warden/internal/shared/id"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in dev
	},
}

// Handler streams invocation output over WebSocket connections
type Handler struct {
	runner         apihttp.Runner
	profiles       *sandbox.Profiles
	defaultProfile string
	metrics        *monitoring.Metrics
	logger         *logging.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(runner apihttp.Runner, profiles *sandbox.Profiles, defaultProfile string, metrics *monitoring.Metrics, logger *logging.Logger) *Handler {
	return &Handler{
		runner:         runner,
		profiles:       profiles,
		defaultProfile: defaultProfile,
		metrics:        metrics,
		logger:         logger,
	}
}

// request is one streamed execute submission
type request struct {
	Type      string          `json:"type"`
	Module    string          `json:"module"`
	Encoding  string          `json:"encoding,omitempty"`
	Function  string          `json:"function"`
	Args      []sandbox.Value `json:"args"`
	Profile   string          `json:"profile,omitempty"`
	TimeoutMS int             `json:"timeout_ms,omitempty"`
}

// event is one server-to-client message
type event struct {
	Type       string             `json:"type"`
	ID         string             `json:"id,omitempty"`
	Data       string             `json:"data,omitempty"`
	Value      *sandbox.Value     `json:"value,omitempty"`
	Error      *apihttp.ErrorBody `json:"error,omitempty"`
	DurationMS float64            `json:"duration_ms,omitempty"`
}

// conn serializes writes: the stdout/stderr pumps and the request loop
// share one websocket
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(metrics *monitoring.Metrics, ev event) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	metrics.WSMessages.WithLabelValues("out", ev.Type).Inc()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// HandleConnection handles WebSocket upgrade and the execute loop
func (h *Handler) HandleConnection(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	connID := id.NewConnectionID()
	h.metrics.WSConnections.Inc()
	defer h.metrics.WSConnections.Dec()

	h.logger.Info("websocket connected", zap.String("conn", connID.String()))
	wsConn := &conn{ws: ws}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			h.logger.Info("websocket closed", zap.String("conn", connID.String()))
			return
		}
		h.metrics.WSMessages.WithLabelValues("in", "execute").Inc()

		var req request
		if err := sonic.Unmarshal(data, &req); err != nil {
			_ = wsConn.send(h.metrics, event{Type: "error", Error: &apihttp.ErrorBody{
				Kind:    string(sandbox.InvalidModule),
				Message: "invalid request: " + err.Error(),
			}})
			continue
		}
		if req.Type != "" && req.Type != "execute" {
			_ = wsConn.send(h.metrics, event{Type: "error", Error: &apihttp.ErrorBody{
				Kind:    string(sandbox.Internal),
				Message: "unknown message type: " + req.Type,
			}})
			continue
		}

		h.execute(c, wsConn, req)
	}
}

// execute runs one streamed invocation, pumping guest output as it appears
func (h *Handler) execute(c *gin.Context, wsConn *conn, req request) {
	module, err := apihttp.DecodeModule(req.Module, req.Encoding)
	if err != nil {
		kind := sandbox.KindOf(err)
		_ = wsConn.send(h.metrics, event{Type: "error", Error: &apihttp.ErrorBody{
			Kind: string(kind), Message: err.Error(),
		}})
		return
	}

	profile := req.Profile
	if profile == "" {
		profile = h.defaultProfile
	}
	caps, ok := h.profiles.Get(profile)
	if !ok {
		// Client mistake, classified like any other malformed submission
		_ = wsConn.send(h.metrics, event{Type: "error", Error: &apihttp.ErrorBody{
			Kind: string(sandbox.InvalidModule), Message: "unknown profile: " + profile,
		}})
		return
	}

	invID := id.NewInvocationID()
	_ = wsConn.send(h.metrics, event{Type: "accepted", ID: invID.String()})

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	var pumps sync.WaitGroup
	pumps.Add(2)
	go h.pump(&pumps, wsConn, invID.String(), "stdout", stdoutR)
	go h.pump(&pumps, wsConn, invID.String(), "stderr", stderrR)

	timer := monitoring.NewTimer(h.metrics, "wasm", len(module))
	start := time.Now()

	result, err := h.runner.Run(c.Request.Context(), sandbox.Invocation{
		Module:   module,
		Function: req.Function,
		Args:     req.Args,
		Caps:     &caps,
		Stdout:   stdoutW,
		Stderr:   stderrW,
		Timeout:  time.Duration(req.TimeoutMS) * time.Millisecond,
	})

	_ = stdoutW.Close()
	_ = stderrW.Close()
	pumps.Wait()

	durationMS := float64(time.Since(start).Microseconds()) / 1000.0

	if err != nil {
		kind := sandbox.KindOf(err)
		timer.Stop(string(kind))
		_ = wsConn.send(h.metrics, event{
			Type:       "error",
			ID:         invID.String(),
			Error:      &apihttp.ErrorBody{Kind: string(kind), Message: err.Error()},
			DurationMS: durationMS,
		})
		return
	}

	timer.Stop("")
	_ = wsConn.send(h.metrics, event{
		Type:       "result",
		ID:         invID.String(),
		Value:      &result,
		DurationMS: durationMS,
	})
}

// pump forwards one guest output stream as it is produced
func (h *Handler) pump(wg *sync.WaitGroup, wsConn *conn, invID, stream string, r io.Reader) {
	defer wg.Done()

	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			_ = wsConn.send(h.metrics, event{
				Type: stream,
				ID:   invID,
				Data: string(buf[:n]),
			})
		}
		if err != nil {
			return
		}
	}
}
