package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/viable-systems/warden/internal/infrastructure/logging"
	"github.com/viable-systems/warden/internal/infrastructure/monitoring"
	"github.com/viable-systems/warden/internal/sandbox"
	"github.com/viable-systems/warden/internal/shared/id"
	"github.com/viable-systems/warden/internal/shared/utils"
)

// Runner is the rich engine surface: per-invocation overrides plus
// compile-only validation. The wasm engine implements it; the
// backing-less executor does not.
type Runner interface {
	Run(ctx context.Context, inv sandbox.Invocation) (sandbox.Value, error)
	Validate(ctx context.Context, module []byte) error
	CacheStats() (hits, misses uint64, size int)
}

// Handlers serves the invocation API
type Handlers struct {
	executor       sandbox.Executor
	runner         Runner // nil when the engine is "none"
	engineName     string
	instance       string
	profiles       *sandbox.Profiles
	defaultProfile string
	metrics        *monitoring.Metrics
	logger         *logging.Logger
}

// NewHandlers creates the API handler set. runner may be nil, in which
// case every invocation goes through the plain executor. instance is the
// per-boot daemon identity reported by /health.
func NewHandlers(executor sandbox.Executor, runner Runner, engineName, instance string, profiles *sandbox.Profiles, defaultProfile string, metrics *monitoring.Metrics, logger *logging.Logger) *Handlers {
	return &Handlers{
		executor:       executor,
		runner:         runner,
		engineName:     engineName,
		instance:       instance,
		profiles:       profiles,
		defaultProfile: defaultProfile,
		metrics:        metrics,
		logger:         logger,
	}
}

// ExecuteRequest is one invocation submission
type ExecuteRequest struct {
	Module    string          `json:"module" binding:"required"`
	Encoding  string          `json:"encoding,omitempty"` // "" or "gzip"
	Function  string          `json:"function" binding:"required"`
	Args      []sandbox.Value `json:"args"`
	Profile   string          `json:"profile,omitempty"`
	TimeoutMS int             `json:"timeout_ms,omitempty"`
}

// ErrorBody is the wire form of a classified failure
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ExecuteResponse is the invocation outcome
type ExecuteResponse struct {
	ID         string         `json:"id"`
	OK         bool           `json:"ok"`
	Value      *sandbox.Value `json:"value,omitempty"`
	Error      *ErrorBody     `json:"error,omitempty"`
	Stdout     string         `json:"stdout,omitempty"`
	Stderr     string         `json:"stderr,omitempty"`
	DurationMS float64        `json:"duration_ms"`
}

// Execute handles POST /execute
func (h *Handlers) Execute(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	module, err := DecodeModule(req.Module, req.Encoding)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	caps, ok := h.resolveProfile(req.Profile)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown profile: " + req.Profile})
		return
	}

	invID := id.NewInvocationID()
	timer := monitoring.NewTimer(h.metrics, h.engineName, len(module))

	var (
		result         sandbox.Value
		stdout, stderr bytes.Buffer
		start          = time.Now()
	)

	if h.runner != nil {
		result, err = h.runner.Run(c.Request.Context(), sandbox.Invocation{
			Module:   module,
			Function: req.Function,
			Args:     req.Args,
			Caps:     &caps,
			Stdout:   &stdout,
			Stderr:   &stderr,
			Timeout:  time.Duration(req.TimeoutMS) * time.Millisecond,
		})
	} else {
		result, err = h.executor.Evaluate(c.Request.Context(), module, req.Function, req.Args)
	}

	resp := ExecuteResponse{
		ID:         invID.String(),
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMS: float64(time.Since(start).Microseconds()) / 1000.0,
	}

	if err != nil {
		kind := sandbox.KindOf(err)
		timer.Stop(string(kind))
		h.recordCache()

		h.logger.Warn("invocation failed",
			zap.String("id", invID.String()),
			zap.String("module", utils.ShortDigest(utils.ModuleDigest(module))),
			zap.String("function", req.Function),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)

		resp.Error = &ErrorBody{Kind: string(kind), Message: err.Error()}
		c.JSON(statusForKind(kind), resp)
		return
	}

	timer.Stop("")
	h.recordCache()

	resp.OK = true
	resp.Value = &result
	c.JSON(http.StatusOK, resp)
}

// ValidateRequest is a compile-only check submission
type ValidateRequest struct {
	Module   string `json:"module" binding:"required"`
	Encoding string `json:"encoding,omitempty"`
}

// Validate handles POST /validate
func (h *Handlers) Validate(c *gin.Context) {
	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	module, err := DecodeModule(req.Module, req.Encoding)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.runner == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": ErrorBody{
			Kind:    string(sandbox.NotImplemented),
			Message: "no engine configured",
		}})
		return
	}

	if err := h.runner.Validate(c.Request.Context(), module); err != nil {
		kind := sandbox.KindOf(err)
		c.JSON(statusForKind(kind), gin.H{"error": ErrorBody{Kind: string(kind), Message: err.Error()}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Profiles handles GET /profiles
func (h *Handlers) Profiles(c *gin.Context) {
	names := h.profiles.Names()
	out := make(map[string]sandbox.Capabilities, len(names))
	for _, name := range names {
		if caps, ok := h.profiles.Get(name); ok {
			out[name] = caps
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"default":  h.defaultProfile,
		"profiles": out,
	})
}

// Health handles GET /health
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"engine":   h.engineName,
		"instance": h.instance,
	})
}

// resolveProfile maps a request profile name to its capability set
func (h *Handlers) resolveProfile(name string) (sandbox.Capabilities, bool) {
	if name == "" {
		name = h.defaultProfile
	}
	return h.profiles.Get(name)
}

func (h *Handlers) recordCache() {
	if h.runner == nil {
		return
	}
	hits, misses, _ := h.runner.CacheStats()
	h.metrics.RecordCache(hits, misses)
}

// DecodeModule unwraps the base64 (optionally gzip-compressed) module
// bytes shared by the HTTP and WebSocket surfaces
func DecodeModule(encoded, encoding string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, sandbox.WrapError(sandbox.InvalidModule, err, "module is not valid base64")
	}

	switch encoding {
	case "":
		return raw, nil
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, sandbox.WrapError(sandbox.InvalidModule, err, "module is not valid gzip")
		}
		defer zr.Close()
		module, err := io.ReadAll(zr)
		if err != nil {
			return nil, sandbox.WrapError(sandbox.InvalidModule, err, "module gzip stream is corrupt")
		}
		return module, nil
	default:
		return nil, sandbox.Errorf(sandbox.InvalidModule, "unsupported module encoding %q", encoding)
	}
}

// statusForKind maps the error taxonomy onto HTTP statuses
func statusForKind(kind sandbox.ErrorKind) int {
	switch kind {
	case sandbox.InvalidModule, sandbox.ArityMismatch, sandbox.TypeMismatch:
		return http.StatusBadRequest
	case sandbox.FunctionNotFound:
		return http.StatusNotFound
	case sandbox.ResourceExceeded:
		return http.StatusRequestTimeout
	case sandbox.ExecutionTrap:
		return http.StatusUnprocessableEntity
	case sandbox.NotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
