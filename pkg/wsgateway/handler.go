// Package wsgateway upgrades HTTP connections to WebSocket and streams a
// single Deployment's log lines and status transitions to the client,
// consuming pkg/logbroker's subscriber fan-out (§6 WS frames).
package wsgateway

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/CoderRahul01/unideploy/pkg/logbroker"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// DeploymentStatusGetter is the narrow deployment.Store view needed to seed
// a connecting client with the Deployment's current status before any new
// line arrives.
type DeploymentStatusGetter interface {
	GetStatus(ctx context.Context, id int64) (string, error)
}

// Subscriber is the narrow logbroker.Broker view the gateway depends on.
type Subscriber interface {
	Subscribe(ctx context.Context, deploymentID int64) <-chan logbroker.Line
}

// Frame is one JSON message pushed to the client, matching spec.md §6's
// {status, message?, log?, error?, domain?, autofix?} shape.
type Frame struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Log     string `json:"log,omitempty"`
	Error   string `json:"error,omitempty"`
	Domain  string `json:"domain,omitempty"`
	Autofix string `json:"autofix,omitempty"`
}

// Handler upgrades and serves /ws/deploy/{id}.
type Handler struct {
	deployments DeploymentStatusGetter
	logs        Subscriber
	upgrader    websocket.Upgrader
	logger      *slog.Logger
}

// NewHandler constructs a Handler. allowedOrigins mirrors the HTTP server's
// CORS configuration (§6 ALLOWED_ORIGINS); an empty list allows any origin,
// matching local/dev use.
func NewHandler(deployments DeploymentStatusGetter, logs Subscriber, allowedOrigins []string, logger *slog.Logger) *Handler {
	return &Handler{
		deployments: deployments,
		logs:        logs,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
	}
}

func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// Mount registers the WS route on r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/ws/deploy/{id}", h.handleWS)
}

func (h *Handler) handleWS(w http.ResponseWriter, r *http.Request) {
	deploymentID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid deployment id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "deployment_id", deploymentID, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Client messages are not part of the protocol; drain and discard so
	// the connection's read deadline/close frames are still handled, and
	// notice disconnects promptly.
	go h.drainClient(conn, cancel)

	status, err := h.deployments.GetStatus(ctx, deploymentID)
	if err != nil {
		h.logger.Warn("loading initial deployment status", "deployment_id", deploymentID, "error", err)
		status = "unknown"
	}
	if err := h.write(conn, Frame{Status: status}); err != nil {
		return
	}

	lines := h.logs.Subscribe(ctx, deploymentID)
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case line, ok := <-lines:
			if !ok {
				return
			}
			frame := translate(status, line)
			status = frame.Status
			if err := h.write(conn, frame); err != nil {
				return
			}
		}
	}
}

func (h *Handler) drainClient(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, frame Frame) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(frame)
}

// translate maps a logbroker.Line onto the client-facing Frame shape,
// threading the last known status through since stdout/stderr lines don't
// carry one.
func translate(currentStatus string, line logbroker.Line) Frame {
	if line.Stream != "system" {
		return Frame{Status: currentStatus, Log: line.Text}
	}

	if target, ok := strings.CutPrefix(line.Text, "status: "); ok {
		return Frame{Status: target}
	}

	if domain, ok := strings.CutPrefix(line.Text, "deployment live at https://"); ok {
		return Frame{Status: currentStatus, Message: line.Text, Domain: domain}
	}

	if strings.HasPrefix(line.Text, "failed: ") {
		return Frame{Status: currentStatus, Error: strings.TrimPrefix(line.Text, "failed: ")}
	}

	if strings.HasPrefix(line.Text, "autofix proposed") {
		return Frame{Status: currentStatus, Autofix: line.Text}
	}

	return Frame{Status: currentStatus, Message: line.Text}
}
