package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/nghyane/llm-mux/internal/api/handlers/management"
	log "github.com/nghyane/llm-mux/internal/logging"
	"github.com/nghyane/llm-mux/internal/provider"
	"github.com/nghyane/llm-mux/internal/runtime/executor"
)

func (s *Server) authStatus() management.AuthStatusResponse {
	lastRefresh := func(auth *provider.Auth) string {
		t := executor.TokenExpiry(auth.Metadata)
		if t.IsZero() {
			return ""
		}
		return t.Format("2006-01-02T15:04:05Z07:00")
	}
	return management.BuildAuthStatus(s.registry.Auths, lastRefresh)
}

func (s *Server) handleManagementAuthStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.authStatus())
}

// managementWSUpgrader upgrades the live auth-status channel; the management
// group already sits behind authMiddleware, so the origin check stays
// permissive the way a same-origin dashboard expects.
var managementWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// managementAuthStreamInterval is how often the connected dashboard gets a
// fresh snapshot; the provider registry has no change-notification hook, so
// this polls rather than pushing on write.
const managementAuthStreamInterval = 5 * time.Second

// handleManagementAuthStream upgrades to a websocket and pushes the same
// payload as handleManagementAuthStatus on a timer, so a local dashboard can
// show credential state live instead of polling the REST endpoint itself.
func (s *Server) handleManagementAuthStream(c *gin.Context) {
	conn, err := managementWSUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warnf("management: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(managementAuthStreamInterval)
	defer ticker.Stop()

	if err := conn.WriteJSON(s.authStatus()); err != nil {
		return
	}
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteJSON(s.authStatus()); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
