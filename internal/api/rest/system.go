package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// SystemStatus summarizes the process for operators.
type SystemStatus struct {
	Uptime       string `json:"uptime"`
	State        string `json:"state"`
	Stage        string `json:"stage,omitempty"`
	LiveClients  int    `json:"live_clients"`
	EventClients int    `json:"event_clients"`
	Journal      bool   `json:"journal"`
	Auth         bool   `json:"auth"`
}

// GET /api/v1/system/status
func (s *Server) getSystemStatus(c *gin.Context) {
	st := s.deps.Status.Status()
	status := SystemStatus{
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		State:   string(st.State),
		Stage:   st.Stage,
		Journal: s.deps.History != nil,
		Auth:    s.deps.Auth != nil,
	}
	if s.deps.Live != nil {
		status.LiveClients = s.deps.Live.ClientCount()
	}
	if s.deps.Events != nil {
		status.EventClients = s.deps.Events.ClientCount()
	}
	c.JSON(http.StatusOK, status)
}
