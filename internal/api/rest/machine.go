package rest

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/KevinKickass/VibeChessCore/internal/control"
	"github.com/KevinKickass/VibeChessCore/internal/dispatch"
	"github.com/KevinKickass/VibeChessCore/internal/protocol"
	"github.com/KevinKickass/VibeChessCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxCommandBody = 4096

// CommandRequest is the JSON form of a command line.
type CommandRequest struct {
	ID       string `json:"id"`
	Type     string `json:"type,omitempty"`
	Notation string `json:"notation,omitempty"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
	Piece    string `json:"piece,omitempty"`
	Source   string `json:"source,omitempty"`
}

func (r CommandRequest) command() protocol.Command {
	source := r.Source
	if source == "" {
		source = string(control.SourceREST)
	}
	return protocol.Command{
		ID:       r.ID,
		Type:     protocol.Type(r.Type),
		Notation: r.Notation,
		From:     strings.ToLower(r.From),
		To:       strings.ToLower(r.To),
		Piece:    r.Piece,
		Source:   source,
	}
}

// GET /api/v1/machine/status
func (s *Server) getMachineStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Status.Status())
}

// POST /api/v1/machine/command
//
// The command is queued for the control loop; its acknowledgements arrive on
// the live websocket like those of any other transport.
func (s *Server) executeMachineCommand(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCommandBody))
	if err != nil {
		respondError(c, types.CodeCommandInvalid, "Failed to read request body", err.Error())
		return
	}

	if err := s.validator.validate(body); err != nil {
		respondError(c, types.CodeCommandInvalid, "Invalid command", err.Error())
		return
	}

	var req CommandRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(c, types.CodeCommandInvalid, "Invalid request body", err.Error())
		return
	}
	line := req.command().Line()

	if !s.deps.Intake.Submit(control.Line{Text: line, Source: control.SourceREST}) {
		s.logger.Warn("Inbox full, command rejected", zap.String("id", req.ID))
		respondError(c, types.CodeCommandBusy, dispatch.ReasonBusy, nil)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"id":   req.ID,
		"line": line,
	})
}

// GET /api/v1/machine/journal?limit=n
func (s *Server) getJournal(c *gin.Context) {
	if s.deps.History == nil {
		respondError(c, types.CodeJournalDisabled, "Move journal not enabled", nil)
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			respondError(c, types.CodeJournalLimit, "limit must be between 1 and 500", v)
			return
		}
		limit = n
	}

	moves, err := s.deps.History.RecentMoves(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list moves", zap.Error(err))
		respondError(c, types.CodeJournalFailed, "Failed to list moves", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"moves": moves,
		"count": len(moves),
	})
}
