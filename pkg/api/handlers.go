package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/finbase/stockpulse/pkg/manager"
	"github.com/finbase/stockpulse/pkg/steps"
	"github.com/finbase/stockpulse/pkg/types"
)

type startResponse struct {
	AnalysisID string       `json:"analysis_id"`
	Status     types.Status `json:"status"`
	Message    string       `json:"message"`
}

type controlResponse struct {
	AnalysisID string `json:"analysis_id"`
	Success    bool   `json:"success"`
	Message    string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleStart(c *gin.Context) {
	var req types.AnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	taskID, err := s.mgr.StartTask(c.Request.Context(), req)
	if err != nil {
		var verr *types.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, errorResponse{Error: verr.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, startResponse{
		AnalysisID: taskID,
		Status:     types.StatusPending,
		Message:    "analysis task created",
	})
}

func (s *Server) handleStartBatch(c *gin.Context) {
	var reqs []types.AnalysisRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if len(reqs) == 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "empty batch"})
		return
	}

	ids, errs := s.mgr.StartBatch(c.Request.Context(), reqs)
	out := make([]gin.H, len(reqs))
	for i := range reqs {
		if errs[i] != nil {
			out[i] = gin.H{"error": errs[i].Error()}
			continue
		}
		out[i] = gin.H{"analysis_id": ids[i], "status": types.StatusPending}
	}
	c.JSON(http.StatusOK, gin.H{"results": out})
}

// control actions are idempotent at the HTTP layer: acting on a task in
// an incompatible state reports failure in the body, not a 4xx.
func (s *Server) handlePause(c *gin.Context) {
	id := c.Param("id")
	err := s.mgr.Pause(c.Request.Context(), id)
	s.controlReply(c, id, err, "analysis paused")
}

func (s *Server) handleResume(c *gin.Context) {
	id := c.Param("id")
	err := s.mgr.Resume(c.Request.Context(), id)
	s.controlReply(c, id, err, "analysis resumed")
}

func (s *Server) handleStop(c *gin.Context) {
	id := c.Param("id")
	err := s.mgr.Stop(c.Request.Context(), id)
	s.controlReply(c, id, err, types.StopMessage)
}

func (s *Server) controlReply(c *gin.Context, id string, err error, okMsg string) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, controlResponse{AnalysisID: id, Success: true, Message: okMsg})
	case errors.Is(err, manager.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	default:
		c.JSON(http.StatusOK, controlResponse{AnalysisID: id, Success: false, Message: err.Error()})
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	task, err := s.mgr.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.queryError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleResult(c *gin.Context) {
	task, err := s.mgr.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.queryError(c, err)
		return
	}
	if task.Status != types.StatusCompleted || task.Result == nil {
		c.JSON(http.StatusBadRequest, errorResponse{
			Error: "analysis is not completed (status " + string(task.Status) + ")",
		})
		return
	}
	c.JSON(http.StatusOK, task.Result)
}

// handlePlannedSteps regenerates the plan from the stored submission;
// planning is deterministic so this matches what the worker executed.
func (s *Server) handlePlannedSteps(c *gin.Context) {
	task, err := s.mgr.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.queryError(c, err)
		return
	}
	plan := steps.Generate(task.Params.Analysts, task.Params.ResearchDepth, task.Params.MarketType)
	c.JSON(http.StatusOK, gin.H{"total_steps": plan.Len(), "steps": plan.Steps})
}

func (s *Server) handleCurrentStep(c *gin.Context) {
	task, err := s.mgr.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.queryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"current_step": task.CurrentStep,
		"progress":     task.Progress,
	})
}

func (s *Server) handleHistory(c *gin.Context) {
	history, err := s.mgr.GetHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.queryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(history), "history": history})
}

// taskSummary trims the record for listings
type taskSummary struct {
	AnalysisID string       `json:"analysis_id"`
	Symbol     string       `json:"stock_symbol"`
	Market     string       `json:"market_type"`
	Status     types.Status `json:"status"`
	Percentage float64      `json:"percentage"`
	CreatedAt  string       `json:"created_at"`
}

func (s *Server) handleList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	all := s.mgr.ListTasks()
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	out := make([]taskSummary, 0, end-offset)
	for _, t := range all[offset:end] {
		out = append(out, taskSummary{
			AnalysisID: t.TaskID,
			Symbol:     t.Params.StockSymbol,
			Market:     string(t.Params.MarketType),
			Status:     t.Status,
			Percentage: t.Progress.Percentage,
			CreatedAt:  t.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "tasks": out})
}

func (s *Server) queryError(c *gin.Context, err error) {
	if errors.Is(err, manager.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
}
