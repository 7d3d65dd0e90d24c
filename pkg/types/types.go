package types

import (
	"encoding/json"
	"time"
)

// Status represents the lifecycle state of a task
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusStopped   Status = "STOPPED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether the status is a final state
func (s Status) IsTerminal() bool {
	switch s {
	case StatusStopped, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ControlState is the cooperative-control label maintained alongside Status
type ControlState string

const (
	ControlRunning ControlState = "running"
	ControlPaused  ControlState = "paused"
	ControlStopped ControlState = "stopped"
)

// NodeStatus describes a pipeline node's execution phase within a step
type NodeStatus string

const (
	NodeStart       NodeStatus = "start"
	NodeToolCalling NodeStatus = "tool_calling"
	NodePaused      NodeStatus = "paused"
	NodeComplete    NodeStatus = "complete"
	NodeError       NodeStatus = "error"
)

// MarketType identifies the exchange a symbol trades on
type MarketType string

const (
	MarketCN MarketType = "A股"
	MarketHK MarketType = "港股"
	MarketUS MarketType = "美股"
)

// StopMessage is the default last_message recorded when a task is stopped
const StopMessage = "任务已被停止"

// AnalysisRequest is the submission payload for one analysis task
type AnalysisRequest struct {
	StockSymbol           string         `json:"stock_symbol"`
	MarketType            MarketType     `json:"market_type"`
	AnalysisDate          string         `json:"analysis_date,omitempty"` // YYYY-MM-DD
	Analysts              []string       `json:"analysts"`
	ResearchDepth         int            `json:"research_depth"`
	IncludeSentiment      bool           `json:"include_sentiment"`
	IncludeRiskAssessment bool           `json:"include_risk_assessment"`
	CustomPrompt          string         `json:"custom_prompt,omitempty"`
	LLMProvider           string         `json:"llm_provider,omitempty"`
	ExtraConfig           map[string]any `json:"extra_config,omitempty"`

	// CacheReuse gates which pipeline nodes may splice in prior-run outputs
	CacheReuse CacheReuseConfig `json:"cache_reuse_config,omitempty"`
}

// CacheReuseConfig maps node names (or the wildcard "all") to reuse grants
type CacheReuseConfig map[string]bool

// Allows reports whether the given node may reuse cached output
func (c CacheReuseConfig) Allows(node string) bool {
	if c == nil {
		return false
	}
	if v, ok := c[node]; ok {
		return v
	}
	return c["all"]
}

// Progress is the nested progress record carried on the task
type Progress struct {
	CurrentStep        int     `json:"current_step"`
	TotalSteps         int     `json:"total_steps"`
	Percentage         float64 `json:"percentage"`
	Message            string  `json:"message,omitempty"`
	AnalysisStartTime  float64 `json:"analysis_start_time,omitempty"` // unix seconds
	ElapsedTime        float64 `json:"elapsed_time,omitempty"`
	RemainingTime      float64 `json:"remaining_time,omitempty"`
	EstimatedTotalTime float64 `json:"estimated_total_time,omitempty"`
}

// Result holds the accumulated pipeline state of a completed task
type Result struct {
	State      map[string]any `json:"state"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Task is the authoritative task record
type Task struct {
	TaskID    string `json:"task_id"`
	SessionID string `json:"session_id,omitempty"`

	Status       Status       `json:"status"`
	ControlState ControlState `json:"control_state,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Params   AnalysisRequest `json:"params"`
	Progress Progress        `json:"progress"`

	CurrentStep *StepHistoryEntry `json:"current_step,omitempty"`

	Result      *Result `json:"result,omitempty"`
	Error       string  `json:"error,omitempty"`
	LastMessage string  `json:"last_message,omitempty"`

	// Checkpoint is an opaque restart hint managed by the control layer
	Checkpoint json.RawMessage `json:"checkpoint,omitempty"`
}

// Clone returns a deep copy of the task record
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.CurrentStep != nil {
		step := *t.CurrentStep
		cp.CurrentStep = &step
	}
	if t.Result != nil {
		res := Result{State: cloneMap(t.Result.State), FinishedAt: t.Result.FinishedAt}
		cp.Result = &res
	}
	if t.Params.Analysts != nil {
		cp.Params.Analysts = append([]string(nil), t.Params.Analysts...)
	}
	if t.Params.ExtraConfig != nil {
		cp.Params.ExtraConfig = cloneMap(t.Params.ExtraConfig)
	}
	if t.Params.CacheReuse != nil {
		cr := make(CacheReuseConfig, len(t.Params.CacheReuse))
		for k, v := range t.Params.CacheReuse {
			cr[k] = v
		}
		cp.Params.CacheReuse = cr
	}
	if t.Checkpoint != nil {
		cp.Checkpoint = append(json.RawMessage(nil), t.Checkpoint...)
	}
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// StepStatus is the planned-step execution state
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepRunning  StepStatus = "running"
	StepComplete StepStatus = "complete"
	StepError    StepStatus = "error"
	StepPaused   StepStatus = "paused"
)

// Step is one planned pipeline stage
type Step struct {
	Index       int        `json:"step_index"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Weight      float64    `json:"weight"`
	Phase       string     `json:"phase"`
	Status      StepStatus `json:"status"`
	Round       int        `json:"round,omitempty"`
	Role        string     `json:"role,omitempty"`

	// Module is the stable node identifier (e.g. "market_analyst")
	Module string `json:"module_name"`
}

// StepHistoryEntry records one step execution in the tracker ledger
type StepHistoryEntry struct {
	StepIndex  int        `json:"step_index"`
	StepName   string     `json:"step_name"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    time.Time  `json:"end_time,omitzero"`
	Duration   float64    `json:"duration,omitempty"` // seconds
	Message    string     `json:"message,omitempty"`
	ModuleName string     `json:"module_name,omitempty"`
	NodeStatus NodeStatus `json:"node_status,omitempty"`
}

// ProgressMessage is the wire format for progress events on the fabric
type ProgressMessage struct {
	AnalysisID             string     `json:"analysis_id"`
	CurrentStep            int        `json:"current_step"`
	TotalSteps             int        `json:"total_steps"`
	ProgressPercentage     float64    `json:"progress_percentage"`
	CurrentStepName        string     `json:"current_step_name,omitempty"`
	CurrentStepDescription string     `json:"current_step_description,omitempty"`
	ElapsedTime            float64    `json:"elapsed_time"`
	RemainingTime          float64    `json:"remaining_time"`
	LastMessage            string     `json:"last_message,omitempty"`
	ModuleName             string     `json:"module_name,omitempty"`
	NodeStatus             NodeStatus `json:"node_status,omitempty"`
	Timestamp              time.Time  `json:"timestamp"`
}

// StatusMessage is the wire format for task status transitions on the fabric
type StatusMessage struct {
	AnalysisID string    `json:"analysis_id"`
	Status     Status    `json:"status"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
