package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/ironsheep/anomaly-detector/internal/batch"
	"github.com/ironsheep/anomaly-detector/internal/detection"
	"github.com/ironsheep/anomaly-detector/internal/ledger"
	"github.com/ironsheep/anomaly-detector/internal/pipeline"
	"github.com/ironsheep/anomaly-detector/internal/session"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "detector_run_image").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments jsoniter.RawMessage `json:"arguments"`

	Meta *struct {
		ProgressToken interface{} `json:"progressToken"`
	} `json:"_meta,omitempty"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(ctx context.Context, req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	result, err := s.executeTool(ctx, &params)
	if err != nil {
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
func (s *Server) executeTool(ctx context.Context, params *ToolCallParams) (interface{}, error) {
	args := params.Arguments
	if len(args) == 0 {
		args = jsoniter.RawMessage("{}")
	}

	switch params.Name {
	case "detector_list_models":
		return s.handleListModels()
	case "detector_create_session":
		return s.handleCreateSession()
	case "detector_run_image":
		return s.handleRunImage(ctx, args)
	case "detector_run_batch":
		var token interface{}
		if params.Meta != nil {
			token = params.Meta.ProgressToken
		}
		return s.handleRunBatch(ctx, args, token)
	case "detector_generate_comments":
		return s.handleGenerateComments(args)
	case "detector_read_ledger":
		return s.handleReadLedger(args)
	default:
		return nil, fmt.Errorf("unknown tool: %s", params.Name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	resp := &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
		},
	}
	if data != "" {
		resp.Error.Data = data
	}
	return resp
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// On marshal failure, returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// selectModels resolves requested model names against the loaded set. No
// names means the orchestrator's default set.
func (s *Server) selectModels(names []string) (detection.ModelSet, error) {
	if len(names) == 0 {
		return nil, nil
	}
	return s.deps.Models.Select(names...)
}

// === Session Handlers ===

type listModelsResult struct {
	Models []string `json:"models"`
}

func (s *Server) handleListModels() (interface{}, error) {
	return &listModelsResult{Models: s.deps.Models.Names()}, nil
}

func (s *Server) handleCreateSession() (interface{}, error) {
	return s.deps.Sessions.Create()
}

type readLedgerArgs struct {
	SessionID string `json:"session_id"`
}

type readLedgerResult struct {
	SessionID string          `json:"session_id"`
	Path      string          `json:"path"`
	Records   []ledger.Record `json:"records"`
}

func (s *Server) handleReadLedger(args jsoniter.RawMessage) (interface{}, error) {
	var a readLedgerArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	sess, err := s.deps.Sessions.Open(a.SessionID)
	if err != nil {
		return nil, err
	}
	records, err := s.deps.Ledger.Read(sess.ResultsDir)
	if err != nil {
		return nil, err
	}
	return &readLedgerResult{SessionID: sess.ID, Path: s.deps.Ledger.Path(sess.ResultsDir), Records: records}, nil
}

// === Detection Handlers ===

type runImageArgs struct {
	Path      string   `json:"path"`
	SessionID string   `json:"session_id"`
	Models    []string `json:"models"`
}

type runImageResult struct {
	Session *session.Session `json:"session"`
	Result  *pipeline.Result `json:"result"`
}

func (s *Server) handleRunImage(ctx context.Context, args jsoniter.RawMessage) (interface{}, error) {
	var a runImageArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if strings.TrimSpace(a.Path) == "" {
		return nil, errors.New("path is required")
	}
	models, err := s.selectModels(a.Models)
	if err != nil {
		return nil, err
	}

	var sess *session.Session
	if a.SessionID != "" {
		sess, err = s.deps.Sessions.Open(a.SessionID)
	} else {
		sess, err = s.deps.Sessions.Create()
	}
	if err != nil {
		return nil, err
	}

	staged, errs := sess.Stage([]string{a.Path})
	if errs[0] != nil {
		return nil, errs[0]
	}

	res, err := s.deps.Orchestrator.Run(ctx, staged[0], sess, models)
	if err != nil {
		return nil, err
	}
	return &runImageResult{Session: sess, Result: res}, nil
}

type runBatchArgs struct {
	Paths  []string `json:"paths"`
	Models []string `json:"models"`
}

func (s *Server) handleRunBatch(ctx context.Context, args jsoniter.RawMessage, progressToken interface{}) (interface{}, error) {
	var a runBatchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if len(a.Paths) == 0 {
		return nil, errors.New("paths is required")
	}
	models, err := s.selectModels(a.Models)
	if err != nil {
		return nil, err
	}

	return s.deps.Runner.Run(ctx, a.Paths, models, func(ev batch.Event) {
		if ev.Kind != batch.ImageDone {
			return
		}
		token := progressToken
		if token == nil {
			token = "detector_run_batch"
		}
		s.notify("notifications/progress", map[string]interface{}{
			"progressToken": token,
			"progress":      ev.Index + 1,
			"total":         ev.Total,
			"message":       progressMessage(ev),
		})
	})
}

func progressMessage(ev batch.Event) string {
	if ev.Err != nil {
		return fmt.Sprintf("%s: %v", ev.Source, ev.Err)
	}
	return fmt.Sprintf("%s: %s", ev.Source, strings.Join(ev.Result.Comments, "; "))
}

// === Comment Handlers ===

type generateCommentsArgs struct {
	Labels []string `json:"labels"`
}

type generateCommentsResult struct {
	Comments []string `json:"comments"`
}

func (s *Server) handleGenerateComments(args jsoniter.RawMessage) (interface{}, error) {
	var a generateCommentsArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	dets := make([]detection.Detection, len(a.Labels))
	for i, l := range a.Labels {
		dets[i] = detection.Detection{Label: l}
	}
	comments, err := s.deps.Rules.Generate(dets)
	if err != nil {
		return nil, err
	}
	return &generateCommentsResult{Comments: comments}, nil
}
