package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

func modelsProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"items":       map[string]interface{}{"type": "string"},
		"description": "Optional model names to run. If omitted, all loaded models run.",
	}
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Models and Sessions
		{
			Name:        "detector_list_models",
			Description: "List the names of the detection models loaded by the server, in run order.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "detector_create_session",
			Description: "Create a new session directory with uploads and results subdirectories.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},

		// Detection
		{
			Name:        "detector_run_image",
			Description: "Copy an image into a session, run the detection models on it, write an annotated copy and append a row to the session results workbook.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the image file",
					},
					"session_id": map[string]interface{}{
						"type":        "string",
						"description": "Existing session to add the image to. If omitted, a new session is created.",
					},
					"models": modelsProperty(),
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "detector_run_batch",
			Description: "Run a list of images through detection in a new session, one after another. Progress is reported with notifications/progress.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"paths": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "string"},
						"description": "Absolute paths of the images, processed in this order",
					},
					"models": modelsProperty(),
				},
				"required": []string{"paths"},
			},
		},

		// Comments and Results
		{
			Name:        "detector_generate_comments",
			Description: "Apply the loaded comment rules to a list of detection labels and return the advisory comments.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"labels": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "string"},
						"description": "Detection labels in detection order",
					},
				},
				"required": []string{"labels"},
			},
		},
		{
			Name:        "detector_read_ledger",
			Description: "Read every row of a session's results workbook.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"session_id": map[string]interface{}{
						"type":        "string",
						"description": "Session identifier as returned by detector_create_session",
					},
				},
				"required": []string{"session_id"},
			},
		},
	}
}

// handleToolsList returns the list of available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
