// Package server implements the MCP (Model Context Protocol) server for the
// anomaly detector.
//
// This package provides a JSON-RPC 2.0 server that exposes session management,
// detection runs, comment generation and the results workbook through the MCP
// protocol.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses and notifications on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
// Models and Sessions:
//   - detector_list_models: Names of the loaded models
//   - detector_create_session: New session directory
//
// Detection:
//   - detector_run_image: Stage and process one image
//   - detector_run_batch: Process a list of images in a new session
//
// Comments and Results:
//   - detector_generate_comments: Apply comment rules to labels
//   - detector_read_ledger: Rows of a session's results workbook
//
// # Progress
//
// detector_run_batch sends one notifications/progress message per image before
// the call returns. The progress token is the one given in the request's _meta,
// or "detector_run_batch" when the client did not send one.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32000 (tool execution failure) or standard JSON-RPC codes
//   - message: Human-readable error description
//   - data: Additional error details (typically the Go error string)
//
// Failures inside a model, the annotator or the workbook do not fail a tool
// call. They are reported in the result and logged.
//
// # Usage
//
//	srv := server.New(server.Deps{...})
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server
