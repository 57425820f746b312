// Package mcp exposes the paper index to MCP clients over JSON-RPC, either
// as plain POST requests or through an SSE session.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"papermind/features/paper"
	"papermind/internal/middleware"
	"papermind/internal/vector"
)

type Handler struct {
	index    Searcher
	papers   Papers
	answerer Answerer

	sessions     map[string]chan string // sessionId -> serialized JSON-RPC responses
	sessionsLock sync.RWMutex
}

func NewHandler(index Searcher, papers Papers, a Answerer) *Handler {
	return &Handler{
		index:    index,
		papers:   papers,
		answerer: a,
		sessions: make(map[string]chan string),
	}
}

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   interface{} `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type CallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type SearchArgs struct {
	Query string `json:"query"`
	Limit *int   `json:"limit,omitempty"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"inputSchema"`
}

type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const (
	ErrParse          = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternal       = -32603
)

var tools = []Tool{
	{
		Name: "papermind_search",
		Description: `Semantic search over every indexed paper. Returns the closest passages with their paper id and title, nearest first.

USAGE EXAMPLE:
papermind_search(query="contrastive pretraining objective", limit=5)`,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]string{
					"type":        "string",
					"description": "The search query",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Max passages to return (default 5).",
					"minimum":     1,
					"maximum":     maxSearchLimit,
				},
			},
			"required": []string{"query"},
		},
	},
	{
		Name: "papermind_list_papers",
		Description: `Lists the papers in the catalog, newest first. Use it to find a paper_id.

USAGE EXAMPLE:
papermind_list_papers()`,
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	},
	{
		Name: "papermind_ask",
		Description: `Asks a question about one paper. The answer is grounded in retrieved passages and continues that paper's chat history.

USAGE EXAMPLE:
papermind_ask(paper_id="2401.00001", query="What dataset is used for evaluation?")`,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"paper_id": map[string]string{
					"type":        "string",
					"description": "The catalog id of the paper",
				},
				"query": map[string]string{
					"type":        "string",
					"description": "The question",
				},
			},
			"required": []string{"paper_id", "query"},
		},
	},
}

// processRequest returns nil for notifications.
func (h *Handler) processRequest(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return result(req.ID, map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    "papermind-mcp",
				"version": "1.0.0",
			},
		})
	case "notifications/initialized":
		return nil
	case "ping":
		return result(req.ID, map[string]interface{}{})
	case "tools/list":
		return result(req.ID, ListToolsResult{Tools: tools})
	case "tools/call":
		var params CallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			slog.WarnContext(ctx, "invalid params structure", "error", err)
			return makeErrorResponse(req.ID, ErrInvalidParams, "Invalid params")
		}
		return h.callTool(ctx, req.ID, params)
	}

	slog.WarnContext(ctx, "unknown jsonrpc method", "method", req.Method)
	return makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found")
}

func (h *Handler) callTool(ctx context.Context, id interface{}, params CallParams) *JSONRPCResponse {
	switch params.Name {
	case "papermind_search":
		var args SearchArgs
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return makeErrorResponse(id, ErrInvalidParams, "Invalid search arguments")
		}
		return h.search(ctx, id, args)
	case "papermind_list_papers":
		return h.listPapers(ctx, id)
	case "papermind_ask":
		var args AskArgs
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return makeErrorResponse(id, ErrInvalidParams, "Invalid ask arguments")
		}
		return h.ask(ctx, id, args)
	}

	slog.WarnContext(ctx, "tool not found", "tool", params.Name)
	return makeErrorResponse(id, ErrMethodNotFound, "Method not found: "+params.Name)
}

func (h *Handler) search(ctx context.Context, id interface{}, args SearchArgs) *JSONRPCResponse {
	limit := defaultSearchLimit
	if args.Limit != nil {
		limit = *args.Limit
	}
	results, err := h.searchPassages(ctx, args.Query, limit)
	switch {
	case errors.Is(err, ErrInvalidArgs):
		return makeErrorResponse(id, ErrInvalidParams, argMessage(err))
	case errors.Is(err, vector.ErrIndexNotFound):
		return toolError(id, "No index has been built yet. Refresh the catalog first.")
	case err != nil:
		return makeErrorResponse(id, ErrInternal, "Search failed: "+err.Error())
	}

	if len(results) == 0 {
		return toolText(id, "No results found.")
	}

	var b strings.Builder
	for i, res := range results {
		fmt.Fprintf(&b, "Result %d (Distance: %.4f):\n", i+1, res.Distance)
		fmt.Fprintf(&b, "Paper: %s (%s)\n", res.Title, res.DocumentID)
		fmt.Fprintf(&b, "Content:\n%s\n\n---\n", res.Text)
	}
	b.WriteString("\nUse papermind_ask(paper_id=\"...\", query=\"...\") to ask about one paper.\n")
	return toolText(id, b.String())
}

func (h *Handler) listPapers(ctx context.Context, id interface{}) *JSONRPCResponse {
	out, err := h.paperSummaries(ctx)
	if err != nil {
		return toolError(id, "Error: "+err.Error())
	}
	if len(out) == 0 {
		return toolText(id, "No papers found.")
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal papers", "error", err)
		return toolError(id, "Error marshalling results")
	}
	return toolText(id, string(data))
}

func (h *Handler) ask(ctx context.Context, id interface{}, args AskArgs) *JSONRPCResponse {
	ans, err := h.askPaper(ctx, args)
	switch {
	case errors.Is(err, ErrInvalidArgs):
		return makeErrorResponse(id, ErrInvalidParams, argMessage(err))
	case errors.Is(err, paper.ErrNotFound):
		return toolError(id, "Paper not found: "+args.PaperID)
	case err != nil:
		return toolError(id, "Error: "+err.Error())
	}

	if ans.Fallback {
		return toolError(id, ans.Content)
	}
	return toolText(id, ans.Content)
}

func result(id, v interface{}) *JSONRPCResponse {
	return &JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: v}
}

func toolText(id interface{}, text string) *JSONRPCResponse {
	return result(id, ToolResult{Content: []ToolContent{{Type: "text", Text: text}}})
}

func toolError(id interface{}, text string) *JSONRPCResponse {
	return result(id, ToolResult{Content: []ToolContent{{Type: "text", Text: text}}, IsError: true})
}

func makeErrorResponse(id interface{}, code int, message string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		Error: map[string]interface{}{
			"code":    code,
			"message": message,
		},
		ID: id,
	}
}

// ServeHTTP answers a single JSON-RPC request synchronously.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeRPC(r.Context(), w, makeErrorResponse(nil, ErrParse, "Parse error"))
		return
	}

	resp := h.processRequest(r.Context(), req)
	if resp == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	h.writeRPC(r.Context(), w, resp)
}

// HandleSSE opens a session and streams its responses until the client
// disconnects.
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeHTTPError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Streaming unsupported", middleware.GetCorrelationID(r.Context()))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sessionID := uuid.New().String()
	msgChan := make(chan string, 100)

	h.sessionsLock.Lock()
	h.sessions[sessionID] = msgChan
	h.sessionsLock.Unlock()

	defer func() {
		h.sessionsLock.Lock()
		delete(h.sessions, sessionID)
		close(msgChan)
		h.sessionsLock.Unlock()
		slog.InfoContext(r.Context(), "sse session ended", "session_id", sessionID)
	}()

	slog.InfoContext(r.Context(), "sse session started", "session_id", sessionID)

	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s/mcp/messages?sessionId=%s", scheme, r.Host, sessionID)
	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", html.EscapeString(endpoint))
	flusher.Flush()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgChan:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// HandleMessage accepts a JSON-RPC request for an open SSE session. The
// response is delivered on the session stream.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		h.writeHTTPError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Missing sessionId", correlationID)
		return
	}

	h.sessionsLock.RLock()
	_, exists := h.sessions[sessionID]
	h.sessionsLock.RUnlock()
	if !exists {
		slog.WarnContext(r.Context(), "session not found", "session_id", sessionID)
		h.writeHTTPError(w, http.StatusNotFound, "NOT_FOUND", "Session not found", correlationID)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeHTTPError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON", correlationID)
		return
	}

	w.WriteHeader(http.StatusAccepted)

	// Keep request values such as the correlation id but outlive the request.
	bgCtx := context.WithoutCancel(r.Context())
	go h.deliver(bgCtx, sessionID, req)
}

func (h *Handler) deliver(ctx context.Context, sessionID string, req JSONRPCRequest) {
	resp := h.processRequest(ctx, req)
	if resp == nil {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal response", "error", err)
		return
	}

	// The read lock keeps the channel open while sending; HandleSSE closes
	// it under the write lock.
	h.sessionsLock.RLock()
	defer h.sessionsLock.RUnlock()

	msgChan, ok := h.sessions[sessionID]
	if !ok {
		slog.WarnContext(ctx, "session closed before response", "session_id", sessionID)
		return
	}
	select {
	case msgChan <- string(data):
	default:
		slog.WarnContext(ctx, "session channel full, dropping message", "session_id", sessionID)
	}
}

func (h *Handler) writeRPC(ctx context.Context, w http.ResponseWriter, resp *JSONRPCResponse) {
	// JSON-RPC errors travel in the body with a 200 status.
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode jsonrpc response", "error", err)
	}
}

func (h *Handler) writeHTTPError(w http.ResponseWriter, status int, code, message, correlationID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": correlationID,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
