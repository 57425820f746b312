package mcp

import (
	"context"
	"net/http"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"papermind/internal/vector"
)

const Version = "1.0.0"

// SearchInput is the typed input of papermind_search on the streamable
// transport.
type SearchInput struct {
	Query string `json:"query" jsonschema:"the search query"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of passages to return (default 5, max 50)"`
}

type SearchOutput struct {
	Results []vector.Result `json:"results"`
	Count   int             `json:"count"`
}

type ListPapersInput struct{}

type ListPapersOutput struct {
	Papers []PaperSummary `json:"papers"`
	Count  int            `json:"count"`
}

type AskOutput struct {
	Answer   string `json:"answer"`
	Fallback bool   `json:"fallback"`
	Sources  int    `json:"sources"`
}

// StreamServer serves the same tools as Handler over the MCP Streamable HTTP
// transport.
type StreamServer struct {
	h      *Handler
	server *sdk.Server
}

func NewStreamServer(h *Handler) *StreamServer {
	s := &StreamServer{
		h:      h,
		server: sdk.NewServer(&sdk.Implementation{Name: "papermind", Version: Version}, nil),
	}

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "papermind_search",
		Description: "Semantic search over every indexed paper, nearest passages first",
	}, s.handleSearch)
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "papermind_list_papers",
		Description: "Lists the papers in the catalog, newest first",
	}, s.handleListPapers)
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "papermind_ask",
		Description: "Asks a question about one paper using retrieved passages and its chat history",
	}, s.handleAsk)

	return s
}

func (s *StreamServer) HTTPHandler() http.Handler {
	return sdk.NewStreamableHTTPHandler(func(_ *http.Request) *sdk.Server {
		return s.server
	}, nil)
}

func (s *StreamServer) handleSearch(ctx context.Context, _ *sdk.CallToolRequest, input SearchInput) (*sdk.CallToolResult, SearchOutput, error) {
	limit := input.Limit
	if limit == 0 {
		limit = defaultSearchLimit
	}
	results, err := s.h.searchPassages(ctx, input.Query, limit)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	return nil, SearchOutput{Results: results, Count: len(results)}, nil
}

func (s *StreamServer) handleListPapers(ctx context.Context, _ *sdk.CallToolRequest, _ ListPapersInput) (*sdk.CallToolResult, ListPapersOutput, error) {
	papers, err := s.h.paperSummaries(ctx)
	if err != nil {
		return nil, ListPapersOutput{}, err
	}
	return nil, ListPapersOutput{Papers: papers, Count: len(papers)}, nil
}

func (s *StreamServer) handleAsk(ctx context.Context, _ *sdk.CallToolRequest, input AskArgs) (*sdk.CallToolResult, AskOutput, error) {
	ans, err := s.h.askPaper(ctx, input)
	if err != nil {
		return nil, AskOutput{}, err
	}
	return nil, AskOutput{Answer: ans.Content, Fallback: ans.Fallback, Sources: len(ans.Sources)}, nil
}
