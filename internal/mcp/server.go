// Package mcp exposes memo search and storage as Model Context Protocol tools
// over stdio. Every tool call acts for the single owner the session was
// started for.
package mcp

import (
	"context"
	"errors"
	"io"

	"github.com/go-playground/validator/v10"
	"github.com/mark3labs/mcp-go/server"

	"github.com/memos-platform/memos/internal/api"
	"github.com/memos-platform/memos/internal/memos"
	"github.com/memos-platform/memos/internal/search"
)

const (
	// ServerName is the MCP server name
	ServerName = "memos"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
	// MaxSearchLimit caps search_memos results.
	MaxSearchLimit = 50
)

// Searcher runs memo searches.
type Searcher interface {
	Search(ctx context.Context, q search.Query) ([]search.Result, error)
}

// MemoStore creates, reads and deletes memos.
type MemoStore interface {
	Create(ctx context.Context, ownerID string, req *memos.CreateMemoRequest) (*memos.Memo, error)
	Get(ctx context.Context, ownerID string, id int64) (*memos.Memo, error)
	Delete(ctx context.Context, ownerID string, id int64) error
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	searcher Searcher
	memos    MemoStore
	ownerID  string
	validate *validator.Validate
}

// NewServer creates an MCP server whose tools act for ownerID.
func NewServer(searcher Searcher, store MemoStore, ownerID string) (*Server, error) {
	if ownerID == "" {
		return nil, errors.New("mcp server requires an owner")
	}

	s := &Server{
		mcp:      server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		searcher: searcher,
		memos:    store,
		ownerID:  ownerID,
		validate: api.NewValidator(),
	}
	s.registerTools()
	return s, nil
}

// Serve speaks MCP over in/out and blocks until ctx is cancelled or input ends.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(searchMemosTool(), s.handleSearchMemos)
	s.mcp.AddTool(createMemoTool(), s.handleCreateMemo)
	s.mcp.AddTool(getMemoTool(), s.handleGetMemo)
	s.mcp.AddTool(deleteMemoTool(), s.handleDeleteMemo)
}
