package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/memos-platform/memos/internal/api"
	"github.com/memos-platform/memos/internal/memos"
	"github.com/memos-platform/memos/internal/search"
)

func (s *Server) handleSearchMemos(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	limit := request.GetInt("limit", search.DefaultLimit)
	if limit < 1 || limit > MaxSearchLimit {
		return mcp.NewToolResultErrorf("limit must be between 1 and %d", MaxSearchLimit), nil
	}

	args := request.GetArguments()
	q := search.Query{
		OwnerID: s.ownerID,
		Text:    text,
		SortBy:  search.SortBy(request.GetString("sort_by", "")),
		Limit:   limit,
		Filters: search.Filters{
			SessionID:      request.GetString("session_id", ""),
			Tags:           request.GetStringSlice("tags", nil),
			AuthorRole:     request.GetString("author_role", ""),
			MinImportance:  optionalFloat(args, "min_importance"),
			MaxImportance:  optionalFloat(args, "max_importance"),
			IncludePopular: request.GetBool("include_popular", false),
		},
	}

	start, err := optionalTime(request, "start_date")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	end, err := optionalTime(request, "end_date")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if start != nil || end != nil {
		q.Filters.DateRange = &search.DateRange{Start: start, End: end}
	}

	results, err := s.searcher.Search(ctx, q)
	if err != nil {
		if errors.Is(err, search.ErrValidation) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		slog.Error("mcp: search_memos failed", "error", err)
		return mcp.NewToolResultError("search failed"), nil
	}

	return mcp.NewToolResultText(formatJSON(map[string]any{
		"count":   len(results),
		"results": results,
	})), nil
}

func (s *Server) handleCreateMemo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	req := &memos.CreateMemoRequest{
		Content:    content,
		Summary:    request.GetString("summary", ""),
		Tags:       request.GetStringSlice("tags", nil),
		AuthorRole: request.GetString("author_role", memos.RoleAgent),
		Importance: optionalFloat(request.GetArguments(), "importance"),
		SessionID:  request.GetString("session_id", ""),
	}
	if err := s.validate.Struct(req); err != nil {
		return mcp.NewToolResultError(api.ValidationFailed(err).Message), nil
	}

	m, err := s.memos.Create(ctx, s.ownerID, req)
	if err != nil {
		slog.Error("mcp: create_memo failed", "error", err)
		return mcp.NewToolResultError("creating memo failed"), nil
	}
	return mcp.NewToolResultText(formatJSON(m)), nil
}

func (s *Server) handleGetMemo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, res := memoID(request)
	if res != nil {
		return res, nil
	}

	m, err := s.memos.Get(ctx, s.ownerID, id)
	if err != nil {
		return memoError("get_memo", id, err), nil
	}
	return mcp.NewToolResultText(formatJSON(m)), nil
}

func (s *Server) handleDeleteMemo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, res := memoID(request)
	if res != nil {
		return res, nil
	}

	if err := s.memos.Delete(ctx, s.ownerID, id); err != nil {
		return memoError("delete_memo", id, err), nil
	}
	return mcp.NewToolResultText(formatJSON(map[string]any{"deleted": true, "id": id})), nil
}

func memoID(request mcp.CallToolRequest) (int64, *mcp.CallToolResult) {
	v, err := request.RequireFloat("id")
	if err != nil {
		return 0, mcp.NewToolResultError(err.Error())
	}
	id := int64(v)
	if id <= 0 || float64(id) != v {
		return 0, mcp.NewToolResultError("id must be a positive integer")
	}
	return id, nil
}

func memoError(tool string, id int64, err error) *mcp.CallToolResult {
	if errors.Is(err, memos.ErrNotFound) {
		return mcp.NewToolResultErrorf("memo %d not found", id)
	}
	slog.Error("mcp: tool failed", "tool", tool, "memo_id", id, "error", err)
	return mcp.NewToolResultErrorf("%s failed", tool)
}

func optionalFloat(args map[string]any, key string) *float64 {
	v, ok := args[key].(float64)
	if !ok {
		return nil
	}
	return &v
}

func optionalTime(request mcp.CallToolRequest, key string) (*time.Time, error) {
	s := request.GetString(key, "")
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC 3339 timestamp", key)
	}
	return &t, nil
}

func formatJSON(data any) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(b)
}
