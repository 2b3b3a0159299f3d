package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func searchMemosTool() mcp.Tool {
	return mcp.NewTool("search_memos",
		mcp.WithDescription("Search your memos by keywords, tags and meaning. Returns the best matches first."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search text, 2-500 characters")),
		mcp.WithArray("tags", mcp.Description("Only memos carrying at least one of these tags"), mcp.WithStringItems()),
		mcp.WithString("session_id", mcp.Description("Only memos from this session")),
		mcp.WithString("author_role", mcp.Description("Only memos written by this role"), mcp.Enum("user", "agent", "system")),
		mcp.WithNumber("min_importance", mcp.Description("Lowest importance to include"), mcp.Min(0), mcp.Max(1)),
		mcp.WithNumber("max_importance", mcp.Description("Highest importance to include"), mcp.Min(0), mcp.Max(1)),
		mcp.WithString("start_date", mcp.Description("Earliest creation time, RFC 3339")),
		mcp.WithString("end_date", mcp.Description("Latest creation time, RFC 3339")),
		mcp.WithBoolean("include_popular", mcp.Description("Give frequently read memos a small boost")),
		mcp.WithString("sort_by", mcp.Description("Result ordering"), mcp.Enum("relevance", "importance", "recency", "popularity")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (1-50, default 10)"), mcp.Min(1), mcp.Max(MaxSearchLimit)),
	)
}

func createMemoTool() mcp.Tool {
	return mcp.NewTool("create_memo",
		mcp.WithDescription("Store a new memo."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Memo body")),
		mcp.WithString("summary", mcp.Description("Short summary used for search")),
		mcp.WithArray("tags", mcp.Description("Labels for the memo"), mcp.WithStringItems()),
		mcp.WithString("author_role", mcp.Description("Who wrote the memo, default agent"), mcp.Enum("user", "agent", "system")),
		mcp.WithNumber("importance", mcp.Description("Importance between 0 and 1, default 1"), mcp.Min(0), mcp.Max(1)),
		mcp.WithString("session_id", mcp.Description("Conversation or session the memo belongs to")),
	)
}

func getMemoTool() mcp.Tool {
	return mcp.NewTool("get_memo",
		mcp.WithDescription("Read a memo by id."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Memo id")),
	)
}

func deleteMemoTool() mcp.Tool {
	return mcp.NewTool("delete_memo",
		mcp.WithDescription("Delete a memo by id."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Memo id")),
	)
}
