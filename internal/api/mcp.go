package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// defaultMCPOwner scopes tool calls that carry no owner_id. MCP clients are
// local single-user processes, unlike the HTTP API.
const defaultMCPOwner = "local"

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Turns       TurnHandler
	Formulation FormulationService
	Store       DocumentStore
}

// NewMCPServer creates an MCP server exposing the conversation and
// formulation workflows as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"lectern",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("lectern — conversational learning sessions: grounded Q&A, quizzes, and answer formulation over stored documents."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Send a message on a conversation thread. Routes to quiz or grounded chat automatically."),
			mcp.WithString("thread_id", mcp.Description("Conversation thread id"), mcp.Required()),
			mcp.WithString("message", mcp.Description("The user message"), mcp.Required()),
			mcp.WithString("owner_id", mcp.Description("Owner scope (default \"local\")")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("start_quiz",
			mcp.WithDescription("Start a quiz on a stored document within a conversation thread."),
			mcp.WithString("thread_id", mcp.Description("Conversation thread id"), mcp.Required()),
			mcp.WithString("document_id", mcp.Description("Document to quiz on"), mcp.Required()),
			mcp.WithString("owner_id", mcp.Description("Owner scope (default \"local\")")),
		),
		mcpStartQuiz(deps),
	)

	s.AddTool(
		mcp.NewTool("refine_answer",
			mcp.WithDescription("Refine a rough spoken-answer transcript into clear written prose without adding or removing meaning."),
			mcp.WithString("transcript", mcp.Description("The raw transcript to refine"), mcp.Required()),
			mcp.WithString("prompt_text", mcp.Description("The question the transcript answers")),
			mcp.WithString("owner_id", mcp.Description("Owner scope (default \"local\")")),
		),
		mcpRefineAnswer(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"lectern://documents",
			"Stored Documents",
			mcp.WithResourceDescription("Recently stored documents as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceDocuments(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		threadID, err := req.RequireString("thread_id")
		if err != nil {
			return mcpError("thread_id is required"), nil
		}
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}
		owner := req.GetString("owner_id", defaultMCPOwner)

		resp, err := deps.Turns.HandleTurn(ctx, threadID, owner, message)
		if err != nil {
			return mcpError(fmt.Sprintf("turn failed: %v", err)), nil
		}

		b, err := json.Marshal(resp)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal response: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpStartQuiz(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		threadID, err := req.RequireString("thread_id")
		if err != nil {
			return mcpError("thread_id is required"), nil
		}
		documentID, err := req.RequireString("document_id")
		if err != nil {
			return mcpError("document_id is required"), nil
		}
		owner := req.GetString("owner_id", defaultMCPOwner)

		resp, err := deps.Turns.HandleTurn(ctx, threadID, owner, fmt.Sprintf("start quiz doc:%s", documentID))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to start quiz: %v", err)), nil
		}

		b, err := json.Marshal(resp)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal response: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRefineAnswer(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		transcript, err := req.RequireString("transcript")
		if err != nil {
			return mcpError("transcript is required"), nil
		}
		promptText := req.GetString("prompt_text", "")
		owner := req.GetString("owner_id", defaultMCPOwner)

		s, err := deps.Formulation.StartSession(ctx, owner, promptText, transcript)
		if err != nil {
			return mcpError(fmt.Sprintf("refinement failed: %v", err)), nil
		}

		b, err := json.Marshal(s)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal session: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceDocuments(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		docs, err := deps.Store.ListDocuments(defaultMCPOwner, 20)
		if err != nil {
			return nil, fmt.Errorf("failed to list documents: %w", err)
		}

		type docSummary struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			CreatedAt string `json:"created_at"`
			Preview   string `json:"preview"`
		}

		summaries := make([]docSummary, len(docs))
		for i, d := range docs {
			preview := d.Content
			if utf8.RuneCountInString(preview) > 200 {
				runes := []rune(preview)
				preview = string(runes[:200]) + "..."
			}
			summaries[i] = docSummary{
				ID:        d.ID,
				Title:     d.Title,
				CreatedAt: d.CreatedAt.Format(time.RFC3339),
				Preview:   preview,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal documents: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
