package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/maplenook/guildbot/internal/boss"
	"github.com/maplenook/guildbot/internal/profile"
	"github.com/maplenook/guildbot/internal/storage"
)

// RecentInteractionsURI is the resource listing the latest chat exchanges.
const RecentInteractionsURI = "guildbot://interactions/recent"

const (
	recentLimit     = 10
	maxPreviewRunes = 200
)

// MCPProfiles is the profile store surface the MCP tools use.
type MCPProfiles interface {
	Get(ctx context.Context, userID string) (profile.Profile, error)
	Update(ctx context.Context, userID string, data profile.Profile) error
}

// MCPInteractions reads the chat interaction log.
type MCPInteractions interface {
	GetRecentInteractions(limit int, userID string) ([]storage.Interaction, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Profiles     MCPProfiles
	Interactions MCPInteractions // optional; if nil the recent resource errors
	// BossFile is re-read on every call so sheet edits show up without a
	// restart.
	BossFile string
}

// NewMCPServer creates an MCP server with all guildbot tools and resources
// registered.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"guildbot",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("guildbot: guild member profiles, boss catalog lookups and the bot's chat history."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("get_profile",
			mcp.WithDescription("Return a guild member's stored profile as JSON. Unknown members get the default profile."),
			mcp.WithString("user_id", mcp.Description("Discord user id"), mcp.Required()),
		),
		mcpGetProfile(deps),
	)

	s.AddTool(
		mcp.NewTool("set_role",
			mcp.WithDescription("Set a guild member's current role."),
			mcp.WithString("user_id", mcp.Description("Discord user id"), mcp.Required()),
			mcp.WithString("role", mcp.Description("New role name"), mcp.Required()),
		),
		mcpSetRole(deps),
	)

	s.AddTool(
		mcp.NewTool("list_bosses",
			mcp.WithDescription("List catalog bosses, optionally restricted to a chapter range."),
			mcp.WithString("chapters", mcp.Description("Chapter range such as 4-6 (default: all)")),
		),
		mcpListBosses(deps),
	)

	s.AddTool(
		mcp.NewTool("boss_info",
			mcp.WithDescription("Return the full stat sheet of one boss."),
			mcp.WithString("name", mcp.Description("Boss name as written in the catalog"), mcp.Required()),
		),
		mcpBossInfo(deps),
	)

	s.AddResource(
		mcp.NewResource(
			RecentInteractionsURI,
			"Recent Interactions",
			mcp.WithResourceDescription("Last 10 chat exchanges (prompt previews only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpGetProfile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil || strings.TrimSpace(userID) == "" {
			return mcpError("user_id is required"), nil
		}

		p, err := deps.Profiles.Get(ctx, userID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get profile: %v", err)), nil
		}

		b, err := json.Marshal(p)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal profile: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSetRole(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := req.RequireString("user_id")
		if err != nil || strings.TrimSpace(userID) == "" {
			return mcpError("user_id is required"), nil
		}
		role, err := req.RequireString("role")
		if err != nil || strings.TrimSpace(role) == "" {
			return mcpError("role is required"), nil
		}
		role = strings.TrimSpace(role)

		p, err := deps.Profiles.Get(ctx, userID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get profile: %v", err)), nil
		}
		if err := deps.Profiles.Update(ctx, userID, p.WithRole(userID, role)); err != nil {
			return mcpError(fmt.Sprintf("failed to set role: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Set role of %s to %s", userID, role)), nil
	}
}

type bossSummary struct {
	No      string `json:"no"`
	Chapter int    `json:"chapter"`
	Name    string `json:"name"`
	English string `json:"english"`
}

func mcpListBosses(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		catalog, err := boss.Load(deps.BossFile)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load boss catalog: %v", err)), nil
		}

		bosses := catalog.Bosses
		if chapters := req.GetString("chapters", ""); chapters != "" {
			r, err := boss.ParseRange(chapters)
			if err != nil {
				return mcpError(fmt.Sprintf("invalid chapters: %v", err)), nil
			}
			bosses = catalog.InChapters(r.Lo, r.Hi)
		}

		results := make([]bossSummary, len(bosses))
		for i, b := range bosses {
			results[i] = bossSummary{No: b.No, Chapter: b.Chapter, Name: b.Name, English: b.English}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal bosses: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpBossInfo(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}

		catalog, err := boss.Load(deps.BossFile)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load boss catalog: %v", err)), nil
		}
		found, ok := catalog.ByName(strings.TrimSpace(name))
		if !ok {
			return mcpError(fmt.Sprintf("no boss named %q", name)), nil
		}

		b, err := json.Marshal(found)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal boss: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		if deps.Interactions == nil {
			return nil, errors.New("interaction log not configured")
		}
		interactions, err := deps.Interactions.GetRecentInteractions(recentLimit, "")
		if err != nil {
			return nil, fmt.Errorf("failed to get recent interactions: %w", err)
		}

		type interactionSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			UserID    string `json:"user_id"`
			Status    string `json:"status"`
			Prompt    string `json:"prompt"`
		}

		summaries := make([]interactionSummary, len(interactions))
		for i, ix := range interactions {
			summaries[i] = interactionSummary{
				ID:        ix.ID,
				CreatedAt: ix.CreatedAt.Format(time.RFC3339),
				UserID:    ix.UserID,
				Status:    ix.Status,
				Prompt:    preview(ix.Prompt),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal interactions: %w", err)
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

func preview(s string) string {
	if utf8.RuneCountInString(s) <= maxPreviewRunes {
		return s
	}
	return string([]rune(s)[:maxPreviewRunes]) + "..."
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
