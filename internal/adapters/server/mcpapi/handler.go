// Package mcpapi provides a stateless MCP streamable-HTTP adapter exposing
// the board item lifecycle as tools.
package mcpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/hylla/boardflow/internal/app"
	"github.com/hylla/boardflow/internal/domain"
)

// Config captures MCP transport configuration.
type Config struct {
	ServerName    string
	ServerVersion string
	EndpointPath  string
	// Subdomain is forwarded on every tool-triggered remote call.
	Subdomain string
}

// Handler wraps one stateless MCP streamable HTTP handler.
type Handler struct {
	httpHandler http.Handler
}

// NewHandler builds one stateless MCP adapter over the lifecycle service.
func NewHandler(cfg Config, service *app.Service) (*Handler, error) {
	if service == nil {
		return nil, fmt.Errorf("lifecycle service is required")
	}
	cfg = normalizeConfig(cfg)

	mcpSrv := mcpserver.NewMCPServer(
		cfg.ServerName,
		cfg.ServerVersion,
		mcpserver.WithToolCapabilities(false),
	)
	registerItemTools(mcpSrv, service, cfg.Subdomain)

	streamable := mcpserver.NewStreamableHTTPServer(
		mcpSrv,
		mcpserver.WithEndpointPath(cfg.EndpointPath),
		mcpserver.WithStateLess(true),
	)
	return &Handler{httpHandler: streamable}, nil
}

// ServeHTTP handles one MCP streamable HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.httpHandler == nil {
		http.Error(w, "mcp handler unavailable", http.StatusServiceUnavailable)
		return
	}
	h.httpHandler.ServeHTTP(w, r)
}

// normalizeConfig applies deterministic defaults to MCP adapter config.
func normalizeConfig(cfg Config) Config {
	cfg.ServerName = strings.TrimSpace(cfg.ServerName)
	if cfg.ServerName == "" {
		cfg.ServerName = "boardflow"
	}
	cfg.ServerVersion = strings.TrimSpace(cfg.ServerVersion)
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	cfg.EndpointPath = strings.TrimSpace(cfg.EndpointPath)
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/mcp"
	}
	if !strings.HasPrefix(cfg.EndpointPath, "/") {
		cfg.EndpointPath = "/" + cfg.EndpointPath
	}
	cfg.EndpointPath = "/" + strings.Trim(cfg.EndpointPath, "/")
	if cfg.Subdomain == "" {
		cfg.Subdomain = "os"
	}
	return cfg
}

// kindEnum lists the kinds accepted by the tools.
func kindEnum() []string {
	return []string{"deal", "task", "ticket"}
}

// registerItemTools registers the lifecycle tool surface.
func registerItemTools(srv *mcpserver.MCPServer, service *app.Service, subdomain string) {
	srv.AddTool(
		mcp.NewTool(
			"boardflow.add_item",
			mcp.WithDescription("Create one board item in a stage."),
			mcp.WithString("kind", mcp.Required(), mcp.Description("Item kind"), mcp.Enum(kindEnum()...)),
			mcp.WithString("stage_id", mcp.Required(), mcp.Description("Destination stage identifier")),
			mcp.WithString("name", mcp.Required(), mcp.Description("Item name")),
			mcp.WithString("process_id", mcp.Required(), mcp.Description("Client process identifier echoed on change events")),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("Acting user identifier")),
			mcp.WithString("above_item_id", mcp.Description("Insert below this item")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			kind, err := req.RequireString("kind")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			stageID, err := req.RequireString("stage_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			name, err := req.RequireString("name")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			processID, err := req.RequireString("process_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			userID, err := req.RequireString("user_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			item, err := service.ItemsAdd(ctx, app.AddItemInput{
				Kind:        domain.Kind(kind),
				Subdomain:   subdomain,
				ProcessID:   processID,
				Actor:       domain.User{ID: userID},
				StageID:     stageID,
				Name:        name,
				AboveItemID: req.GetString("above_item_id", ""),
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			return toolResultJSON(item)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"boardflow.move_item",
			mcp.WithDescription("Move one item to a new stage position."),
			mcp.WithString("kind", mcp.Required(), mcp.Description("Item kind"), mcp.Enum(kindEnum()...)),
			mcp.WithString("item_id", mcp.Required(), mcp.Description("Item identifier")),
			mcp.WithString("destination_stage_id", mcp.Required(), mcp.Description("Destination stage identifier")),
			mcp.WithString("process_id", mcp.Required(), mcp.Description("Client process identifier echoed on change events")),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("Acting user identifier")),
			mcp.WithString("above_item_id", mcp.Description("Insert below this item")),
			mcp.WithString("source_stage_id", mcp.Description("Stage the item is moving from")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			kind, err := req.RequireString("kind")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			itemID, err := req.RequireString("item_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			destination, err := req.RequireString("destination_stage_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			processID, err := req.RequireString("process_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			userID, err := req.RequireString("user_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			item, err := service.ItemsChange(ctx, app.MoveItemInput{
				Kind:               domain.Kind(kind),
				Subdomain:          subdomain,
				ProcessID:          processID,
				Actor:              domain.User{ID: userID},
				ItemID:             itemID,
				AboveItemID:        req.GetString("above_item_id", ""),
				DestinationStageID: destination,
				SourceStageID:      req.GetString("source_stage_id", ""),
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			return toolResultJSON(item)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"boardflow.archive_stage",
			mcp.WithDescription("Archive every active item in one stage."),
			mcp.WithString("kind", mcp.Required(), mcp.Description("Item kind"), mcp.Enum(kindEnum()...)),
			mcp.WithString("stage_id", mcp.Required(), mcp.Description("Stage identifier")),
			mcp.WithString("process_id", mcp.Required(), mcp.Description("Client process identifier echoed on change events")),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("Acting user identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			kind, err := req.RequireString("kind")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			stageID, err := req.RequireString("stage_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			processID, err := req.RequireString("process_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			userID, err := req.RequireString("user_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			archived, err := service.ItemsArchive(ctx, app.ArchiveStageInput{
				Kind:      domain.Kind(kind),
				Subdomain: subdomain,
				ProcessID: processID,
				Actor:     domain.User{ID: userID},
				StageID:   stageID,
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			return toolResultJSON(map[string]int64{"archived": archived})
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"boardflow.get_item",
			mcp.WithDescription("Fetch one board item by id."),
			mcp.WithString("kind", mcp.Required(), mcp.Description("Item kind"), mcp.Enum(kindEnum()...)),
			mcp.WithString("item_id", mcp.Required(), mcp.Description("Item identifier")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			kind, err := req.RequireString("kind")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			itemID, err := req.RequireString("item_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			item, err := service.GetItem(ctx, domain.Kind(kind), itemID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return toolResultJSON(item)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"boardflow.list_stage_items",
			mcp.WithDescription("List the items of one stage in display order."),
			mcp.WithString("kind", mcp.Required(), mcp.Description("Item kind"), mcp.Enum(kindEnum()...)),
			mcp.WithString("stage_id", mcp.Required(), mcp.Description("Stage identifier")),
			mcp.WithBoolean("include_archived", mcp.Description("Include archived items")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			kind, err := req.RequireString("kind")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			stageID, err := req.RequireString("stage_id")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			items, err := service.ListStageItems(ctx, domain.Kind(kind), stageID, req.GetBool("include_archived", false))
			if err != nil {
				return toolResultFromError(err), nil
			}
			return toolResultJSON(items)
		},
	)
}

// toolResultJSON wraps a value as a JSON tool result.
func toolResultJSON(v any) (*mcp.CallToolResult, error) {
	result, err := mcp.NewToolResultJSON(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return result, nil
}

// toolResultFromError prefixes engine errors with a stable category tag.
func toolResultFromError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		return mcp.NewToolResultError("permission_denied: " + err.Error())
	case errors.Is(err, app.ErrNotFound):
		return mcp.NewToolResultError("not_found: " + err.Error())
	case errors.Is(err, app.ErrScoreShortage):
		return mcp.NewToolResultError("precondition_failed: " + err.Error())
	default:
		return mcp.NewToolResultError(err.Error())
	}
}
