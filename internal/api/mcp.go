package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/vidrag/internal/catalog"
	"github.com/kalambet/vidrag/internal/ingest"
	"github.com/kalambet/vidrag/internal/segment"
)

// NewMCPServer creates an MCP server with the vidrag tools and resources
// registered.
func NewMCPServer(deps Deps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"vidrag",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("vidrag: import videos and ask questions answered from their transcript and frames."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("import_video",
			mcp.WithDescription("Download a video, transcribe it and index its transcript and frames. Blocks until the import finishes."),
			mcp.WithString("video_url", mcp.Description("URL of the video (YouTube or a direct/page link)"), mcp.Required()),
			mcp.WithString("video_id", mcp.Description("Optional id to store the video under")),
			mcp.WithBoolean("replace", mcp.Description("Replace previously imported data of this video")),
		),
		mcpImportVideo(deps),
	)

	s.AddTool(
		mcp.NewTool("ask_video",
			mcp.WithDescription("Answer a question about an imported video. Time ranges in the answer link into the video."),
			mcp.WithString("video_id", mcp.Description("Id of an imported video"), mcp.Required()),
			mcp.WithString("question", mcp.Description("Question about the video"), mcp.Required()),
		),
		mcpAskVideo(deps),
	)

	s.AddTool(
		mcp.NewTool("list_videos",
			mcp.WithDescription("List imported videos with their metadata."),
		),
		mcpListVideos(deps),
	)

	s.AddTool(
		mcp.NewTool("clear_video",
			mcp.WithDescription("Delete every stored segment, frame and catalog entry of a video."),
			mcp.WithString("video_id", mcp.Description("Id of the video to clear"), mcp.Required()),
		),
		mcpClearVideo(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"vidrag://videos",
			"Imported Videos",
			mcp.WithResourceDescription("Catalog of imported videos as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceVideos(deps),
	)

	return s
}

func mcpImportVideo(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		videoURL, err := req.RequireString("video_url")
		if err != nil {
			return mcpError("video_url is required"), nil
		}
		if err := validateVideoURL(videoURL); err != nil {
			return mcpError(err.Error()), nil
		}

		ireq := ingest.Request{
			URL:     videoURL,
			VideoID: req.GetString("video_id", ""),
			Replace: req.GetBool("replace", false),
		}
		if ireq.VideoID != "" {
			if err := segment.VideoID(ireq.VideoID).Validate(); err != nil {
				return mcpError(err.Error()), nil
			}
		}

		var log []string
		for ev := range deps.Importer.Run(ctx, ireq) {
			log = append(log, ev.Message)
			switch ev.Kind {
			case ingest.EventError:
				return mcpError(strings.Join(log, "\n")), nil
			case ingest.EventSuccess:
				log = append(log, "video_id: "+string(ev.VideoID))
			}
		}
		if ctx.Err() != nil {
			return mcpError("import cancelled"), nil
		}
		return mcpText(strings.Join(log, "\n")), nil
	}
}

func mcpAskVideo(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		videoID, err := req.RequireString("video_id")
		if err != nil {
			return mcpError("video_id is required"), nil
		}
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		if err := segment.VideoID(videoID).Validate(); err != nil {
			return mcpError(err.Error()), nil
		}

		tokens, err := ask(ctx, deps, segment.VideoID(videoID), question)
		if err != nil {
			return mcpError(fmt.Sprintf("retrieval failed: %v", err)), nil
		}
		for tok, err := range tokens {
			if err != nil {
				return mcpError(fmt.Sprintf("answer failed: %v", err)), nil
			}
			if tok.End {
				return mcpText(tok.Text), nil
			}
		}
		return mcpError("answer ended without a result"), nil
	}
}

func mcpListVideos(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := videosJSON(ctx, deps)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpClearVideo(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		videoID, err := req.RequireString("video_id")
		if err != nil {
			return mcpError("video_id is required"), nil
		}
		res, err := deps.Importer.Clear(ctx, segment.VideoID(videoID))
		if errors.Is(err, segment.ErrInvalidVideoID) {
			return mcpError(err.Error()), nil
		}
		if errors.Is(err, catalog.ErrNotFound) {
			return mcpError(fmt.Sprintf("video %s not found", videoID)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("clear failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Cleared %s: %d transcript segments, %d frames", videoID, res.Texts, res.Images)), nil
	}
}

func mcpResourceVideos(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := videosJSON(ctx, deps)
		if err != nil {
			return nil, err
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

func videosJSON(ctx context.Context, deps Deps) ([]byte, error) {
	videos, err := deps.Catalog.ListVideos(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	if videos == nil {
		videos = []catalog.Video{}
	}
	b, err := json.Marshal(videos)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal videos: %w", err)
	}
	return b, nil
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
