package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/vidrag/internal/config"
)

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import <url>",
	Short: "Import a video into the index",
	Long: `Import a video: download it, sample frames, transcribe the audio and
index both.

Examples:
  vidrag import https://www.youtube.com/watch?v=EDj-Xo8AlSU
  vidrag import https://example.com/talk.mp4 --id talk-2024
  vidrag import https://youtu.be/EDj-Xo8AlSU --replace`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		replace, _ := cmd.Flags().GetBool("replace")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		_, err = runImport(cmd.Context(), client, importRequest{
			VideoURL: args[0],
			VideoID:  id,
			Replace:  replace,
		})
		return err
	},
}

func init() {
	importCmd.Flags().String("id", "", "video id to store under (derived from the URL when empty)")
	importCmd.Flags().Bool("replace", false, "remove previously indexed data for this id first")
}

type importRequest struct {
	VideoURL string `json:"video_url"`
	VideoID  string `json:"video_id,omitempty"`
	Replace  bool   `json:"replace,omitempty"`
}

type importEvent struct {
	Message string `json:"message"`
	VideoID string `json:"video_id"`
	Error   string `json:"error"`
	Stage   string `json:"stage"`
}

// runImport renders import progress and returns the stored video id.
func runImport(ctx context.Context, client *apiClient, req importRequest) (string, error) {
	var videoID string
	err := client.stream(ctx, "/import", req, func(event string, data []byte) error {
		var ev importEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("decoding import event: %w", err)
		}
		if event == "error" {
			if ev.Stage != "" {
				return fmt.Errorf("%s (stage: %s)", ev.Message, ev.Stage)
			}
			return errors.New(ev.Message)
		}
		if ev.VideoID != "" {
			videoID = ev.VideoID
			printSuccess("%s", ev.Message)
			fmt.Fprintln(stdout, ev.VideoID)
			return nil
		}
		printStep("%s", ev.Message)
		return nil
	})
	if err != nil {
		return "", err
	}
	if videoID == "" {
		return "", errors.New("import stream ended before completion")
	}
	return videoID, nil
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <video_id> <question>",
	Short: "Ask a question about an imported video",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runAsk(cmd.Context(), client, args[0], strings.Join(args[1:], " "))
	},
}

type answerToken struct {
	Text string `json:"text"`
	End  bool   `json:"end"`
}

// runAsk prints the answer to stdout as it streams in.
func runAsk(ctx context.Context, client *apiClient, videoID, question string) error {
	body := map[string]string{"video_id": videoID, "question": question}
	ended := false
	err := client.stream(ctx, "/query", body, func(event string, data []byte) error {
		if event == "error" {
			var env struct {
				Error struct {
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.Unmarshal(data, &env); err != nil || env.Error.Message == "" {
				return fmt.Errorf("answer failed: %s", data)
			}
			return fmt.Errorf("answer failed: %s", env.Error.Message)
		}
		var tok answerToken
		if err := json.Unmarshal(data, &tok); err != nil {
			return fmt.Errorf("decoding answer token: %w", err)
		}
		fmt.Fprint(stdout, tok.Text)
		if tok.End {
			ended = true
		}
		return nil
	})
	fmt.Fprintln(stdout)
	if err != nil {
		return err
	}
	if !ended {
		return errors.New("answer stream ended early")
	}
	return nil
}

// --- videos ---

type videoInfo struct {
	ID         string    `json:"video_id"`
	SourceURL  string    `json:"source_url"`
	Title      string    `json:"title"`
	Author     string    `json:"author"`
	Views      int64     `json:"views"`
	Length     float64   `json:"length"`
	Frames     int       `json:"frames"`
	Segments   int       `json:"segments"`
	ImportedAt time.Time `json:"imported_at"`
}

var videosCmd = &cobra.Command{
	Use:   "videos [video_id]",
	Short: "List imported videos, or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if len(args) == 1 {
			return showVideo(cmd.Context(), client, args[0])
		}
		return listVideos(cmd.Context(), client)
	},
}

func listVideos(ctx context.Context, client *apiClient) error {
	resp, err := client.get(ctx, "/videos")
	if err != nil {
		return err
	}
	var videos []videoInfo
	if err := decodeJSON(resp, &videos); err != nil {
		return err
	}
	if len(videos) == 0 {
		printWarning("no videos imported yet")
		return nil
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VIDEO ID\tLENGTH\tFRAMES\tSEGMENTS\tTITLE")
	for _, v := range videos {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", v.ID, formatLength(v.Length), v.Frames, v.Segments, v.Title)
	}
	return tw.Flush()
}

func showVideo(ctx context.Context, client *apiClient, id string) error {
	resp, err := client.get(ctx, "/videos/"+url.PathEscape(id))
	if err != nil {
		return err
	}
	var v videoInfo
	if err := decodeJSON(resp, &v); err != nil {
		return err
	}
	printStatus("Video", "%s", v.ID)
	printStatus("Source", "%s", v.SourceURL)
	if v.Title != "" {
		printStatus("Title", "%s", v.Title)
	}
	if v.Author != "" {
		printStatus("Author", "%s", v.Author)
	}
	printStatus("Length", "%s", formatLength(v.Length))
	printStatus("Frames", "%d", v.Frames)
	printStatus("Segments", "%d", v.Segments)
	printStatus("Imported", "%s", v.ImportedAt.Local().Format(time.DateTime))
	return nil
}

func formatLength(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// --- clear ---

var clearCmd = &cobra.Command{
	Use:   "clear <video_id>",
	Short: "Remove a video's segments, frames and catalog entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runClear(cmd.Context(), client, args[0])
	},
}

type clearResult struct {
	VideoID string `json:"video_id"`
	Texts   int    `json:"texts"`
	Images  int    `json:"images"`
}

func runClear(ctx context.Context, client *apiClient, id string) error {
	resp, err := client.delete(ctx, "/videos/"+url.PathEscape(id))
	if err != nil {
		return err
	}
	var res clearResult
	if err := decodeJSON(resp, &res); err != nil {
		return err
	}
	printSuccess("Cleared %s (%s, %s)", res.VideoID, countLabel(res.Texts, "segment"), countLabel(res.Images, "frame"))
	return nil
}

// countLabel renders n with a pluralised noun; negative counts come from
// backends that do not report deletions.
func countLabel(n int, noun string) string {
	switch {
	case n < 0:
		return noun + "s removed"
	case n == 1:
		return "1 " + noun
	default:
		return fmt.Sprintf("%d %ss", n, noun)
	}
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadClient()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value. Valid keys:\n  " +
		strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
