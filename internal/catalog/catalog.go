// Package catalog records which videos have been imported, with the
// metadata the download step reported for them.
package catalog

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a video is not in the catalog.
var ErrNotFound = errors.New("video not found")

// Video describes one successfully imported video.
type Video struct {
	ID         string    `json:"video_id"`
	SourceURL  string    `json:"source_url"`
	Title      string    `json:"title,omitempty"`
	Author     string    `json:"author,omitempty"`
	Views      int64     `json:"views,omitempty"`
	Length     float64   `json:"length"`
	Frames     int       `json:"frames"`
	Segments   int       `json:"segments"`
	ImportedAt time.Time `json:"imported_at"`
}

// Catalog persists Video records. Saving an existing ID replaces it.
type Catalog interface {
	SaveVideo(ctx context.Context, v Video) error
	GetVideo(ctx context.Context, id string) (Video, error)
	ListVideos(ctx context.Context) ([]Video, error)
	DeleteVideo(ctx context.Context, id string) error
}
