package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/kalambet/vidrag/internal/catalog"
	"github.com/kalambet/vidrag/internal/segment"
)

// Cleared reports what Clear removed. A count of -1 means the backend did
// not say.
type Cleared struct {
	VideoID segment.VideoID `json:"video_id"`
	Texts   int             `json:"texts"`
	Images  int             `json:"images"`
}

// Clear removes every stored entry, frame file and the catalog record of
// videoID. It returns catalog.ErrNotFound when nothing was known about it
// and an error wrapping segment.ErrInvalidVideoID for ids that could never
// have been stored.
func (p *Pipeline) Clear(ctx context.Context, videoID segment.VideoID) (Cleared, error) {
	res := Cleared{VideoID: videoID}
	framesDir, err := p.FramesDir(videoID)
	if err != nil {
		return res, err
	}
	if res.Texts, err = p.deps.Texts.Clear(ctx, videoID); err != nil {
		return res, fmt.Errorf("clearing texts: %w", err)
	}
	if res.Images, err = p.deps.Images.Clear(ctx, videoID); err != nil {
		return res, fmt.Errorf("clearing images: %w", err)
	}

	_, statErr := os.Stat(framesDir)
	hadFrames := statErr == nil
	if err := os.RemoveAll(framesDir); err != nil {
		p.log.Warn("removing frames", "video_id", videoID, "error", err)
	}

	inCatalog := true
	if p.deps.Catalog != nil {
		err := p.deps.Catalog.DeleteVideo(ctx, string(videoID))
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			inCatalog = false
		case err != nil:
			return res, fmt.Errorf("removing catalog entry: %w", err)
		}
	}

	if !inCatalog && !hadFrames && res.Texts == 0 && res.Images == 0 {
		return res, catalog.ErrNotFound
	}
	p.log.Info("video cleared", "video_id", videoID, "texts", res.Texts, "images", res.Images)
	return res, nil
}
