package composer

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"

	"golang.org/x/image/draw"

	"github.com/kalambet/vidrag/internal/segment"
)

// promptImageSize is the square size frames are scaled to before upload.
const promptImageSize = 512

// EncodeFrame reads the frame at path, scales it to 512x512 and returns it
// as a base64 PNG data URL.
func EncodeFrame(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return "", fmt.Errorf("decoding frame: %w", err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, promptImageSize, promptImageSize))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return "", fmt.Errorf("encoding frame: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func framePaths(frames []segment.ImageFrame) []string {
	paths := make([]string, len(frames))
	for i, f := range frames {
		paths[i] = f.Path
	}
	return paths
}
