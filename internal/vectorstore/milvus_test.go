package vectorstore

import (
	"testing"

	"github.com/kalambet/vidrag/internal/segment"
)

func TestVideoExprEscapes(t *testing.T) {
	tests := []struct {
		id   segment.VideoID
		want string
	}{
		{"EDj-Xo8AlSU", `video_id == "EDj-Xo8AlSU"`},
		{`a"b`, `video_id == "a\"b"`},
		{`abc\`, `video_id == "abc\\"`},
		{`a\"b`, `video_id == "a\\\"b"`},
	}
	for _, tt := range tests {
		if got := videoExpr(tt.id); got != tt.want {
			t.Errorf("videoExpr(%q) = %s, want %s", tt.id, got, tt.want)
		}
	}
}
