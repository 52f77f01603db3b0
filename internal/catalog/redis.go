package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisVideoPrefix = "vidrag:video:"
	redisVideoSet    = "vidrag:videos"
)

var _ Catalog = (*RedisCatalog)(nil)

// RedisCatalog keeps one hash per video plus a set of known ids.
type RedisCatalog struct {
	client *redis.Client
}

// NewRedisCatalog connects to addr and checks the connection.
func NewRedisCatalog(ctx context.Context, addr string) (*RedisCatalog, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return &RedisCatalog{client: client}, nil
}

// NewRedisCatalogWithClient wraps an existing client.
func NewRedisCatalogWithClient(client *redis.Client) *RedisCatalog {
	return &RedisCatalog{client: client}
}

func (c *RedisCatalog) Close() error {
	return c.client.Close()
}

func (c *RedisCatalog) SaveVideo(ctx context.Context, v Video) error {
	if v.ImportedAt.IsZero() {
		v.ImportedAt = time.Now().UTC()
	}
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, redisVideoPrefix+v.ID, map[string]any{
			"source_url":  v.SourceURL,
			"title":       v.Title,
			"author":      v.Author,
			"views":       v.Views,
			"length":      strconv.FormatFloat(v.Length, 'f', -1, 64),
			"frames":      v.Frames,
			"segments":    v.Segments,
			"imported_at": v.ImportedAt.UTC().Format(time.RFC3339),
		})
		p.SAdd(ctx, redisVideoSet, v.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving video %s: %w", v.ID, err)
	}
	return nil
}

func (c *RedisCatalog) GetVideo(ctx context.Context, id string) (Video, error) {
	fields, err := c.client.HGetAll(ctx, redisVideoPrefix+id).Result()
	if err != nil {
		return Video{}, fmt.Errorf("reading video %s: %w", id, err)
	}
	if len(fields) == 0 {
		return Video{}, ErrNotFound
	}
	return videoFromHash(id, fields)
}

func (c *RedisCatalog) ListVideos(ctx context.Context) ([]Video, error) {
	ids, err := c.client.SMembers(ctx, redisVideoSet).Result()
	if err != nil {
		return nil, fmt.Errorf("listing videos: %w", err)
	}
	videos := make([]Video, 0, len(ids))
	for _, id := range ids {
		v, err := c.GetVideo(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	sort.Slice(videos, func(i, j int) bool {
		return videos[i].ImportedAt.After(videos[j].ImportedAt)
	})
	return videos, nil
}

func (c *RedisCatalog) DeleteVideo(ctx context.Context, id string) error {
	removed, err := c.client.SRem(ctx, redisVideoSet, id).Result()
	if err != nil {
		return fmt.Errorf("deleting video %s: %w", id, err)
	}
	if err := c.client.Del(ctx, redisVideoPrefix+id).Err(); err != nil {
		return fmt.Errorf("deleting video %s: %w", id, err)
	}
	if removed == 0 {
		return ErrNotFound
	}
	return nil
}

func videoFromHash(id string, h map[string]string) (Video, error) {
	v := Video{
		ID:        id,
		SourceURL: h["source_url"],
		Title:     h["title"],
		Author:    h["author"],
	}
	var err error
	if s := h["views"]; s != "" {
		if v.Views, err = strconv.ParseInt(s, 10, 64); err != nil {
			return Video{}, fmt.Errorf("parsing views for %s: %w", id, err)
		}
	}
	if s := h["length"]; s != "" {
		if v.Length, err = strconv.ParseFloat(s, 64); err != nil {
			return Video{}, fmt.Errorf("parsing length for %s: %w", id, err)
		}
	}
	if s := h["frames"]; s != "" {
		if v.Frames, err = strconv.Atoi(s); err != nil {
			return Video{}, fmt.Errorf("parsing frames for %s: %w", id, err)
		}
	}
	if s := h["segments"]; s != "" {
		if v.Segments, err = strconv.Atoi(s); err != nil {
			return Video{}, fmt.Errorf("parsing segments for %s: %w", id, err)
		}
	}
	if s := h["imported_at"]; s != "" {
		if v.ImportedAt, err = time.Parse(time.RFC3339, s); err != nil {
			return Video{}, fmt.Errorf("parsing imported_at for %s: %w", id, err)
		}
	}
	return v, nil
}
