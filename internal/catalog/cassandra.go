package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gocql/gocql"
)

var _ Catalog = (*CassandraCatalog)(nil)

// CassandraCatalog stores videos in a single table keyed by video_id.
type CassandraCatalog struct {
	session *gocql.Session
}

// NewCassandraCatalog connects to hosts, creating the keyspace and table if
// they do not exist yet.
func NewCassandraCatalog(hosts []string, keyspace string) (*CassandraCatalog, error) {
	bootstrap := gocql.NewCluster(hosts...)
	bootstrap.Consistency = gocql.Quorum
	bootstrap.Timeout = 10 * time.Second
	admin, err := bootstrap.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connecting to cassandra: %w", err)
	}
	err = admin.Query(fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s
		WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}`, keyspace)).Exec()
	admin.Close()
	if err != nil {
		return nil, fmt.Errorf("creating keyspace %s: %w", keyspace, err)
	}

	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 10 * time.Second
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connecting to keyspace %s: %w", keyspace, err)
	}

	if err := session.Query(`CREATE TABLE IF NOT EXISTS videos (
		video_id text PRIMARY KEY,
		source_url text,
		title text,
		author text,
		views bigint,
		length_s double,
		frames int,
		segments int,
		imported_at timestamp
	)`).Exec(); err != nil {
		session.Close()
		return nil, fmt.Errorf("creating videos table: %w", err)
	}

	return &CassandraCatalog{session: session}, nil
}

func (c *CassandraCatalog) Close() error {
	c.session.Close()
	return nil
}

func (c *CassandraCatalog) SaveVideo(ctx context.Context, v Video) error {
	if v.ImportedAt.IsZero() {
		v.ImportedAt = time.Now().UTC()
	}
	err := c.session.Query(`INSERT INTO videos
		(video_id, source_url, title, author, views, length_s, frames, segments, imported_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.SourceURL, v.Title, v.Author, v.Views, v.Length, v.Frames, v.Segments, v.ImportedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("saving video %s: %w", v.ID, err)
	}
	return nil
}

func (c *CassandraCatalog) GetVideo(ctx context.Context, id string) (Video, error) {
	var v Video
	err := c.session.Query(`SELECT video_id, source_url, title, author, views, length_s, frames, segments, imported_at
		FROM videos WHERE video_id = ?`, id).WithContext(ctx).
		Scan(&v.ID, &v.SourceURL, &v.Title, &v.Author, &v.Views, &v.Length, &v.Frames, &v.Segments, &v.ImportedAt)
	if errors.Is(err, gocql.ErrNotFound) {
		return Video{}, ErrNotFound
	}
	if err != nil {
		return Video{}, fmt.Errorf("reading video %s: %w", id, err)
	}
	return v, nil
}

func (c *CassandraCatalog) ListVideos(ctx context.Context) ([]Video, error) {
	iter := c.session.Query(`SELECT video_id, source_url, title, author, views, length_s, frames, segments, imported_at
		FROM videos`).WithContext(ctx).Iter()

	var videos []Video
	var v Video
	for iter.Scan(&v.ID, &v.SourceURL, &v.Title, &v.Author, &v.Views, &v.Length, &v.Frames, &v.Segments, &v.ImportedAt) {
		videos = append(videos, v)
		v = Video{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("listing videos: %w", err)
	}
	sort.Slice(videos, func(i, j int) bool {
		return videos[i].ImportedAt.After(videos[j].ImportedAt)
	})
	return videos, nil
}

func (c *CassandraCatalog) DeleteVideo(ctx context.Context, id string) error {
	if _, err := c.GetVideo(ctx, id); err != nil {
		return err
	}
	if err := c.session.Query(`DELETE FROM videos WHERE video_id = ?`, id).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("deleting video %s: %w", id, err)
	}
	return nil
}
