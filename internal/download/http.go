package download

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// maxPageBytes bounds how much of an HTML page is parsed for meta tags.
const maxPageBytes = 2 << 20

// HTTPDownloader fetches a media URL directly. When the URL serves an HTML
// page, the page's og:video meta tag is followed once.
type HTTPDownloader struct {
	Client *http.Client
}

// NewHTTPDownloader returns a downloader with a generous timeout suited to
// large files.
func NewHTTPDownloader() *HTTPDownloader {
	return &HTTPDownloader{Client: &http.Client{Timeout: 30 * time.Minute}}
}

// Download fetches rawURL into dir/videoID.mp4. An HTML page is searched for
// an og:video or <video> source, which is fetched instead.
func (d *HTTPDownloader) Download(ctx context.Context, rawURL, videoID, dir string) (Video, error) {
	out, err := outputPath(dir, videoID)
	if err != nil {
		return Video{}, err
	}
	resp, err := d.get(ctx, rawURL)
	if err != nil {
		return Video{}, err
	}
	defer resp.Body.Close()

	var meta Metadata
	if isHTML(resp.Header.Get("Content-Type")) {
		page, err := parsePageMeta(io.LimitReader(resp.Body, maxPageBytes))
		if err != nil {
			return Video{}, fmt.Errorf("parsing page %s: %w", rawURL, err)
		}
		if page.videoURL == "" {
			return Video{}, fmt.Errorf("page %s does not reference a video", rawURL)
		}
		target, err := resolve(rawURL, page.videoURL)
		if err != nil {
			return Video{}, err
		}
		meta = page.Metadata
		resp.Body.Close()

		resp, err = d.get(ctx, target)
		if err != nil {
			return Video{}, err
		}
		defer resp.Body.Close()
		if isHTML(resp.Header.Get("Content-Type")) {
			return Video{}, fmt.Errorf("%s is a page, not a video", target)
		}
	}

	f, err := os.Create(out)
	if err != nil {
		return Video{}, fmt.Errorf("creating %s: %w", out, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return Video{}, fmt.Errorf("writing %s: %w", out, err)
	}
	if err := f.Close(); err != nil {
		return Video{}, fmt.Errorf("closing %s: %w", out, err)
	}

	if meta.Title == "" {
		meta.Title = titleFromURL(rawURL)
	}
	return Video{Path: out, Metadata: meta}, nil
}

func (d *HTTPDownloader) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetching %s: %s", rawURL, resp.Status)
	}
	return resp, nil
}

type pageMeta struct {
	Metadata
	videoURL string
	fromMeta bool
}

// parsePageMeta collects Open Graph video and title tags plus the author
// meta tag from an HTML document.
func parsePageMeta(r io.Reader) (pageMeta, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return pageMeta{}, err
	}

	var pm pageMeta
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "meta":
				applyMeta(&pm, n)
			case "title":
				if pm.Title == "" && n.FirstChild != nil {
					pm.Title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "video", "source":
				if pm.videoURL == "" {
					pm.videoURL = attr(n, "src")
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return pm, nil
}

func applyMeta(pm *pageMeta, n *html.Node) {
	key := attr(n, "property")
	if key == "" {
		key = attr(n, "name")
	}
	content := strings.TrimSpace(attr(n, "content"))
	if content == "" {
		return
	}
	switch key {
	case "og:video", "og:video:url", "og:video:secure_url":
		// The first og:video tag wins over inline <video> elements.
		if !pm.fromMeta {
			pm.videoURL = content
			pm.fromMeta = true
		}
	case "og:title":
		pm.Title = content
	case "author", "article:author":
		pm.Author = content
	}
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func isHTML(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && (mt == "text/html" || mt == "application/xhtml+xml")
}

func resolve(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", base, err)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", ref, err)
	}
	return b.ResolveReference(r).String(), nil
}

func titleFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	name := filepath.Base(u.Path)
	if name == "." || name == "/" {
		return ""
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}
