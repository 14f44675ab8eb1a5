package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hpungsan/ferry/internal/content"
	"github.com/hpungsan/ferry/internal/offline"
)

// contentResponse mirrors the JSON returned by GET /content/{kind}/{id}.
type contentResponse struct {
	Title     string               `json:"title"`
	Subject   string               `json:"subject"`
	SizeBytes int64                `json:"sizeBytes"`
	ExpiresAt *time.Time           `json:"expiresAt,omitempty"`
	Metadata  content.TypeMetadata `json:"typeMetadata"`
	Payload   json.RawMessage      `json:"payload"`
}

func (c *Client) contentURL(id string, kind content.Kind) string {
	return c.baseURL + "/content/" + url.PathEscape(string(kind)) + "/" + url.PathEscape(id)
}

// Size returns the advertised size of an item via HEAD. The size reported is
// the transfer length, which the stored entry falls back to when the body
// does not declare sizeBytes.
func (c *Client) Size(ctx context.Context, id string, kind content.Kind) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.contentURL(id, kind), nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("requesting content size: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if resp.ContentLength < 0 {
		return 0, nil
	}
	return resp.ContentLength, nil
}

// Fetch downloads an item. onProgress receives the share of Content-Length
// read so far; servers that omit the length only report 100 at the end.
func (c *Client) Fetch(ctx context.Context, id string, kind content.Kind, onProgress func(pct float64)) (*offline.Fetched, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.contentURL(id, kind), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting content: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
	}

	body := &progressReader{r: resp.Body, total: resp.ContentLength, onProgress: onProgress}
	var cr contentResponse
	if err := json.NewDecoder(body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if onProgress != nil {
		onProgress(100)
	}

	size := cr.SizeBytes
	if size <= 0 {
		size = body.read
	}
	return &offline.Fetched{
		Title:     cr.Title,
		Subject:   cr.Subject,
		SizeBytes: size,
		ExpiresAt: cr.ExpiresAt,
		Metadata:  cr.Metadata,
		Payload:   cr.Payload,
	}, nil
}

// progressReader counts bytes and reports progress against total.
type progressReader struct {
	r          io.Reader
	total      int64
	read       int64
	onProgress func(float64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if n > 0 && p.total > 0 && p.onProgress != nil {
		p.onProgress(min(float64(p.read)*100/float64(p.total), 100))
	}
	return n, err
}

var (
	_ offline.Fetcher = (*Client)(nil)
	_ offline.Sizer   = (*Client)(nil)
	_ offline.Syncer  = (*Client)(nil)
	_ offline.Probe   = (*Client)(nil)
)
