package waterdelen

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ctessum/geom"
)

// DefaultBaseURL is the production PDOK endpoint for BGT custom downloads.
const DefaultBaseURL = "https://api.pdok.nl"

const customDownloadPath = "/lv/bgt/download/v1_0/full/custom"

// Client downloads waterdeel polygons from the PDOK BGT custom-download
// API. The API is asynchronous: a download request returns a status URL
// that is polled until the extract is ready as a zip archive.
//
// I/O failures are returned to the caller unchanged; the client never
// retries internally.
type Client struct {
	BaseURL      string
	HTTPClient   *http.Client
	PollInterval time.Duration
}

// NewClient returns a client against the production PDOK endpoint.
func NewClient() *Client {
	return &Client{
		BaseURL:      DefaultBaseURL,
		HTTPClient:   &http.Client{Timeout: 60 * time.Second},
		PollInterval: time.Second,
	}
}

type downloadRequest struct {
	FeatureTypes []string `json:"featuretypes"`
	Format       string   `json:"format"`
	GeoFilter    string   `json:"geofilter"`
}

type link struct {
	Href string `json:"href"`
}

type downloadResponse struct {
	Links struct {
		Status link `json:"status"`
	} `json:"_links"`
}

type statusResponse struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Links    struct {
		Download link `json:"download"`
	} `json:"_links"`
}

// Download fetches all waterdeel polygons intersecting bbox. It blocks
// until the extract is ready or ctx is cancelled.
func (c *Client) Download(ctx context.Context, bbox geom.Bounds) ([]WaterBody, error) {
	statusURL, err := c.requestExtract(ctx, bbox)
	if err != nil {
		return nil, err
	}
	zipURL, err := c.awaitExtract(ctx, statusURL)
	if err != nil {
		return nil, err
	}
	archive, err := c.get(ctx, zipURL)
	if err != nil {
		return nil, fmt.Errorf("download waterdeel archive: %w", err)
	}
	return decodeArchive(archive)
}

// requestExtract posts the custom-download request and returns the status URL.
func (c *Client) requestExtract(ctx context.Context, bbox geom.Bounds) (string, error) {
	body, err := json.Marshal(downloadRequest{
		FeatureTypes: []string{"waterdeel"},
		Format:       "geojson",
		GeoFilter:    wktEnvelope(bbox),
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+customDownloadPath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request waterdeel extract: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("request waterdeel extract: unexpected status %s", resp.Status)
	}
	var dr downloadResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return "", fmt.Errorf("decode extract response: %w", err)
	}
	if dr.Links.Status.Href == "" {
		return "", fmt.Errorf("extract response carries no status link")
	}
	return dr.Links.Status.Href, nil
}

// awaitExtract polls the status URL until the extract completes and returns
// the download URL for the zip archive.
func (c *Client) awaitExtract(ctx context.Context, statusURL string) (string, error) {
	for {
		data, err := c.get(ctx, statusURL)
		if err != nil {
			return "", fmt.Errorf("poll extract status: %w", err)
		}
		var st statusResponse
		if err := json.Unmarshal(data, &st); err != nil {
			return "", fmt.Errorf("decode extract status: %w", err)
		}
		switch st.Status {
		case "COMPLETED":
			if st.Links.Download.Href == "" {
				return "", fmt.Errorf("completed extract carries no download link")
			}
			return st.Links.Download.Href, nil
		case "FAILED":
			return "", fmt.Errorf("waterdeel extract failed upstream")
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.PollInterval):
		}
	}
}

// get fetches a relative or absolute URL and returns the body.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	if len(url) > 0 && url[0] == '/' {
		url = c.BaseURL + url
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// decodeArchive reads the first member of the extract zip as GeoJSON.
func decodeArchive(data []byte) ([]WaterBody, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open waterdeel archive: %w", err)
	}
	if len(zr.File) == 0 {
		return nil, fmt.Errorf("waterdeel archive is empty")
	}
	rc, err := zr.File[0].Open()
	if err != nil {
		return nil, fmt.Errorf("open archive member %s: %w", zr.File[0].Name, err)
	}
	defer rc.Close()
	payload, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read archive member %s: %w", zr.File[0].Name, err)
	}
	return FromGeoJSON(payload)
}

// wktEnvelope renders bbox as the closed WKT polygon the geofilter expects.
func wktEnvelope(b geom.Bounds) string {
	return fmt.Sprintf("POLYGON((%g %g,%g %g,%g %g,%g %g,%g %g))",
		b.Min.X, b.Min.Y,
		b.Max.X, b.Min.Y,
		b.Max.X, b.Max.Y,
		b.Min.X, b.Max.Y,
		b.Min.X, b.Min.Y)
}
