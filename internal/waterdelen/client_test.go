package waterdelen

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ctessum/geom"

	"github.com/tberends/heron/internal/testutil"
)

func zipWithGeoJSON(t *testing.T, payload string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("bgt_waterdeel.json")
	testutil.AssertNoError(t, err)
	_, err = w.Write([]byte(payload))
	testutil.AssertNoError(t, err)
	testutil.AssertNoError(t, zw.Close())
	return buf.Bytes()
}

// newFakePDOK serves the asynchronous custom-download flow: request,
// a pending poll, completion, then the zip archive.
func newFakePDOK(t *testing.T, polls *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+customDownloadPath, func(w http.ResponseWriter, r *http.Request) {
		var req downloadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(req.FeatureTypes) != 1 || req.FeatureTypes[0] != "waterdeel" {
			http.Error(w, "wrong featuretypes", http.StatusBadRequest)
			return
		}
		if req.GeoFilter == "" {
			http.Error(w, "missing geofilter", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"_links":{"status":{"href":"/status/42"}}}`))
	})
	mux.HandleFunc("GET /status/42", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 2 {
			w.Write([]byte(`{"status":"RUNNING","progress":50}`))
			return
		}
		w.Write([]byte(`{"status":"COMPLETED","_links":{"download":{"href":"/download/42"}}}`))
	})
	mux.HandleFunc("GET /download/42", func(w http.ResponseWriter, r *http.Request) {
		w.Write(zipWithGeoJSON(t, sampleGeoJSON))
	})
	return httptest.NewServer(mux)
}

func TestClientDownload(t *testing.T) {
	var polls atomic.Int32
	srv := newFakePDOK(t, &polls)
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, HTTPClient: srv.Client(), PollInterval: time.Millisecond}
	bodies, err := c.Download(context.Background(), geom.Bounds{
		Min: geom.Point{X: 125000, Y: 499000},
		Max: geom.Point{X: 127000, Y: 501000},
	})
	testutil.AssertNoError(t, err)
	if len(bodies) != 3 {
		t.Fatalf("downloaded %d bodies, want 3", len(bodies))
	}
	if polls.Load() < 2 {
		t.Errorf("status polled %d times, want at least 2 (one pending)", polls.Load())
	}
}

func TestClientDownloadFailed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+customDownloadPath, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"_links":{"status":{"href":"/status/7"}}}`))
	})
	mux.HandleFunc("GET /status/7", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"FAILED"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, HTTPClient: srv.Client(), PollInterval: time.Millisecond}
	_, err := c.Download(context.Background(), geom.Bounds{Max: geom.Point{X: 1, Y: 1}})
	testutil.AssertError(t, err)
}

func TestClientDownloadCancelled(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+customDownloadPath, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"_links":{"status":{"href":"/status/9"}}}`))
	})
	mux.HandleFunc("GET /status/9", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"RUNNING"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	c := &Client{BaseURL: srv.URL, HTTPClient: srv.Client(), PollInterval: 5 * time.Millisecond}
	_, err := c.Download(ctx, geom.Bounds{Max: geom.Point{X: 1, Y: 1}})
	testutil.AssertErrorIs(t, err, context.DeadlineExceeded)
}
