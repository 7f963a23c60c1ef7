package tika

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policy-rag-go/internal/config"
)

const samplePDFXHTML = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<head><title>Employee Handbook</title></head>
<body>
<div class="page"><p>Section 4 Sick Leave</p>
<p>Employees accrue 8 hours per month.</p>
<img src="embedded:image0.png" alt="image0.png"/>
</div>
<div class="page"><p></p></div>
<div class="page"><div class="annotation"><p>Overtime requires approval.</p></div>
<img src="embedded:image1.jpg"/><img src="embedded:image2.png"/>
</div>
</body></html>`

func TestParseXHTMLPages(t *testing.T) {
	pages, err := ParseXHTMLPages(strings.NewReader(samplePDFXHTML))
	require.NoError(t, err)
	require.Len(t, pages, 3)

	assert.Equal(t, 1, pages[0].Number)
	assert.Contains(t, pages[0].Text, "Section 4 Sick Leave")
	assert.Contains(t, pages[0].Text, "Employees accrue 8 hours per month.")
	assert.NotContains(t, pages[0].Text, "Employee Handbook")
	assert.Equal(t, []string{"image0.png"}, pages[0].ImageNames)

	assert.Equal(t, 2, pages[1].Number)
	assert.Empty(t, pages[1].Text)

	assert.Equal(t, 3, pages[2].Number)
	assert.Equal(t, "Overtime requires approval.", pages[2].Text)
	assert.Equal(t, []string{"image1.jpg", "image2.png"}, pages[2].ImageNames)
}

func TestParseXHTMLWithoutPages(t *testing.T) {
	pages, err := ParseXHTMLPages(strings.NewReader(`<html><body><p>Plain document text.</p></body></html>`))
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, 1, pages[0].Number)
	assert.Equal(t, "Plain document text.", pages[0].Text)
}

func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestClientExtract(t *testing.T) {
	archive := zipOf(t, map[string]string{
		"image0.png":           "png-bytes",
		"nested/image1.jpg":    "jpg-bytes",
		"__METADATA__":         "ignored",
		"__TEXT__":             "ignored",
		"attachment/notes.txt": "ignored",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "application/pdf", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "%PDF-1.7", string(body))
		switch r.URL.Path {
		case "/tika":
			assert.Equal(t, "text/html", r.Header.Get("Accept"))
			_, _ = w.Write([]byte(samplePDFXHTML))
		case "/unpack/all":
			_, _ = w.Write(archive)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(config.TikaConfig{ServerURL: srv.URL})
	ctx := context.Background()

	pages, err := c.ExtractPages(ctx, []byte("%PDF-1.7"), "handbook.pdf")
	require.NoError(t, err)
	assert.Len(t, pages, 3)

	images, err := c.ExtractImages(ctx, []byte("%PDF-1.7"), "handbook.pdf")
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{
		"image0.png": []byte("png-bytes"),
		"image1.jpg": []byte("jpg-bytes"),
	}, images)
}

func TestClientExtractError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte("encrypted document"))
	}))
	defer srv.Close()

	_, err := NewClient(config.TikaConfig{ServerURL: srv.URL}).ExtractPages(context.Background(), []byte("x"), "a.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encrypted document")
}
