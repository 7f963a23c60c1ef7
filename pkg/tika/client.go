// Package tika extracts per-page text and inline images through an Apache
// Tika server.
package tika

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/net/html"

	"policy-rag-go/internal/config"
)

// Page is the text of one page plus the names of the images placed on it,
// in document order.
type Page struct {
	Number     int
	Text       string
	ImageNames []string
}

// Client talks to a Tika server.
type Client struct {
	serverURL string
	http      *http.Client
}

// NewClient creates a Tika client.
func NewClient(cfg config.TikaConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{serverURL: strings.TrimRight(cfg.ServerURL, "/"), http: &http.Client{Timeout: timeout}}
}

func (c *Client) put(ctx context.Context, endpoint string, data []byte, fileName, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.serverURL+endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create tika request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("Content-Type", detectMimeType(fileName))
	req.Header.Set("X-Tika-PDFextractInlineImages", "true")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call tika %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tika response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tika %s returned %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// ExtractPages asks Tika for XHTML and splits it on page divs. Formats
// without pages come back as a single page.
func (c *Client) ExtractPages(ctx context.Context, data []byte, fileName string) ([]Page, error) {
	body, err := c.put(ctx, "/tika", data, fileName, "text/html")
	if err != nil {
		return nil, err
	}
	return ParseXHTMLPages(bytes.NewReader(body))
}

// ExtractImages returns the embedded resources of a document keyed by the
// name Tika uses in its XHTML output.
func (c *Client) ExtractImages(ctx context.Context, data []byte, fileName string) (map[string][]byte, error) {
	body, err := c.put(ctx, "/unpack/all", data, fileName, "application/zip")
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return map[string][]byte{}, nil
	}
	return readZip(body)
}

func readZip(body []byte) (map[string][]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("open unpack archive: %w", err)
	}
	out := make(map[string][]byte)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !isImageName(f.Name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		out[path.Base(f.Name)] = b
	}
	return out, nil
}

func isImageName(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff":
		return true
	}
	return false
}

// ParseXHTMLPages walks Tika XHTML. Each <div class="page"> starts a page;
// block elements end a line; <img src="embedded:NAME"> records NAME on the
// current page.
func ParseXHTMLPages(r io.Reader) ([]Page, error) {
	z := html.NewTokenizer(r)

	var (
		pages     []Page
		cur       *Page
		text      strings.Builder
		pageDepth int
		depth     int
		inBody    bool
		skip      int
	)
	flush := func() {
		if cur != nil {
			cur.Text = strings.TrimSpace(text.String())
			pages = append(pages, *cur)
			cur = nil
			text.Reset()
		}
	}
	ensurePage := func() {
		if cur == nil {
			cur = &Page{Number: len(pages) + 1}
		}
	}

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				flush()
				return pages, nil
			}
			return nil, fmt.Errorf("parse tika xhtml: %w", z.Err())

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "body":
				inBody = true
			case "script", "style", "title", "head":
				if tt == html.StartTagToken {
					skip++
				}
			case "div":
				if tt == html.SelfClosingTagToken {
					continue
				}
				depth++
				if attr(tok, "class") == "page" {
					flush()
					cur = &Page{Number: len(pages) + 1}
					pageDepth = depth
				}
			case "img":
				if src := attr(tok, "src"); strings.HasPrefix(src, "embedded:") {
					ensurePage()
					cur.ImageNames = append(cur.ImageNames, strings.TrimPrefix(src, "embedded:"))
				}
			case "br":
				text.WriteByte('\n')
			}

		case html.EndTagToken:
			tok := z.Token()
			switch tok.Data {
			case "script", "style", "title", "head":
				if skip > 0 {
					skip--
				}
			case "div":
				if pageDepth > 0 && depth == pageDepth {
					flush()
					pageDepth = 0
				}
				depth--
			case "p", "h1", "h2", "h3", "h4", "h5", "h6", "li", "tr":
				text.WriteByte('\n')
			case "body":
				inBody = false
			}

		case html.TextToken:
			if !inBody || skip > 0 {
				continue
			}
			t := string(z.Text())
			if strings.TrimSpace(t) == "" {
				if cur != nil {
					text.WriteByte(' ')
				}
				continue
			}
			ensurePage()
			text.WriteString(t)
		}
	}
}

func attr(tok html.Token, key string) string {
	for _, a := range tok.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// detectMimeType guesses the Content-Type from the file extension.
func detectMimeType(fileName string) string {
	ext := filepath.Ext(fileName)
	if ext == "" {
		return "application/octet-stream"
	}
	if mimeType := mime.TypeByExtension(ext); mimeType != "" {
		return mimeType
	}
	return "application/octet-stream"
}
