package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"sort"
	"strings"
	"time"

	"policy-rag-go/internal/model"
	"policy-rag-go/pkg/llm"
	"policy-rag-go/pkg/log"
	"policy-rag-go/pkg/metrics"
)

// VisionPrompt is sent with every image.
const VisionPrompt = "Describe this image in detail for document search purposes. " +
	"Focus on the content, structure, and key information shown. " +
	"If it's a chart or diagram, explain what it represents. " +
	"If it contains text, include that text in your description."

const (
	DefaultMinImageBytes   = 10000
	DefaultVisionRetries   = 2
	defaultVisionRetryWait = 500 * time.Millisecond
)

var errEmptyDescription = errors.New("vision model returned an empty description")

// VisionDescriber turns PNG bytes into a text description.
type VisionDescriber interface {
	Describe(ctx context.Context, model string, pngData []byte) (string, error)
}

type llmVisionDescriber struct {
	client llm.Client
}

// NewVisionDescriber describes images through a chat model that accepts
// images.
func NewVisionDescriber(client llm.Client) VisionDescriber {
	return &llmVisionDescriber{client: client}
}

func (d *llmVisionDescriber) Describe(ctx context.Context, model string, pngData []byte) (string, error) {
	msgs := []llm.Message{{
		Role:    "user",
		Content: VisionPrompt,
		Images:  []string{base64.StdEncoding.EncodeToString(pngData)},
	}}
	out, err := d.client.Chat(ctx, model, msgs, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ImageChunkerOptions tunes image filtering and retries.
type ImageChunkerOptions struct {
	MinImageBytes int
	MaxRetries    int
	RetryWait     time.Duration
}

// ImageChunker turns embedded images into image chunks.
type ImageChunker struct {
	describer VisionDescriber
	opts      ImageChunkerOptions
}

// NewImageChunker creates an ImageChunker. Zero options take defaults;
// a negative RetryWait disables waiting between attempts.
func NewImageChunker(describer VisionDescriber, opts ImageChunkerOptions) *ImageChunker {
	if opts.MinImageBytes <= 0 {
		opts.MinImageBytes = DefaultMinImageBytes
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultVisionRetries
	}
	if opts.RetryWait == 0 {
		opts.RetryWait = defaultVisionRetryWait
	}
	return &ImageChunker{describer: describer, opts: opts}
}

// Chunks describes each image large enough to matter and returns one chunk
// per non-empty description, ordered by page and image index. A failing
// image is logged and skipped. Only cancellation of ctx is returned.
func (c *ImageChunker) Chunks(ctx context.Context, images []model.Image, visionModel string) ([]model.Chunk, error) {
	if len(images) == 0 {
		return nil, nil
	}
	sorted := append([]model.Image(nil), images...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Page != sorted[j].Page {
			return sorted[i].Page < sorted[j].Page
		}
		return sorted[i].Index < sorted[j].Index
	})

	var chunks []model.Chunk
	for _, img := range sorted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := model.ImageChunkID(img.Page, img.Index)
		if len(img.Data) < c.opts.MinImageBytes {
			log.Debugf("[ImageChunker] skipping %s: %d bytes is below %d", id, len(img.Data), c.opts.MinImageBytes)
			metrics.ImagesDescribed.WithLabelValues("too_small").Inc()
			continue
		}
		pngData, err := ToPNG(img.Data)
		if err != nil {
			log.Warnw("[ImageChunker] image conversion failed", "chunk", id, "page", img.Page, "error", err)
			metrics.ImagesDescribed.WithLabelValues("conversion_error").Inc()
			continue
		}
		desc, err := c.describe(ctx, visionModel, pngData)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			log.Warnw("[ImageChunker] image description failed", "chunk", id, "page", img.Page, "error", err)
			metrics.ImagesDescribed.WithLabelValues("description_error").Inc()
			continue
		}
		chunks = append(chunks, model.NewImageChunk(id, img.Page, desc))
		metrics.ImagesDescribed.WithLabelValues("described").Inc()
	}
	log.Infof("[ImageChunker] %d of %d images produced chunks", len(chunks), len(images))
	return chunks, nil
}

// Describe runs the vision model on one image with the configured retries.
func (c *ImageChunker) Describe(ctx context.Context, visionModel string, data []byte) (string, error) {
	pngData, err := ToPNG(data)
	if err != nil {
		return "", err
	}
	return c.describe(ctx, visionModel, pngData)
}

func (c *ImageChunker) describe(ctx context.Context, visionModel string, pngData []byte) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		desc, err := c.describer.Describe(ctx, visionModel, pngData)
		if err == nil && strings.TrimSpace(desc) != "" {
			return strings.TrimSpace(desc), nil
		}
		if err == nil {
			err = errEmptyDescription
		}
		lastErr = err
		log.Debugf("[ImageChunker] attempt %d/%d failed: %v", attempt, c.opts.MaxRetries, err)

		if attempt < c.opts.MaxRetries && c.opts.RetryWait > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.opts.RetryWait):
			}
		}
	}
	return "", fmt.Errorf("after %d attempts: %w", c.opts.MaxRetries, lastErr)
}

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// ToPNG re-encodes JPEG or GIF data as PNG. PNG input is returned unchanged.
func ToPNG(data []byte) ([]byte, error) {
	if bytes.HasPrefix(data, pngSignature) {
		return data, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
