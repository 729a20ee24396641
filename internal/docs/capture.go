// Package docs runs the scanned-document flow required before a work item may
// claim completion: obtain the scan, normalize it, and upload it to document
// storage. The returned reference is stored on the work item.
package docs

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"daily-work-tracker/internal/config"
)

// Source produces the raw scanned document for a record. The scanner
// integration is external; tests and the dev setup read a file from disk.
type Source interface {
	Scan(ctx context.Context, recordID string) ([]byte, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, recordID string) ([]byte, error)

func (f SourceFunc) Scan(ctx context.Context, recordID string) ([]byte, error) {
	return f(ctx, recordID)
}

// DirSource reads <dir>/<recordID>.jpg style scans dropped by a scanner
// watch-folder.
type DirSource struct {
	Dir string
}

func (d DirSource) Scan(_ context.Context, recordID string) ([]byte, error) {
	matches, err := filepath.Glob(filepath.Join(d.Dir, recordID+".*"))
	if err != nil {
		return nil, fmt.Errorf("glob scans: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no scan found for record %s in %s", recordID, d.Dir)
	}
	return os.ReadFile(matches[0])
}

// Capturer normalizes and uploads scans.
type Capturer struct {
	source   Source
	uploader Uploader
	maxBytes int64
	maxWidth int
}

// NewCapturer wires the flow from config: S3 when a bucket is configured,
// local directory storage otherwise.
func NewCapturer(ctx context.Context, cfg config.Config, source Source) (*Capturer, error) {
	var up Uploader
	if cfg.DocS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		up = &s3Uploader{client: client, bucket: cfg.DocS3Bucket}
	} else {
		up = &localUploader{baseDir: cfg.DocOutputDir}
	}
	maxBytes := cfg.DocMaxBytes
	if maxBytes == 0 {
		maxBytes = 25 * 1024 * 1024
	}
	maxWidth := cfg.DocMaxWidth
	if maxWidth == 0 {
		maxWidth = 1600
	}
	return &Capturer{source: source, uploader: up, maxBytes: maxBytes, maxWidth: maxWidth}, nil
}

// CaptureAndUpload obtains the scan for recordID, normalizes it to a bounded
// JPEG, and uploads it under a key derived from the record and context label.
func (c *Capturer) CaptureAndUpload(ctx context.Context, recordID, contextLabel string) (string, error) {
	raw, err := c.source.Scan(ctx, recordID)
	if err != nil {
		return "", fmt.Errorf("capture scan: %w", err)
	}
	if int64(len(raw)) > c.maxBytes {
		return "", fmt.Errorf("scan too large (%d bytes > %d)", len(raw), c.maxBytes)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("decode scan: %w", err)
	}
	if img.Bounds().Dx() > c.maxWidth {
		img = imaging.Resize(img, c.maxWidth, 0, imaging.Lanczos)
	}

	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return "", fmt.Errorf("encode scan: %w", err)
	}

	key := sanitizeKey(fmt.Sprintf("%s/%s-%d.jpg", recordID, contextLabel, time.Now().UTC().Unix()))
	ref, err := c.uploader.Upload(ctx, key, buf.Bytes(), "image/jpeg")
	if err != nil {
		return "", fmt.Errorf("upload scan: %w", err)
	}
	return ref, nil
}

func sanitizeKey(key string) string {
	key = strings.ReplaceAll(key, ":", "-")
	key = filepath.Clean(key)
	key = strings.TrimPrefix(key, string(filepath.Separator))
	key = strings.TrimPrefix(key, "./")
	return key
}
