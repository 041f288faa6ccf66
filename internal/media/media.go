// Package media moves media between the relay and local storage: bounded
// inbound downloads, mime-based kind classification, and loading of local
// files for outbound upload.
package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Kind is the coarse media category that selects the relay endpoint and
// upload field name.
type Kind string

const (
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindDocument Kind = "document"
)

// KindFromMime classifies a mime type. Anything that is not image, video,
// or audio is a document.
func KindFromMime(mimeType string) Kind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return KindImage
	case strings.HasPrefix(mimeType, "video/"):
		return KindVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return KindAudio
	default:
		return KindDocument
	}
}

// DefaultMime returns the fallback content type per kind, used when the
// source did not report one.
func DefaultMime(kind Kind) string {
	switch kind {
	case KindVideo:
		return "video/mp4"
	case KindAudio:
		return "audio/mpeg"
	case KindImage:
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

// DefaultFilename returns the synthesized upload filename per kind.
func DefaultFilename(kind Kind) string {
	switch kind {
	case KindVideo:
		return "video.mp4"
	case KindAudio:
		return "audio.mp3"
	case KindImage:
		return "image.jpg"
	default:
		return "document"
	}
}

// IsRemoteURL reports whether the media source is a remote URL rather than
// a local filesystem path.
func IsRemoteURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// ResolvePath resolves a relative media path against the workspace
// directory. Absolute and ~-prefixed paths pass through.
func ResolvePath(workspace, mediaPath string) string {
	if filepath.IsAbs(mediaPath) || strings.HasPrefix(mediaPath, "~") {
		return mediaPath
	}
	return filepath.Join(workspace, mediaPath)
}

// Asset is a loaded piece of media ready for upload. It is owned by the
// transfer that created it and released once the consuming call returns.
type Asset struct {
	Data     []byte
	MimeType string
	Filename string
}

// Transfer downloads inbound media and loads local files for upload.
type Transfer struct {
	httpc    *http.Client
	maxBytes int64
	dir      string
	logger   *slog.Logger
}

// NewTransfer creates a Transfer saving downloads under dir, refusing
// items larger than maxBytes.
func NewTransfer(dir string, maxBytes int64, timeoutClient *http.Client, logger *slog.Logger) *Transfer {
	if timeoutClient == nil {
		timeoutClient = http.DefaultClient
	}
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &Transfer{httpc: timeoutClient, maxBytes: maxBytes, dir: dir, logger: logger}
}

// DownloadAll fetches each URL and saves it locally, returning local paths
// aligned by index with the input. A failed item yields an empty string in
// its slot (the original URL remains the fallback); one failing item never
// aborts the batch.
func (t *Transfer) DownloadAll(ctx context.Context, urls, mimeTypes []string, accountID string) []string {
	paths := make([]string, len(urls))
	for i, u := range urls {
		hint := ""
		if i < len(mimeTypes) {
			hint = mimeTypes[i]
		}
		p, err := t.download(ctx, u, hint)
		if err != nil {
			t.logger.Error("media download failed",
				"account", accountID,
				"index", i,
				"total", len(urls),
				"err", err,
			)
			continue
		}
		paths[i] = p
	}
	return paths
}

func (t *Transfer) download(ctx context.Context, url, mimeHint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := t.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch %s: HTTP %d", url, resp.StatusCode)
	}

	// Read one byte past the limit to detect oversized bodies.
	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > t.maxBytes {
		return "", fmt.Errorf("media exceeds %d bytes", t.maxBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mimeHint
	}
	return t.save(data, contentType)
}

func (t *Transfer) save(data []byte, contentType string) (string, error) {
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}
	name := "inbound-" + uuid.NewString() + extensionFor(contentType)
	p := filepath.Join(t.dir, name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("write media file: %w", err)
	}
	return p, nil
}

// LoadLocal reads a local file for upload and detects its content type by
// sniffing the leading bytes, falling back to the file extension.
func (t *Transfer) LoadLocal(p string) (*Asset, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read media file: %w", err)
	}

	mimeType := http.DetectContentType(data)
	if mimeType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(filepath.Ext(p)); byExt != "" {
			mimeType = byExt
		}
	}
	// Strip charset parameters the sniffer appends to text types.
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}

	name := path.Base(filepath.ToSlash(p))
	if name == "" || name == "." || name == "/" {
		name = DefaultFilename(KindFromMime(mimeType))
	}

	return &Asset{Data: data, MimeType: mimeType, Filename: name}, nil
}

// extensionFor picks a filename extension for a content type. Common types
// get their conventional extension; unknown ones fall back to .bin.
func extensionFor(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "audio/mpeg":
		return ".mp3"
	case "application/pdf":
		return ".pdf"
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
