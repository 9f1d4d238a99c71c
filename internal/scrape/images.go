package scrape

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/nrsyed/proboards-scraper/internal/forum"
	"github.com/nrsyed/proboards-scraper/internal/metrics"
)

// contentTypeExt maps sniffed content types to the extension the file
// is stored under. Anything outside this set is treated as an invalid
// image download.
var contentTypeExt = map[string]string{
	"image/jpeg":   "jpg",
	"image/png":    "png",
	"image/gif":    "gif",
	"image/webp":   "webp",
	"image/bmp":    "bmp",
	"image/x-icon": "ico",
}

// processImage downloads url, stores the bytes under an MD5-derived
// filename, and records metadata. A failed or invalid download still
// records a URL-keyed row so avatar and image links stay resolvable.
// The returned Image carries the store-assigned id either way.
func (m *Manager) processImage(ctx context.Context, url string) (*forum.Image, error) {
	img := &forum.Image{URL: url}

	data, status, err := m.fetcher.Download(ctx, url)
	if err != nil || status != http.StatusOK {
		m.logger.Warn("image download failed",
			zap.String("url", url), zap.Int("status", status), zap.Error(err))
		metrics.ObserveImage("failed")
		if _, uerr := m.db.UpsertImage(img); uerr != nil {
			return nil, uerr
		}
		return img, nil
	}

	// The URL's extension is untrustworthy; sniff the bytes instead and
	// drop files that are not images at all.
	ext, ok := contentTypeExt[sniffContentType(data)]
	if !ok {
		m.logger.Warn("downloaded file is not a supported image",
			zap.String("url", url))
		metrics.ObserveImage("invalid")
		if _, uerr := m.db.UpsertImage(img); uerr != nil {
			return nil, uerr
		}
		return img, nil
	}

	sum := md5.Sum(data)
	hash := hex.EncodeToString(sum[:])
	filename := hash + "." + ext
	size := int64(len(data))
	img.MD5Hash = &hash
	img.Filename = &filename
	img.Size = &size

	stored, err := m.images.Exists(ctx, filename)
	if err != nil {
		return nil, fmt.Errorf("check image file %s: %w", filename, err)
	}
	if stored {
		metrics.ObserveImage("duplicate")
	} else {
		contentType := "image/" + ext
		if ext == "jpg" {
			contentType = "image/jpeg"
		}
		if err := m.images.Put(ctx, filename, contentType, data); err != nil {
			return nil, fmt.Errorf("store image %s: %w", filename, err)
		}
		if m.mirror != nil {
			if err := m.mirror.Put(ctx, filename, contentType, data); err != nil {
				m.logger.Warn("image mirror upload failed",
					zap.String("filename", filename), zap.Error(err))
			}
		}
		metrics.ObserveImage("downloaded")
	}

	if _, err := m.db.UpsertImage(img); err != nil {
		return nil, err
	}
	return img, nil
}

// sniffContentType normalizes http.DetectContentType output, which may
// carry parameters.
func sniffContentType(data []byte) string {
	ct := http.DetectContentType(data)
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}
