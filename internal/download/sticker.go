package download

import (
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// StickerSize is the edge length of a sticker canvas.
const StickerSize = 512

const maxIconBytes = 5 << 20

// Stickers turns app icons into sticker images in the spool.
type Stickers struct {
	client *http.Client
	spool  *Spool
}

// NewStickers creates a sticker maker. A nil client gets a 10 second timeout.
func NewStickers(spool *Spool, client *http.Client) *Stickers {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Stickers{client: client, spool: spool}
}

// FromURL downloads the icon at iconURL, fits it into a transparent square
// canvas and returns the path of the PNG written to the spool.
func (s *Stickers) FromURL(ctx context.Context, iconURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, iconURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch icon: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch icon: status %d", resp.StatusCode)
	}

	src, _, err := image.Decode(io.LimitReader(resp.Body, maxIconBytes))
	if err != nil {
		return "", fmt.Errorf("decode icon: %w", err)
	}

	f, err := s.spool.Create("png")
	if err != nil {
		return "", err
	}
	path := f.Name()
	if err := png.Encode(f, Fit(src, StickerSize)); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("encode sticker: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// Fit scales src to fit inside a size×size transparent canvas, keeping its
// aspect ratio and centering it.
func Fit(src image.Image, size int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, size, size))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return dst
	}
	tw, th := size, size
	if w > h {
		th = h * size / w
	} else if h > w {
		tw = w * size / h
	}
	th, tw = max(th, 1), max(tw, 1)

	x0 := (size - tw) / 2
	y0 := (size - th) / 2
	draw.CatmullRom.Scale(dst, image.Rect(x0, y0, x0+tw, y0+th), src, b, draw.Over, nil)
	return dst
}

// Discard removes a sticker written by FromURL.
func (s *Stickers) Discard(path string) {
	if path == "" {
		return
	}
	_ = s.spool.Remove(path)
}
