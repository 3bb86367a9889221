package download_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/appbot/internal/download"
)

func solid(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestFit(t *testing.T) {
	red := color.RGBA{R: 255, A: 255}

	tests := []struct {
		name        string
		src         image.Image
		opaque      image.Point
		transparent image.Point
	}{
		{name: "square", src: solid(64, 64, red), opaque: image.Pt(256, 256), transparent: image.Pt(-1, -1)},
		{name: "wide", src: solid(200, 100, red), opaque: image.Pt(256, 256), transparent: image.Pt(256, 10)},
		{name: "tall", src: solid(100, 200, red), opaque: image.Pt(256, 256), transparent: image.Pt(10, 256)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := download.Fit(tt.src, download.StickerSize)
			assert.Equal(t, image.Rect(0, 0, 512, 512), out.Bounds())

			c := out.NRGBAAt(tt.opaque.X, tt.opaque.Y)
			assert.Greater(t, c.A, uint8(250))
			assert.Greater(t, c.R, uint8(250))

			if tt.transparent.X >= 0 {
				assert.Equal(t, uint8(0), out.NRGBAAt(tt.transparent.X, tt.transparent.Y).A)
			}
		})
	}
}

func TestFit_EmptySource(t *testing.T) {
	out := download.Fit(image.NewRGBA(image.Rect(0, 0, 0, 0)), 16)
	assert.Equal(t, 16, out.Bounds().Dx())
	assert.Equal(t, uint8(0), out.NRGBAAt(8, 8).A)
}

func TestStickers_FromURL(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(96, 48, color.RGBA{G: 200, A: 255})))
	icon := buf.Bytes()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/icon.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(icon)
		case "/garbage":
			_, _ = w.Write([]byte("not an image"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	spool := newSpool(t)
	stickers := download.NewStickers(spool, srv.Client())

	t.Run("success", func(t *testing.T) {
		path, err := stickers.FromURL(context.Background(), srv.URL+"/icon.png")
		require.NoError(t, err)

		f, err := os.Open(path)
		require.NoError(t, err)
		defer func() { _ = f.Close() }()
		img, err := png.Decode(f)
		require.NoError(t, err)
		assert.Equal(t, 512, img.Bounds().Dx())
		assert.Equal(t, 512, img.Bounds().Dy())
	})

	t.Run("not found", func(t *testing.T) {
		_, err := stickers.FromURL(context.Background(), srv.URL+"/missing.png")
		assert.Error(t, err)
	})

	t.Run("undecodable", func(t *testing.T) {
		_, err := stickers.FromURL(context.Background(), srv.URL+"/garbage")
		assert.ErrorContains(t, err, "decode icon")
	})
}
