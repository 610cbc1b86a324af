package thumbnail

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func decodedSize(t *testing.T, data []byte) (int, int, string) {
	t.Helper()
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	return cfg.Width, cfg.Height, format
}

func TestFit(t *testing.T) {
	cases := []struct {
		name         string
		w, h         int
		wantW, wantH int
	}{
		{"landscape", 3000, 2000, 128, 85},
		{"portrait", 2000, 3000, 85, 128},
		{"square", 512, 512, 128, 128},
		{"already small", 100, 50, 100, 50},
		{"thin strip", 10000, 10, 128, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, h := Fit(tc.w, tc.h, 128, 128)
			assert.Equal(t, tc.wantW, w)
			assert.Equal(t, tc.wantH, h)
		})
	}
}

func TestTransformFitsBoundingBox(t *testing.T) {
	tr := New(DefaultOptions())

	out, err := tr.Transform(encodeJPEG(t, 300, 200))
	require.NoError(t, err)

	w, h, format := decodedSize(t, out)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 128, w)
	assert.Equal(t, 85, h)
}

func TestTransformDoesNotUpscale(t *testing.T) {
	tr := New(DefaultOptions())

	out, err := tr.Transform(encodeJPEG(t, 40, 30))
	require.NoError(t, err)

	w, h, _ := decodedSize(t, out)
	assert.Equal(t, 40, w)
	assert.Equal(t, 30, h)
}

func TestTransformReencodesPNG(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 200, 400))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	out, err := New(DefaultOptions()).Transform(buf.Bytes())
	require.NoError(t, err)

	w, h, format := decodedSize(t, out)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 64, w)
	assert.Equal(t, 128, h)
}

func TestTransformRejectsGarbage(t *testing.T) {
	_, err := New(DefaultOptions()).Transform([]byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrUnsupportedImage)
}

func TestTransformRejectsTruncatedImage(t *testing.T) {
	data := encodeJPEG(t, 300, 200)

	_, err := New(DefaultOptions()).Transform(data[:len(data)/2])
	assert.ErrorIs(t, err, ErrUnsupportedImage)
}

func TestTransformPixelLimit(t *testing.T) {
	tr := New(Options{Width: 128, Height: 128, MaxPixels: 1000})

	_, err := tr.Transform(encodeJPEG(t, 100, 100))
	assert.ErrorIs(t, err, ErrImageTooLarge)
}
