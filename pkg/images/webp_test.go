package images

import (
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/webp"

	"github.com/vanbrabantf/sitebuild/pkg/globs"
)

func testImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 16, 9))
	for y := 0; y < 9; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 16), G: uint8(y * 28), B: uint8((x + y) * 8), A: 255})
		}
	}
	return img
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, testImage()))
}

func writeJPEG(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, jpeg.Encode(f, testImage(), &jpeg.Options{Quality: 90}))
}

func decodeFile(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	img, _, err := image.Decode(f)
	require.NoError(t, err)
	return img
}

func decodeWebp(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	img, err := webp.Decode(f)
	require.NoError(t, err)
	return img
}

func assertSamePixels(t *testing.T, expected, actual image.Image) {
	t.Helper()
	require.Equal(t, expected.Bounds(), actual.Bounds())

	b := expected.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			want := color.NRGBAModel.Convert(expected.At(x, y))
			got := color.NRGBAModel.Convert(actual.At(x, y))
			if !assert.Equal(t, want, got, "pixel %d,%d", x, y) {
				return
			}
		}
	}
}

func TestConvertLosslessKeepsPixels(t *testing.T) {
	root := t.TempDir()
	posts := filepath.Join(root, "assets", "posts")
	writePNG(t, filepath.Join(posts, "first", "cover.png"))
	writeJPEG(t, filepath.Join(posts, "second", "photo.jpg"))

	report, err := Convert(context.Background(), Options{
		Sources:  []string{filepath.Join(posts, "*", "*")},
		Dest:     posts,
		Lossless: true,
	})
	require.NoError(t, err)
	assert.Len(t, report.Converted, 2)

	for _, name := range []string{"first/cover", "second/photo"} {
		assert.FileExists(t, filepath.Join(posts, filepath.FromSlash(name)+".webp"))
	}

	// originals stay in place
	assert.FileExists(t, filepath.Join(posts, "first", "cover.png"))
	assert.FileExists(t, filepath.Join(posts, "second", "photo.jpg"))

	assertSamePixels(t, decodeFile(t, filepath.Join(posts, "first", "cover.png")),
		decodeWebp(t, filepath.Join(posts, "first", "cover.webp")))
	assertSamePixels(t, decodeFile(t, filepath.Join(posts, "second", "photo.jpg")),
		decodeWebp(t, filepath.Join(posts, "second", "photo.webp")))
}

func TestConvertSkipsFreshOutputs(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "posts", "a", "img.png")
	writePNG(t, src)

	opts := Options{Sources: []string{filepath.Join(root, "posts", "*", "*")}}
	report, err := Convert(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, report.Converted, 1)

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(src, past, past))

	report, err = Convert(context.Background(), opts)
	require.NoError(t, err)
	assert.Empty(t, report.Converted)
	assert.Equal(t, []string{src}, report.Fresh)
	// the generated .webp file is matched by the glob as well but already in place
	assert.Equal(t, []string{filepath.Join(root, "posts", "a", "img.webp")}, report.Skipped)

	opts.Force = true
	report, err = Convert(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, []string{src}, report.Converted)
}

func TestConvertPassesThroughOtherFiles(t *testing.T) {
	root := t.TempDir()
	notes := filepath.Join(root, "posts", "a", "notes.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(notes), 0o755))
	require.NoError(t, os.WriteFile(notes, []byte("hi"), 0o644))

	report, err := Convert(context.Background(), Options{Sources: []string{filepath.Join(root, "posts", "*", "*")}})
	require.NoError(t, err)
	assert.Equal(t, []string{notes}, report.Skipped)
	assert.NoFileExists(t, filepath.Join(root, "posts", "a", "notes.webp"))
}

func TestConvertFailsOnBrokenImage(t *testing.T) {
	root := t.TempDir()
	broken := filepath.Join(root, "posts", "a", "broken.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(broken), 0o755))
	require.NoError(t, os.WriteFile(broken, []byte("not a png"), 0o644))

	_, err := Convert(context.Background(), Options{Sources: []string{filepath.Join(root, "posts", "*", "*")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.png")
	assert.NoFileExists(t, filepath.Join(root, "posts", "a", "broken.webp"))
}

func TestConvertRejectsOutputCollisions(t *testing.T) {
	root := t.TempDir()
	writePNG(t, filepath.Join(root, "posts", "a", "img.png"))
	writeJPEG(t, filepath.Join(root, "posts", "a", "img.jpg"))

	_, err := Convert(context.Background(), Options{Sources: []string{filepath.Join(root, "posts", "*", "*")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "img.jpg")
	assert.Contains(t, err.Error(), "img.png")
	assert.NoFileExists(t, filepath.Join(root, "posts", "a", "img.webp"))
}

func TestOutputPath(t *testing.T) {
	match := globs.Match{Path: "/site/assets/posts/a/b.JPG", Base: "/site/assets/posts", Rel: "a/b.JPG"}
	assert.Equal(t, filepath.FromSlash("/site/assets/posts/a/b.webp"), OutputPath("", match))
	assert.Equal(t, filepath.FromSlash("/out/a/b.webp"), OutputPath("/out", match))
}
