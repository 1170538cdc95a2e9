package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gocv.io/x/gocv"
)

func writeTestCrop(t *testing.T, dir, name string, w, h int) {
	t.Helper()
	m := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	defer m.Close()
	require.True(t, gocv.IMWrite(filepath.Join(dir, name), m))
}

func TestLoadLibrary(t *testing.T) {
	dir := t.TempDir()
	writeTestCrop(t, dir, "gauntlet_a1.png", 24, 24)
	writeTestCrop(t, dir, "gauntlet_b2.png", 30, 28)
	writeTestCrop(t, dir, "sword_c3.png", 16, 16)

	// Noise the scan must ignore.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, TrueformDirName), 0755))
	writeTestCrop(t, filepath.Join(dir, TrueformDirName), "gauntlet_right_trueform.png", 20, 20)

	l, err := LoadLibrary(dir)
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, 3, l.Count())
	assert.Equal(t, []string{"gauntlet_a1", "gauntlet_b2", "sword_c3"}, l.Names())
	assert.Equal(t, []string{"gauntlet", "sword"}, l.Presets())

	// Templates load as grayscale.
	for name, m := range l.Templates() {
		assert.Equal(t, 1, m.Channels(), "template %s should be grayscale", name)
	}
}

func TestLoadLibraryMissingDir(t *testing.T) {
	_, err := LoadLibrary(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestLoadLibrarySkipsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	writeTestCrop(t, dir, "gauntlet_ok.png", 20, 20)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gauntlet_bad.png"), []byte("not a png"), 0644))

	l, err := LoadLibrary(dir)
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, 1, l.Count())
	assert.Equal(t, []string{"gauntlet_ok"}, l.Names())
}

func TestAddSample(t *testing.T) {
	dir := t.TempDir()
	writeTestCrop(t, dir, "gauntlet_seed.png", 20, 20)

	l, err := LoadLibrary(dir)
	require.NoError(t, err)
	defer l.Close()

	crop := gocv.NewMatWithSize(32, 32, gocv.MatTypeCV8UC3)
	defer crop.Close()

	name, err := l.AddSample("gauntlet", crop)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "gauntlet_"))
	assert.Equal(t, 2, l.Count())

	// The crop landed on disk and survives a fresh scan.
	l2, err := LoadLibrary(dir)
	require.NoError(t, err)
	defer l2.Close()
	assert.Equal(t, 2, l2.Count())
}

func TestAddSampleRejectsUnderscorePreset(t *testing.T) {
	dir := t.TempDir()
	writeTestCrop(t, dir, "gauntlet_seed.png", 20, 20)

	l, err := LoadLibrary(dir)
	require.NoError(t, err)
	defer l.Close()

	crop := gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC3)
	defer crop.Close()

	_, err = l.AddSample("bad_name", crop)
	assert.Error(t, err)
}

func TestSamplesFor(t *testing.T) {
	dir := t.TempDir()
	writeTestCrop(t, dir, "gauntlet_a.png", 24, 24)
	writeTestCrop(t, dir, "gauntlet_b.png", 24, 24)
	writeTestCrop(t, dir, "sword_a.png", 16, 16)

	l, err := LoadLibrary(dir)
	require.NoError(t, err)
	defer l.Close()

	samples, err := l.SamplesFor("gauntlet")
	require.NoError(t, err)
	defer func() {
		for i := range samples {
			samples[i].Image.Close()
		}
	}()

	require.Len(t, samples, 2)
	assert.Equal(t, "gauntlet_a", samples[0].Name)
	assert.Equal(t, "gauntlet_b", samples[1].Name)
	assert.Equal(t, 3, samples[0].Image.Channels(), "samples load in color")

	none, err := l.SamplesFor("shield")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestTrueformDir(t *testing.T) {
	dir := t.TempDir()
	writeTestCrop(t, dir, "gauntlet_a.png", 8, 8)

	l, err := LoadLibrary(dir)
	require.NoError(t, err)
	defer l.Close()

	tfDir, err := l.TrueformDir()
	require.NoError(t, err)
	info, err := os.Stat(tfDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
