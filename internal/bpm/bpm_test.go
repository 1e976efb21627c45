package bpm

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFold(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{120, 120},
		{50, 100},
		{25, 100},
		{300, 150},
		{128.04, 128},
		{0, 0},
		{-5, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Fold(tt.in), "Fold(%v)", tt.in)
	}
}

func TestDistance(t *testing.T) {
	assert.Zero(t, Distance(128, 128))
	assert.Zero(t, Distance(128, 64), "half time")
	assert.Zero(t, Distance(64, 128))
	assert.Equal(t, 8.0, Distance(120, 128))
}

// clicks renders a click every period seconds.
func clicks(rate int, seconds, period float64) []float32 {
	pcm := make([]float32, int(float64(rate)*seconds))
	step := int(float64(rate) * period)
	for at := 0; at < len(pcm); at += step {
		for i := at; i < min(at+200, len(pcm)); i++ {
			pcm[i] = 1
		}
	}
	return pcm
}

func TestDetectClickTrack(t *testing.T) {
	// 40 analysis windows per second puts a 120 BPM click every 20 windows.
	rate := hop * 40
	assert.Equal(t, 120.0, Detect(clicks(rate, 10, 0.5), rate))
}

func TestDetectTooShort(t *testing.T) {
	assert.Zero(t, Detect(make([]float32, hop*2), 44100))
	assert.Zero(t, Detect(clicks(44100, 10, 0.5), 0))
	assert.Zero(t, Detect(nil, 44100))
}

func TestAnalyseRejectsNonMP4(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.mp4")
	require.NoError(t, os.WriteFile(path, []byte("not a video"), 0o644))
	_, err := Analyse(path)
	assert.Error(t, err)

	_, err = Duration(filepath.Join(t.TempDir(), "missing.mp4"))
	assert.Error(t, err)
}
