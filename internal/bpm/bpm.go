// Package bpm reads track metadata out of MP4 files: the container
// duration and, by decoding the first seconds of audio, the tempo.
//
// Pipeline:
//  1. Parse the MP4 container (abema/go-mp4)
//  2. Identify the audio codec from the stsd sample entries
//  3. Decode frames to mono float32 PCM
//     - AAC:  skrashevich/go-aac
//     - Opus: lostromb/concentus
//  4. Onset flux + autocorrelation -> BPM
package bpm

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	gomp4 "github.com/abema/go-mp4"
	concentus "github.com/lostromb/concentus/go/opus"
	aacdecoder "github.com/skrashevich/go-aac/pkg/decoder"
)

// window is how many seconds of audio are decoded for tempo detection.
const window = 30

// ErrNoAudio is returned when a file has no decodable audio track.
var ErrNoAudio = errors.New("bpm: no audio track")

// Result is what Analyse learns about a file. Zero fields are unknown.
type Result struct {
	Duration float64
	BPM      float64
}

// Duration returns the playing time of an MP4 file in seconds.
func Duration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("bpm: open %s: %w", path, err)
	}
	defer f.Close()
	info, err := gomp4.Probe(f)
	if err != nil {
		return 0, fmt.Errorf("bpm: read %s: %w", path, err)
	}
	return containerDuration(info), nil
}

// Analyse reads the duration of path and detects the tempo of its audio.
// A file without usable audio still reports its duration together with
// ErrNoAudio.
func Analyse(path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("bpm: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := gomp4.Probe(f)
	if err != nil {
		return Result{}, fmt.Errorf("bpm: read %s: %w", path, err)
	}
	res := Result{Duration: containerDuration(info)}

	pcm, rate, err := decode(f, info)
	if err != nil {
		return res, fmt.Errorf("bpm: %s: %w", path, err)
	}
	res.BPM = Detect(pcm, rate)
	return res, nil
}

func containerDuration(info *gomp4.ProbeInfo) float64 {
	if info.Timescale > 0 && info.Duration > 0 {
		return float64(info.Duration) / float64(info.Timescale)
	}
	var longest float64
	for _, t := range info.Tracks {
		if t.Timescale == 0 {
			continue
		}
		if d := float64(t.Duration) / float64(t.Timescale); d > longest {
			longest = d
		}
	}
	return longest
}

type codec int

const (
	codecNone codec = iota
	codecAAC
	codecOpus
)

// sniffCodec walks the sample description boxes. go-mp4 only
// tags mp4a, so Opus has to be found by box type.
func sniffCodec(rs io.ReadSeeker) codec {
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return codecNone
	}
	found := codecNone
	_, _ = gomp4.ReadBoxStructure(rs, func(h *gomp4.ReadHandle) (interface{}, error) {
		if found != codecNone {
			return nil, nil
		}
		switch h.BoxInfo.Type {
		case gomp4.BoxTypeMp4a():
			found = codecAAC
		case gomp4.BoxTypeOpus():
			found = codecOpus
		case gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeMdia(),
			gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeStsd():
			// Never expand mdat.
			_, _ = h.Expand()
		}
		return nil, nil
	})
	return found
}

func decode(rs io.ReadSeeker, info *gomp4.ProbeInfo) ([]float32, int, error) {
	c := sniffCodec(rs)
	track := audioTrack(info, c)
	if track == nil {
		return nil, 0, ErrNoAudio
	}
	switch c {
	case codecAAC:
		return decodeAAC(rs, track)
	case codecOpus:
		return decodeOpus(rs, track)
	}
	return nil, 0, fmt.Errorf("%w: unsupported codec", ErrNoAudio)
}

func audioTrack(info *gomp4.ProbeInfo, c codec) *gomp4.Track {
	if c == codecAAC {
		for _, t := range info.Tracks {
			if t.Codec == gomp4.CodecMP4A {
				return t
			}
		}
	}
	for _, t := range info.Tracks {
		if t.Codec == gomp4.CodecAVC1 || len(t.Samples) == 0 || len(t.Chunks) == 0 {
			continue
		}
		switch t.Timescale {
		case 8000, 11025, 12000, 16000, 22050, 24000, 32000, 44100, 48000, 88200, 96000:
			return t
		}
	}
	return nil
}

// frame is one compressed audio sample in the file.
type frame struct {
	offset uint64
	size   uint32
}

// frames flattens the chunk table of track into at most limit frames.
func frames(track *gomp4.Track, limit int) []frame {
	out := make([]frame, 0, min(limit, len(track.Samples)))
	n := 0
	for _, ch := range track.Chunks {
		off := ch.DataOffset
		for range ch.SamplesPerChunk {
			if n >= len(track.Samples) || len(out) >= limit {
				return out
			}
			sz := track.Samples[n].Size
			out = append(out, frame{offset: off, size: sz})
			off += uint64(sz)
			n++
		}
	}
	return out
}

// eachFrame reads every frame into a shared buffer and hands it to fn until
// fn returns false. Frames that cannot be read are skipped.
func eachFrame(rs io.ReadSeeker, list []frame, fn func(raw []byte) bool) {
	var largest uint32
	for _, f := range list {
		largest = max(largest, f.size)
	}
	buf := make([]byte, largest)
	for _, f := range list {
		if _, err := rs.Seek(int64(f.offset), io.SeekStart); err != nil {
			continue
		}
		raw := buf[:f.size]
		if _, err := io.ReadFull(rs, raw); err != nil {
			continue
		}
		if !fn(raw) {
			return
		}
	}
}

func decodeAAC(rs io.ReadSeeker, track *gomp4.Track) ([]float32, int, error) {
	asc, err := audioSpecificConfig(rs)
	if err != nil {
		return nil, 0, err
	}
	dec := aacdecoder.New()
	if err := dec.SetASC(asc); err != nil {
		return nil, 0, fmt.Errorf("aac config: %w", err)
	}
	rate := int(track.Timescale)
	if dec.Config.SampleRate > 0 {
		rate = dec.Config.SampleRate
	}
	channels := max(dec.Config.ChanConfig, 1)
	want := rate * window

	// AAC frames carry 1024 samples each.
	mono := make([]float32, 0, want)
	eachFrame(rs, frames(track, 2*(want/1024+1)), func(raw []byte) bool {
		pcm, err := dec.DecodeFrame(raw)
		if err != nil {
			slog.Debug("bpm: skip aac frame", "error", err)
			return true
		}
		mono = downmix(mono, len(pcm)/channels, channels, func(i int) float32 { return pcm[i] })
		return len(mono) < want
	})
	return mono, rate, nil
}

func audioSpecificConfig(rs io.ReadSeeker) ([]byte, error) {
	stsd := []gomp4.BoxType{gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeMdia(),
		gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeStsd()}
	path := func(tail ...gomp4.BoxType) gomp4.BoxPath {
		return append(append(gomp4.BoxPath{}, stsd...), tail...)
	}
	paths := []gomp4.BoxPath{
		path(gomp4.BoxTypeMp4a(), gomp4.BoxTypeEsds()),
		path(gomp4.BoxTypeMp4a(), gomp4.BoxTypeWave(), gomp4.BoxTypeEsds()),
		path(gomp4.BoxTypeEnca(), gomp4.BoxTypeEsds()),
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	boxes, err := gomp4.ExtractBoxesWithPayload(rs, nil, paths)
	if err != nil {
		return nil, fmt.Errorf("extract esds: %w", err)
	}
	for _, b := range boxes {
		esds, ok := b.Payload.(*gomp4.Esds)
		if !ok {
			continue
		}
		for _, d := range esds.Descriptors {
			if d.Tag == gomp4.DecSpecificInfoTag && len(d.Data) >= 2 {
				return d.Data, nil
			}
		}
	}
	return nil, errors.New("aac: AudioSpecificConfig not found")
}

// Opus packets hold at most 120 ms, 5760 samples per channel at 48 kHz.
const opusMaxFrame = 5760

func decodeOpus(rs io.ReadSeeker, track *gomp4.Track) ([]float32, int, error) {
	rate := int(track.Timescale)
	switch rate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		rate = 48000
	}
	dec, err := concentus.NewOpusDecoder(rate, 2)
	if err != nil {
		return nil, 0, fmt.Errorf("opus decoder: %w", err)
	}
	want := rate * window
	pcm := make([]int16, opusMaxFrame*2)
	mono := make([]float32, 0, want)
	failed := 0

	// 20 ms packets: 960 samples at 48 kHz.
	eachFrame(rs, frames(track, 2*(want/960+1)), func(raw []byte) bool {
		if len(raw) <= 3 {
			return true
		}
		n, err := dec.Decode(raw, 0, len(raw), pcm, 0, opusMaxFrame, false)
		if err != nil {
			failed++
			return true
		}
		mono = downmix(mono, n, 2, func(i int) float32 { return float32(pcm[i]) / 32768 })
		return len(mono) < want
	})
	if failed > 0 {
		slog.Debug("bpm: skipped opus packets", "count", failed)
	}
	return mono, rate, nil
}

// downmix appends n interleaved frames of the given channel count as mono.
func downmix(dst []float32, n, channels int, sample func(i int) float32) []float32 {
	for i := range n {
		var sum float32
		for ch := range channels {
			sum += sample(i*channels + ch)
		}
		dst = append(dst, sum/float32(channels))
	}
	return dst
}
