package bpm

import "math"

// Tempo range reported by Detect.
const (
	MinBPM = 60
	MaxBPM = 200
)

// hop is the analysis window in samples, about 23 ms at 44.1 kHz.
const hop = 1024

// Detect estimates the dominant tempo of mono PCM. It returns 0 when there
// is too little audio. Results are folded into [MinBPM, MaxBPM] and rounded
// to one decimal.
func Detect(pcm []float32, rate int) float64 {
	if rate <= 0 {
		return 0
	}
	flux := onsets(pcm)
	if len(flux) < 4 {
		return 0
	}
	perSecond := float64(rate) / hop
	lo := max(int(perSecond*60/MaxBPM), 1)
	hi := min(int(perSecond*60/MinBPM), len(flux)/2-1)
	if lo >= hi {
		return 0
	}
	lag := strongestLag(flux, lo, hi)
	return Fold(perSecond * 60 / float64(lag))
}

// onsets returns the half-wave rectified RMS energy rise per window.
func onsets(pcm []float32) []float64 {
	n := len(pcm) / hop
	if n == 0 {
		return nil
	}
	flux := make([]float64, n)
	prev := 0.0
	for w := range n {
		var sum float64
		for _, s := range pcm[w*hop : (w+1)*hop] {
			sum += float64(s) * float64(s)
		}
		e := math.Sqrt(sum / hop)
		if w > 0 && e > prev {
			flux[w] = e - prev
		}
		prev = e
	}
	return flux
}

// strongestLag returns the lag in [lo, hi] with the highest mean
// autocorrelation. Ties go to the shorter lag.
func strongestLag(x []float64, lo, hi int) int {
	best, bestCorr := lo, -1.0
	for lag := lo; lag <= hi; lag++ {
		var c float64
		n := len(x) - lag
		for i := range n {
			c += x[i] * x[i+lag]
		}
		if n > 0 {
			c /= float64(n)
		}
		if c > bestCorr {
			best, bestCorr = lag, c
		}
	}
	return best
}

// Fold doubles or halves bpm into [MinBPM, MaxBPM] and rounds it to one
// decimal. Non-positive input returns 0.
func Fold(bpm float64) float64 {
	if bpm <= 0 || math.IsInf(bpm, 0) || math.IsNaN(bpm) {
		return 0
	}
	for bpm < MinBPM {
		bpm *= 2
	}
	for bpm > MaxBPM {
		bpm /= 2
	}
	return math.Round(bpm*10) / 10
}

// Distance is the tempo gap between a and b, allowing either to be played
// at half time.
func Distance(a, b float64) float64 {
	return min(math.Abs(a-b), math.Abs(a-2*b), math.Abs(2*a-b))
}
