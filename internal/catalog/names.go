package catalog

import (
	"hash/fnv"
	"path/filepath"
	"strconv"
	"strings"
)

// parseName splits a file name of the form "Artist - Title.mp4". Names
// without the separator are all title.
func parseName(name string) (artist, title string) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	stem = strings.TrimSpace(stripBPMTag(stem))
	if a, t, ok := strings.Cut(stem, " - "); ok && strings.TrimSpace(a) != "" && strings.TrimSpace(t) != "" {
		return strings.TrimSpace(a), strings.TrimSpace(t)
	}
	return "", stem
}

// stripBPMTag drops a trailing "128bpm" style tag and its separator.
func stripBPMTag(stem string) string {
	lower := strings.ToLower(stem)
	if !strings.HasSuffix(lower, "bpm") {
		return stem
	}
	i := len(stem) - len("bpm")
	for i > 0 && (isDigit(stem[i-1]) || stem[i-1] == '.') {
		i--
	}
	if i == len(stem)-len("bpm") {
		return stem
	}
	return strings.TrimRight(stem[:i], " _-[(")
}

// parseBPM extracts a tempo tag such as "track_128bpm.mp4" or
// "Song - 124.5BPM.mp4". It returns 0 when there is none.
func parseBPM(name string) float64 {
	lower := strings.ToLower(name)
	idx := strings.Index(lower, "bpm")
	if idx <= 0 {
		return 0
	}
	end := idx
	for end > 0 && lower[end-1] == ' ' {
		end--
	}
	start := end
	for start > 0 && (isDigit(lower[start-1]) || lower[start-1] == '.') {
		start--
	}
	num := strings.Trim(lower[start:end], ".")
	if num == "" {
		return 0
	}
	// Keep only the first decimal point.
	if first := strings.IndexByte(num, '.'); first >= 0 {
		if second := strings.IndexByte(num[first+1:], '.'); second >= 0 {
			num = num[:first+1+second]
		}
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	return v
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// similarity scores two strings from 0 to 1 by Levenshtein distance over
// the longer length.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	return 1 - float64(levenshtein(a, b))/float64(max(len(a), len(b)))
}

// levenshtein is the edit distance between a and b, computed in one row.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}
	if b == "" {
		return len(a)
	}
	row := make([]int, len(b)+1)
	for j := range row {
		row[j] = j
	}
	for i := 1; i <= len(a); i++ {
		diag := row[0]
		row[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			above := row[j]
			row[j] = min(row[j-1]+1, above+1, diag+cost)
			diag = above
		}
	}
	return row[len(b)]
}

// stableIndex maps key to [0, n) deterministically.
func stableIndex(key string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
