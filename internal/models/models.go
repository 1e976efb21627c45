package models

// Track is a playable catalog entry. ID is the opaque track identifier
// carried on decks and over the sync channel (the video file name).
type Track struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Artist    string  `json:"artist,omitempty"`
	Thumbnail string  `json:"thumbnail,omitempty"`
	Duration  float64 `json:"duration,omitempty"` // seconds, 0 = unknown
	BPM       float64 `json:"bpm,omitempty"`
	Path      string  `json:"-"` // absolute file path, server side only
}

// PlaylistEntry is a track at a position in the playlist.
type PlaylistEntry struct {
	Position int `json:"position"`
	Track
}

// ConfigEntry is a key-value pair stored in the database.
type ConfigEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
