package deck

// Status is the display status of a deck.
type Status string

const (
	StatusEmpty     Status = "empty"
	StatusStopped   Status = "stopped"
	StatusCued      Status = "cued"
	StatusBuffering Status = "buffering"
	StatusPlaying   Status = "playing"
	StatusPaused    Status = "paused"
	StatusEnded     Status = "ended"
)

// State is the mutable record of one deck.
type State struct {
	TrackID     string  `json:"trackId,omitempty"`
	Title       string  `json:"title,omitempty"`
	Playing     bool    `json:"playing"`
	CurrentTime float64 `json:"currentTime"` // seconds
	Duration    float64 `json:"duration"`    // seconds, 0 = unknown
	Volume      int     `json:"volume"`      // 0-100
	Status      Status  `json:"status"`
}

// NewState returns an empty deck at full fader volume.
func NewState() State {
	return State{Volume: 100, Status: StatusEmpty}
}

// Loaded reports whether a track is on the deck.
func (s *State) Loaded() bool { return s.TrackID != "" }

// Remaining returns duration - currentTime, or 0 when the duration is unknown.
func (s *State) Remaining() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return s.Duration - s.CurrentTime
}

// Progress returns playback progress in percent (0 when duration unknown).
func (s *State) Progress() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return s.CurrentTime / s.Duration * 100
}

// SetTrack puts a new track on the deck and resets its timing.
// duration may be 0 when not yet known.
func (s *State) SetTrack(id, title string, duration float64) {
	s.TrackID = id
	s.Title = title
	s.CurrentTime = 0
	s.Duration = 0
	s.SetTiming(0, duration)
	if id == "" {
		s.Clear()
	}
}

// Clear removes the track and stops the deck.
func (s *State) Clear() {
	s.TrackID = ""
	s.Title = ""
	s.Playing = false
	s.CurrentTime = 0
	s.Duration = 0
	s.Status = StatusEmpty
}

// SetPlaying updates the play flag. A deck without a track never plays.
func (s *State) SetPlaying(playing bool) {
	s.Playing = playing && s.Loaded()
}

// SetTiming records current time and duration, keeping
// 0 ≤ currentTime ≤ duration once the duration is known.
// A non-positive duration leaves a previously known duration in place.
func (s *State) SetTiming(current, duration float64) {
	if duration > 0 {
		s.Duration = duration
	}
	if current < 0 {
		current = 0
	}
	if s.Duration > 0 && current > s.Duration {
		current = s.Duration
	}
	s.CurrentTime = current
}

// SetVolume clamps the fader volume into 0-100.
func (s *State) SetVolume(v int) {
	s.Volume = ClampLevel(v)
}

// ClampLevel clamps a level control into 0-100.
func ClampLevel(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
