// Package media holds the local participant's outgoing media handles. The
// core only attaches, toggles and substitutes tracks; capturing frames and
// prompting for device permissions belong to the capture pipeline feeding
// these tracks.
package media

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/anonmeet/anonmeet/internal/transport"
)

// ErrNoTrack is returned when a toggle names a track kind the stream does
// not carry.
var ErrNoTrack = errors.New("no track of this kind on the stream")

// Stream is a local media stream: at most one audio and one video track,
// each with an enabled flag the capture pipeline honors. Tracks start
// disabled; participants join muted with video off.
type Stream struct {
	id    string
	audio transport.Track
	video transport.Track

	mu      sync.Mutex
	audioOn bool
	videoOn bool
}

// NewStream builds a stream from pre-created tracks. Either track may be
// nil.
func NewStream(audio, video transport.Track) *Stream {
	return &Stream{
		id:    uuid.NewString(),
		audio: audio,
		video: video,
	}
}

func (s *Stream) ID() string {
	return s.id
}

func (s *Stream) AudioTrack() transport.Track {
	return s.audio
}

func (s *Stream) VideoTrack() transport.Track {
	return s.video
}

// Tracks returns the stream's tracks in attach order, skipping absent kinds.
func (s *Stream) Tracks() []transport.Track {
	var out []transport.Track
	if s.audio != nil {
		out = append(out, s.audio)
	}
	if s.video != nil {
		out = append(out, s.video)
	}
	return out
}

// SetAudioEnabled flips the audio track's enabled state.
func (s *Stream) SetAudioEnabled(enabled bool) error {
	if s.audio == nil {
		return ErrNoTrack
	}
	s.mu.Lock()
	s.audioOn = enabled
	s.mu.Unlock()
	return nil
}

// SetVideoEnabled flips the video track's enabled state.
func (s *Stream) SetVideoEnabled(enabled bool) error {
	if s.video == nil {
		return ErrNoTrack
	}
	s.mu.Lock()
	s.videoOn = enabled
	s.mu.Unlock()
	return nil
}

func (s *Stream) AudioEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioOn && s.audio != nil
}

func (s *Stream) VideoEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoOn && s.video != nil
}
