package pion

import (
	"errors"
	"fmt"

	webrtc "github.com/pion/webrtc/v4"

	"github.com/anonmeet/anonmeet/internal/transport"
)

// Track wraps a pion local track as a transport.Track.
type Track struct {
	local webrtc.TrackLocal
}

func (t *Track) Kind() string {
	return t.local.Kind().String()
}

func (t *Track) ID() string {
	return t.local.ID()
}

// Local exposes the underlying pion track for capture pipelines that write
// samples into it.
func (t *Track) Local() webrtc.TrackLocal {
	return t.local
}

// NewAudioTrack creates an Opus audio track bound to streamID.
func NewAudioTrack(id, streamID string) (*Track, error) {
	lt, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	return &Track{local: lt}, nil
}

// NewVideoTrack creates a VP8 video track bound to streamID.
func NewVideoTrack(id, streamID string) (*Track, error) {
	lt, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, id, streamID)
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}
	return &Track{local: lt}, nil
}

func unwrap(t transport.Track) (webrtc.TrackLocal, error) {
	wrapped, ok := t.(*Track)
	if !ok {
		return nil, errors.New("track was not created by this engine")
	}
	return wrapped.local, nil
}
