package mesh

import (
	"errors"
	"fmt"

	"github.com/anonmeet/anonmeet/internal/media"
	"github.com/anonmeet/anonmeet/internal/transport"
)

// Track substitution swaps the outgoing video across every live session
// without renegotiating: no handshake record is ever written here and no
// session leaves its current state.

// ReplaceOutgoingVideo swaps the outgoing video track on every Negotiating
// or Connected session. A nil track reverts to the camera track when one
// exists, otherwise the video goes absent. Sessions without a video sender
// fail explicitly with ErrMediaUnavailable; adding a sender mid-call would
// need a renegotiation, which this operation never performs.
func (c *Coordinator) ReplaceOutgoingVideo(track transport.Track) error {
	return c.do(func() error {
		return c.replaceOutgoingVideo(track)
	})
}

func (c *Coordinator) replaceOutgoingVideo(track transport.Track) error {
	if track == nil && c.camera != nil {
		track = c.camera.VideoTrack()
	}

	var firstErr error
	for id, link := range c.links {
		state := link.session.State()
		if state != StateNegotiating && state != StateConnected {
			continue
		}
		if err := link.session.conn.ReplaceTrack("video", track); err != nil {
			if errors.Is(err, transport.ErrNoSender) {
				err = fmt.Errorf("%w: no outgoing video toward this peer", ErrMediaUnavailable)
			}
			if firstErr == nil {
				firstErr = newPeerError("replace video track", id, err)
			}
			c.log.Warn().Err(err).Str("peer", id).Msg("track substitution failed")
		}
	}
	return firstErr
}

// StartScreenShare substitutes the screen stream's video track for the
// camera track across the mesh. Starting an already-running share is a
// no-op.
func (c *Coordinator) StartScreenShare(screen *media.Stream) error {
	return c.do(func() error {
		if c.screen != nil {
			return nil
		}
		if screen == nil || screen.VideoTrack() == nil {
			return fmt.Errorf("%w: screen stream has no video track", ErrMediaUnavailable)
		}
		if err := c.replaceOutgoingVideo(screen.VideoTrack()); err != nil {
			// Some peers may already carry the screen track; put them back
			// on the camera so the mesh matches the reported state.
			if revertErr := c.replaceOutgoingVideo(nil); revertErr != nil {
				c.log.Warn().Err(revertErr).Msg("screen share rollback incomplete")
			}
			return err
		}
		c.screen = screen
		c.publish()
		return nil
	})
}

// StopScreenShare reverts the outgoing video to the camera track; the
// local entry's video-off state falls back to the camera's enabled state.
func (c *Coordinator) StopScreenShare() error {
	return c.do(func() error {
		if c.screen == nil {
			return nil
		}
		c.screen = nil
		if err := c.replaceOutgoingVideo(nil); err != nil {
			c.publish()
			return err
		}
		c.publish()
		return nil
	})
}

// ToggleAudio flips the local microphone. Reported as a no-op failure when
// the stream carries no audio track.
func (c *Coordinator) ToggleAudio(enabled bool) error {
	return c.do(func() error {
		if c.camera == nil {
			return fmt.Errorf("%w: no local stream", ErrMediaUnavailable)
		}
		if err := c.camera.SetAudioEnabled(enabled); err != nil {
			return fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
		}
		c.publish()
		return nil
	})
}

// ToggleVideo flips the local camera. Disabling video is refused while a
// screen share runs, matching the display layer's rule.
func (c *Coordinator) ToggleVideo(enabled bool) error {
	return c.do(func() error {
		if c.camera == nil {
			return fmt.Errorf("%w: no local stream", ErrMediaUnavailable)
		}
		if c.screen != nil && !enabled {
			c.notice(NoticeWarn, "cannot turn off video while screen sharing")
			return nil
		}
		if err := c.camera.SetVideoEnabled(enabled); err != nil {
			return fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
		}
		c.publish()
		return nil
	})
}
