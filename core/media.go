package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// TrackKind distinguishes audio from video tracks.
type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

// MediaTrack is one live capture track. Tracks are exclusively owned by the
// call session manager; other components touch them only transiently while
// replacing tracks on a peer connection.
type MediaTrack interface {
	Kind() TrackKind
	Enabled() bool
	// SetEnabled mutes or unmutes the track without renegotiation.
	SetEnabled(enabled bool)
	// Stop releases the underlying capture device. Terminal.
	Stop()
	// OnEnded registers a hook for the source ending the track externally,
	// e.g. the OS-level "stop sharing" control.
	OnEnded(func())
}

// MediaStream is a bundle of tracks from one acquisition.
type MediaStream interface {
	Tracks() []MediaTrack
}

// MediaConstraints selects which kinds of tracks to acquire.
type MediaConstraints struct {
	Video bool
	Audio bool
}

// MediaDevices is the capture layer supplied by the embedding UI. A denied
// permission surfaces as a permission-classified error from GetUserMedia or
// GetDisplayMedia.
type MediaDevices interface {
	GetUserMedia(ctx context.Context, c MediaConstraints) (MediaStream, error)
	GetDisplayMedia(ctx context.Context) (MediaStream, error)
}

// FirstTrack returns the first track of the given kind, or nil.
func FirstTrack(s MediaStream, kind TrackKind) MediaTrack {
	if s == nil {
		return nil
	}
	for _, t := range s.Tracks() {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

// PeerConnection is the signaling surface of one remote peer. The engine
// routes offer/answer/candidate exchanges per remote user ID; the
// negotiation algorithm beyond that exchange belongs to the implementation.
type PeerConnection interface {
	// HandleOffer applies a remote offer and returns the local answer.
	HandleOffer(sdp webrtc.SessionDescription) (webrtc.SessionDescription, error)
	// HandleAnswer applies the remote answer to a previously sent offer.
	HandleAnswer(sdp webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	// ReplaceVideoTrack swaps the outgoing video track, used when toggling
	// screen share.
	ReplaceVideoTrack(t MediaTrack) error
	Close() error
}

// PeerFactory mints a peer connection for one remote participant.
// onRemoteStream delivers that participant's media when it arrives.
type PeerFactory interface {
	NewPeer(remoteUserID string, local MediaStream, onRemoteStream func(MediaStream)) (PeerConnection, error)
}
