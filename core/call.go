package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// CallParticipant is one participant's media state as seen locally.
type CallParticipant struct {
	UserID          string
	Stream          MediaStream
	VideoEnabled    bool
	AudioEnabled    bool
	IsScreenSharing bool
}

// CallManager owns the lifecycle of local and remote media for a room call:
// acquisition and release of the camera/microphone stream, the screen-share
// stream, the per-remote-user peer connections, and the signaling exchange
// over the room's realtime channel.
//
// The local and screen streams are exclusively owned here. EndCall is the
// single authoritative cleanup path: explicit hang-up, shared-space teardown,
// and room switches all funnel into it, and no stream may outlive it.
type CallManager struct {
	devices MediaDevices
	peers   PeerFactory
	channel *Channel
	roomID  string
	userID  string
	logger  *slog.Logger

	mu            sync.Mutex
	inCall        bool
	local         MediaStream
	screen        MediaStream
	videoEnabled  bool
	audioEnabled  bool
	screenSharing bool

	conns   *SyncMap[string, PeerConnection]
	remotes *SyncMap[string, MediaStream]
}

func NewCallManager(devices MediaDevices, peers PeerFactory, channel *Channel, roomID, userID string, logger *slog.Logger) *CallManager {
	return &CallManager{
		devices: devices,
		peers:   peers,
		channel: channel,
		roomID:  roomID,
		userID:  userID,
		logger:  logger.With(slog.String("call", roomID)),
		conns:   NewSyncMap[string, PeerConnection](),
		remotes: NewSyncMap[string, MediaStream](),
	}
}

// StartCall acquires the local audio+video stream and announces the call.
// A denied media permission is surfaced to the caller and leaves the
// manager in its pre-call state.
func (m *CallManager) StartCall(ctx context.Context) error {
	m.mu.Lock()
	if m.inCall {
		m.mu.Unlock()
		return ErrCallActive
	}
	m.mu.Unlock()

	stream, err := m.devices.GetUserMedia(ctx, MediaConstraints{Video: true, Audio: true})
	if err != nil {
		return fmt.Errorf("acquire media: %w", err)
	}

	m.mu.Lock()
	if m.inCall {
		m.mu.Unlock()
		stopStream(stream)
		return ErrCallActive
	}
	m.local = stream
	m.inCall = true
	m.videoEnabled = true
	m.audioEnabled = true
	m.mu.Unlock()

	if err := m.channel.Send(CallStartedEvent, CallPayload{RoomID: m.roomID}); err != nil {
		m.logger.Error(fmt.Sprintf("announce call start: %v", err))
	}
	return nil
}

// EndCall stops every local and screen track, closes all peer connections,
// clears the remote arena, and announces the end. Idempotent; safe to call
// whether or not a call or screen share is active.
func (m *CallManager) EndCall() {
	m.mu.Lock()
	wasInCall := m.inCall
	local, screen := m.local, m.screen
	m.local, m.screen = nil, nil
	m.inCall = false
	m.screenSharing = false
	m.videoEnabled = false
	m.audioEnabled = false
	m.mu.Unlock()

	stopStream(local)
	stopStream(screen)
	for _, pc := range m.conns.Drain() {
		if err := pc.Close(); err != nil {
			m.logger.Error(fmt.Sprintf("close peer: %v", err))
		}
	}
	m.remotes.Drain()

	if wasInCall {
		if err := m.channel.Send(CallEndedEvent, CallPayload{RoomID: m.roomID}); err != nil {
			m.logger.Error(fmt.Sprintf("announce call end: %v", err))
		}
	}
}

// ToggleVideo flips the local video track's enabled flag without
// renegotiating, and returns the new state. Never fails; a missing track
// leaves the flag untouched.
func (m *CallManager) ToggleVideo() bool {
	return m.toggleTrack(TrackVideo)
}

// ToggleAudio flips the local audio track's enabled flag and returns the
// new state.
func (m *CallManager) ToggleAudio() bool {
	return m.toggleTrack(TrackAudio)
}

func (m *CallManager) toggleTrack(kind TrackKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	track := FirstTrack(m.local, kind)
	if track == nil {
		if kind == TrackVideo {
			return m.videoEnabled
		}
		return m.audioEnabled
	}
	track.SetEnabled(!track.Enabled())
	if kind == TrackVideo {
		m.videoEnabled = track.Enabled()
		return m.videoEnabled
	}
	m.audioEnabled = track.Enabled()
	return m.audioEnabled
}

// StartScreenShare acquires a display-capture stream and swaps it in as the
// outgoing video track on every peer connection. External stop (the OS
// "stop sharing" control) runs the same cleanup as StopScreenShare via the
// track's ended hook.
func (m *CallManager) StartScreenShare(ctx context.Context) error {
	m.mu.Lock()
	if !m.inCall {
		m.mu.Unlock()
		return ErrNoCall
	}
	if m.screenSharing {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	stream, err := m.devices.GetDisplayMedia(ctx)
	if err != nil {
		return fmt.Errorf("acquire display media: %w", err)
	}
	track := FirstTrack(stream, TrackVideo)
	if track == nil {
		stopStream(stream)
		return NewValidationError("display capture has no video track")
	}

	m.mu.Lock()
	m.screen = stream
	m.screenSharing = true
	m.mu.Unlock()

	m.conns.RRange(func(userID string, pc PeerConnection) bool {
		if err := pc.ReplaceVideoTrack(track); err != nil {
			m.logger.Error(fmt.Sprintf("replace track for %s: %v", userID, err))
		}
		return true
	})
	track.OnEnded(func() {
		if err := m.StopScreenShare(); err != nil {
			m.logger.Error(fmt.Sprintf("stop screen share: %v", err))
		}
	})
	return nil
}

// StopScreenShare stops the capture stream and restores the camera track on
// every peer connection. If the camera cannot be restored the call is torn
// down through EndCall rather than left with inconsistent tracks.
func (m *CallManager) StopScreenShare() error {
	m.mu.Lock()
	if !m.screenSharing {
		m.mu.Unlock()
		return nil
	}
	screen := m.screen
	m.screen = nil
	m.screenSharing = false
	local := m.local
	m.mu.Unlock()

	stopStream(screen)

	cam := FirstTrack(local, TrackVideo)
	if cam == nil {
		m.EndCall()
		return NewTransportError("camera track unavailable after screen share", nil)
	}
	var restoreErr error
	m.conns.RRange(func(userID string, pc PeerConnection) bool {
		if err := pc.ReplaceVideoTrack(cam); err != nil {
			restoreErr = fmt.Errorf("restore camera for %s: %w", userID, err)
			return false
		}
		return true
	})
	if restoreErr != nil {
		m.EndCall()
		return restoreErr
	}
	return nil
}

// HandleSignal routes an incoming rtc_offer/rtc_answer/rtc_candidate event
// to the peer connection for its originating user. Signals arriving outside
// a call are dropped.
func (m *CallManager) HandleSignal(ctx context.Context, e *Event) error {
	if !m.InCall() {
		m.logger.Debug(fmt.Sprintf("dropping %s outside call", e.Type))
		return nil
	}
	switch e.Type {
	case RTCOfferEvent:
		var p RTCSessionPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal offer: %w", err)
		}
		pc, err := m.ensurePeer(p.FromUserID)
		if err != nil {
			return err
		}
		answer, err := pc.HandleOffer(p.SDP)
		if err != nil {
			return fmt.Errorf("handle offer from %s: %w", p.FromUserID, err)
		}
		return m.channel.Send(RTCAnswerEvent, RTCSessionPayload{
			TargetUserID: p.FromUserID,
			SDP:          answer,
		})
	case RTCAnswerEvent:
		var p RTCSessionPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal answer: %w", err)
		}
		pc, err := m.ensurePeer(p.FromUserID)
		if err != nil {
			return err
		}
		if err := pc.HandleAnswer(p.SDP); err != nil {
			return fmt.Errorf("handle answer from %s: %w", p.FromUserID, err)
		}
		return nil
	case RTCCandidateEvent:
		var p RTCCandidatePayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal candidate: %w", err)
		}
		pc, err := m.ensurePeer(p.FromUserID)
		if err != nil {
			return err
		}
		if err := pc.AddICECandidate(p.Candidate); err != nil {
			return fmt.Errorf("add candidate from %s: %w", p.FromUserID, err)
		}
		return nil
	default:
		return nil
	}
}

// DropPeer releases the peer connection and remote stream of a participant
// who left the room.
func (m *CallManager) DropPeer(userID string) {
	if pc, ok := m.conns.Load(userID); ok {
		m.conns.Delete(userID)
		if err := pc.Close(); err != nil {
			m.logger.Error(fmt.Sprintf("close peer %s: %v", userID, err))
		}
	}
	m.remotes.Delete(userID)
}

func (m *CallManager) ensurePeer(userID string) (PeerConnection, error) {
	if userID == "" {
		return nil, NewValidationError("signal without originating user")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if pc, ok := m.conns.Load(userID); ok {
		return pc, nil
	}
	// a peer created mid-share must see the screen, not the camera
	outgoing := m.local
	if m.screenSharing && m.screen != nil {
		outgoing = m.screen
	}
	pc, err := m.peers.NewPeer(userID, outgoing, func(s MediaStream) {
		m.remotes.Store(userID, s)
	})
	if err != nil {
		return nil, fmt.Errorf("new peer for %s: %w", userID, err)
	}
	m.conns.Store(userID, pc)
	return pc, nil
}

// Local returns the local participant's state.
func (m *CallManager) Local() CallParticipant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return CallParticipant{
		UserID:          m.userID,
		Stream:          m.local,
		VideoEnabled:    m.videoEnabled,
		AudioEnabled:    m.audioEnabled,
		IsScreenSharing: m.screenSharing,
	}
}

// Remotes returns the remote participants keyed by user ID.
func (m *CallManager) Remotes() map[string]MediaStream {
	remotes := make(map[string]MediaStream, m.remotes.Len())
	m.remotes.RRange(func(userID string, s MediaStream) bool {
		remotes[userID] = s
		return true
	})
	return remotes
}

func (m *CallManager) InCall() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inCall
}

func (m *CallManager) ScreenSharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screenSharing
}

func stopStream(s MediaStream) {
	if s == nil {
		return
	}
	for _, t := range s.Tracks() {
		t.Stop()
	}
}
