package capture

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/sirupsen/logrus"

	"github.com/AutoFlowLabs/ios-bridge/internal/apperr"
)

// WebRTCService wraps one pion PeerConnection per client, feeding it frames
// drained from the shared Service's webrtc ring as an MJPEG sample track —
// the host driver exposes JPEG screenshots, not an H264/VP8 elementary
// stream, so the track is negotiated as video/mjpeg rather than
// transcoding on the host (spec.md §4.4 names WebRTC as a distinct
// consumption mode but leaves the codec unspecified).
type WebRTCService struct {
	svc *Service
	log *logrus.Entry

	mu    sync.Mutex
	peers map[string]*webrtcPeer
}

type webrtcPeer struct {
	pc     *webrtc.PeerConnection
	track  *webrtc.TrackLocalStaticSample
	cancel context.CancelFunc
}

// NewWebRTCService wraps svc's webrtc ring for signaling-driven delivery.
func NewWebRTCService(svc *Service, log *logrus.Entry) *WebRTCService {
	return &WebRTCService{svc: svc, log: log, peers: make(map[string]*webrtcPeer)}
}

// Offer creates a peer connection for clientID from the client's SDP offer
// and returns the server's answer. The caller (transport/ws) is
// responsible for relaying ICE candidates gathered afterward.
func (w *WebRTCService) Offer(ctx context.Context, clientID string, offerSDP string) (string, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: "video/mjpeg"},
		"capture-"+clientID, "ios-bridge",
	)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "failed to create webrtc track", err)
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	})
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "failed to create peer connection", err)
	}

	if _, err := pc.AddTrack(track); err != nil {
		pc.Close()
		return "", apperr.Wrap(apperr.KindInternal, "failed to attach track", err)
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}); err != nil {
		pc.Close()
		return "", apperr.Wrap(apperr.KindProtocol, "invalid offer SDP", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return "", apperr.Wrap(apperr.KindInternal, "failed to create answer", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return "", apperr.Wrap(apperr.KindInternal, "failed to set local description", err)
	}

	peerCtx, cancel := context.WithCancel(ctx)
	peer := &webrtcPeer{pc: pc, track: track, cancel: cancel}

	w.mu.Lock()
	if existing, ok := w.peers[clientID]; ok {
		existing.cancel()
		existing.pc.Close()
	}
	w.peers[clientID] = peer
	w.mu.Unlock()

	w.svc.Acquire(clientID, KindWebRTC)
	go w.feed(peerCtx, clientID, peer)

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			w.Close(clientID)
		}
	})

	return answer.SDP, nil
}

// AddICECandidate forwards a client-gathered candidate to the peer
// connection.
func (w *WebRTCService) AddICECandidate(clientID string, candidate webrtc.ICECandidateInit) error {
	w.mu.Lock()
	peer, ok := w.peers[clientID]
	w.mu.Unlock()
	if !ok {
		return apperr.New(apperr.KindNotFound, "no webrtc peer for client")
	}
	if err := peer.pc.AddICECandidate(candidate); err != nil {
		return apperr.Wrap(apperr.KindProtocol, "invalid ice candidate", err)
	}
	return nil
}

// feed drains the shared service's webrtc ring and writes each frame into
// the peer's sample track until ctx is cancelled.
func (w *WebRTCService) feed(ctx context.Context, clientID string, peer *webrtcPeer) {
	var lastSeq uint64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		frame, ok := w.svc.Frame(KindWebRTC, lastSeq, 200*time.Millisecond)
		if !ok {
			continue
		}
		lastSeq = frame.Sequence
		sample := media.Sample{Data: frame.Payload, Timestamp: frame.CapturedAt, Duration: 33 * time.Millisecond}
		if err := peer.track.WriteSample(sample); err != nil {
			if w.log != nil {
				w.log.WithError(err).WithField("client", clientID).Warn("webrtc sample write failed")
			}
			return
		}
	}
}

// Close tears down clientID's peer connection and detaches it from the
// shared capture service.
func (w *WebRTCService) Close(clientID string) {
	w.mu.Lock()
	peer, ok := w.peers[clientID]
	if ok {
		delete(w.peers, clientID)
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	peer.cancel()
	peer.pc.Close()
	w.svc.Release(clientID)
}

// CloseAll tears down every peer connection, for shutdown.
func (w *WebRTCService) CloseAll() {
	w.mu.Lock()
	ids := make([]string, 0, len(w.peers))
	for id := range w.peers {
		ids = append(ids, id)
	}
	w.mu.Unlock()
	for _, id := range ids {
		w.Close(id)
	}
}
