// Copyright 2026 The Lockstep Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/lockstep-party/lockstep/lib/clock"
)

// Compile-time interface check.
var _ Transport = (*WebRTCTransport)(nil)

// initLabel names the data channel created only to put an
// application section into the SDP offer. Neither side uses it.
const initLabel = "init"

// WebRTCOptions configures a WebRTCTransport. Zero fields take
// defaults.
type WebRTCOptions struct {
	// ID is this endpoint's identifier. Default: a random UUID.
	ID string

	// ICE lists the STUN/TURN servers.
	ICE ICEConfig

	// PollInterval is how often the signaler is polled for offers and
	// answers. Default: 250ms.
	PollInterval time.Duration

	// GatherTimeout bounds ICE candidate gathering. Default: 15s.
	GatherTimeout time.Duration

	// AnswerTimeout bounds the wait for an SDP answer. Default: 30s.
	AnswerTimeout time.Duration

	// Clock drives polling and timeouts. Default: clock.Real().
	Clock clock.Clock

	// Logger receives transport events. Default: discard.
	Logger *slog.Logger
}

// WebRTCTransport provides peer links over WebRTC data channels.
//
// One PeerConnection is kept per remote peer; each Dial opens a new
// ordered, reliable data channel on it. Inbound data channels surface
// through Accept once open.
type WebRTCTransport struct {
	signaler Signaler
	id       string
	options  WebRTCOptions
	clock    clock.Clock
	logger   *slog.Logger

	configMu  sync.RWMutex
	iceConfig ICEConfig

	// peers maps remote peer ID to its PeerConnection state.
	mu    sync.Mutex
	peers map[string]*peerState

	inbound chan Link

	// ready is closed once Start has begun polling for offers; until
	// then the transport has no usable identity.
	ready     chan struct{}
	readyOnce sync.Once

	ctx       context.Context
	cancel    context.CancelFunc
	closed    chan struct{}
	closeOnce sync.Once

	channelCounter atomic.Uint64
}

// peerState is the PeerConnection to one remote peer. Guarded by
// WebRTCTransport.mu.
type peerState struct {
	connection  *webrtc.PeerConnection
	remoteID    string
	established chan struct{} // closed when ICE connects
}

// NewWebRTCTransport creates a transport that signals through
// signaler. Call Start before dialing or accepting.
func NewWebRTCTransport(signaler Signaler, options WebRTCOptions) *WebRTCTransport {
	if options.ID == "" {
		options.ID = uuid.NewString()
	}
	if options.PollInterval <= 0 {
		options.PollInterval = 250 * time.Millisecond
	}
	if options.GatherTimeout <= 0 {
		options.GatherTimeout = 15 * time.Second
	}
	if options.AnswerTimeout <= 0 {
		options.AnswerTimeout = 30 * time.Second
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WebRTCTransport{
		signaler:  signaler,
		id:        options.ID,
		options:   options,
		clock:     options.Clock,
		logger:    options.Logger.With("transport", "webrtc", "id", options.ID),
		iceConfig: options.ICE,
		peers:     make(map[string]*peerState),
		inbound:   make(chan Link, 64),
		ready:     make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		closed:    make(chan struct{}),
	}
}

// Start begins polling the signaler for inbound offers. It returns
// immediately; polling stops when ctx is done or Close is called.
func (wt *WebRTCTransport) Start(ctx context.Context) {
	go wt.signalingPoller(ctx)
	wt.readyOnce.Do(func() { close(wt.ready) })
}

// ID returns the transport's identifier once Start has run.
func (wt *WebRTCTransport) ID(ctx context.Context) (string, error) {
	select {
	case <-wt.ready:
		return wt.id, nil
	case <-wt.closed:
		return "", net.ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Accept yields data channels opened by remote peers.
func (wt *WebRTCTransport) Accept() <-chan Link {
	return wt.inbound
}

// UpdateICEConfig replaces the ICE servers for PeerConnections created
// from now on.
func (wt *WebRTCTransport) UpdateICEConfig(config ICEConfig) {
	wt.configMu.Lock()
	defer wt.configMu.Unlock()
	wt.iceConfig = config
}

// Close shuts down every PeerConnection and stops polling.
func (wt *WebRTCTransport) Close() error {
	wt.closeOnce.Do(func() {
		close(wt.closed)
		wt.cancel()
	})

	wt.mu.Lock()
	defer wt.mu.Unlock()
	for remoteID, peer := range wt.peers {
		peer.connection.Close()
		delete(wt.peers, remoteID)
	}
	return nil
}

// Dial starts opening a data channel to remoteID and returns the link
// immediately. The link opens once signaling, ICE, and the data
// channel handshake complete; closing it abandons the attempt.
func (wt *WebRTCTransport) Dial(ctx context.Context, remoteID string) (Link, error) {
	select {
	case <-wt.closed:
		return nil, net.ErrClosed
	default:
	}
	if remoteID == wt.id {
		return nil, fmt.Errorf("%w: cannot dial own id %s", ErrPeerUnavailable, remoteID)
	}

	dialCtx, cancel := context.WithCancel(wt.ctx)
	link := newWebRTCLink(remoteID, cancel)
	go wt.establishLink(dialCtx, link)
	return link, nil
}

func (wt *WebRTCTransport) establishLink(ctx context.Context, link *webrtcLink) {
	peer, err := wt.getOrCreatePeer(ctx, link.remoteID)
	if err != nil {
		link.fail(fmt.Errorf("establishing peer connection to %s: %w", link.remoteID, err))
		return
	}

	select {
	case <-peer.established:
	case <-ctx.Done():
		link.fail(ctx.Err())
		return
	}

	channel, raw, err := wt.openDataChannel(ctx, peer)
	if err != nil {
		link.fail(err)
		return
	}
	link.attach(channel, raw)
}

// getOrCreatePeer returns the live PeerConnection to remoteID, or
// creates and signals a new one. Concurrent callers for the same peer
// share a single establishment attempt.
func (wt *WebRTCTransport) getOrCreatePeer(ctx context.Context, remoteID string) (*peerState, error) {
	wt.mu.Lock()

	if peer, ok := wt.peers[remoteID]; ok {
		if usable(peer.connection.ICEConnectionState()) {
			wt.mu.Unlock()
			return peer, nil
		}
		peer.connection.Close()
		delete(wt.peers, remoteID)
	}

	pc, err := wt.newPeerConnection()
	if err != nil {
		wt.mu.Unlock()
		return nil, fmt.Errorf("creating PeerConnection: %w", err)
	}
	peer := &peerState{
		connection:  pc,
		remoteID:    remoteID,
		established: make(chan struct{}),
	}
	wt.peers[remoteID] = peer
	wt.mu.Unlock()

	if err := wt.establishOutbound(ctx, peer); err != nil {
		wt.forgetPeer(peer)
		pc.Close()
		return nil, err
	}
	return peer, nil
}

// establishOutbound runs the offer side of signaling for peer.
func (wt *WebRTCTransport) establishOutbound(ctx context.Context, peer *peerState) error {
	pc := peer.connection
	wt.watchPeer(peer)

	if _, err := pc.CreateDataChannel(initLabel, nil); err != nil {
		return fmt.Errorf("creating init data channel: %w", err)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("creating SDP offer: %w", err)
	}
	sdp, err := wt.gather(ctx, pc, offer)
	if err != nil {
		return err
	}
	if err := wt.signaler.PublishOffer(ctx, wt.id, peer.remoteID, sdp); err != nil {
		return fmt.Errorf("publishing SDP offer: %w", err)
	}
	wt.logger.Debug("offer published", "peer", peer.remoteID)

	answerSDP, err := wt.waitForAnswer(ctx, peer.remoteID)
	if err != nil {
		return fmt.Errorf("waiting for SDP answer from %s: %w", peer.remoteID, err)
	}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}
	return nil
}

// gather sets the local description and waits for ICE gathering to
// finish, returning the SDP with every candidate embedded.
func (wt *WebRTCTransport) gather(ctx context.Context, pc *webrtc.PeerConnection, description webrtc.SessionDescription) (string, error) {
	complete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(description); err != nil {
		return "", fmt.Errorf("setting local description: %w", err)
	}
	select {
	case <-complete:
	case <-wt.clock.After(wt.options.GatherTimeout):
		return "", fmt.Errorf("ICE gathering timed out after %s", wt.options.GatherTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return pc.LocalDescription().SDP, nil
}

func (wt *WebRTCTransport) waitForAnswer(ctx context.Context, remoteID string) (string, error) {
	deadline := wt.clock.After(wt.options.AnswerTimeout)
	ticker := wt.clock.NewTicker(wt.options.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return "", fmt.Errorf("timed out after %s", wt.options.AnswerTimeout)
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			answers, err := wt.signaler.PollAnswers(ctx, wt.id)
			if err != nil {
				wt.logger.Warn("polling for SDP answers failed", "error", err)
				continue
			}
			for _, answer := range answers {
				if answer.PeerID == remoteID {
					return answer.SDP, nil
				}
			}
		}
	}
}

func (wt *WebRTCTransport) signalingPoller(ctx context.Context) {
	ticker := wt.clock.NewTicker(wt.options.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-wt.closed:
			return
		case <-ticker.C:
			wt.processInboundOffers(ctx)
		}
	}
}

func (wt *WebRTCTransport) processInboundOffers(ctx context.Context) {
	offers, err := wt.signaler.PollOffers(ctx, wt.id)
	if err != nil {
		wt.logger.Warn("polling for SDP offers failed", "error", err)
		return
	}

	for _, offer := range offers {
		wt.mu.Lock()
		existing, ok := wt.peers[offer.PeerID]
		if ok {
			// Both sides dialed at once: the smaller ID is the
			// canonical offerer and the other side's attempt yields.
			if usable(existing.connection.ICEConnectionState()) && offer.PeerID > wt.id {
				wt.mu.Unlock()
				continue
			}
			existing.connection.Close()
			delete(wt.peers, offer.PeerID)
		}
		wt.mu.Unlock()

		if err := wt.answerOffer(ctx, offer); err != nil {
			wt.logger.Error("answering WebRTC offer failed", "peer", offer.PeerID, "error", err)
		}
	}
}

func (wt *WebRTCTransport) answerOffer(ctx context.Context, offer SignalMessage) error {
	pc, err := wt.newPeerConnection()
	if err != nil {
		return fmt.Errorf("creating PeerConnection: %w", err)
	}
	peer := &peerState{
		connection:  pc,
		remoteID:    offer.PeerID,
		established: make(chan struct{}),
	}
	wt.watchPeer(peer)

	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := pc.SetRemoteDescription(remote); err != nil {
		pc.Close()
		return fmt.Errorf("setting remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("creating SDP answer: %w", err)
	}
	sdp, err := wt.gather(ctx, pc, answer)
	if err != nil {
		pc.Close()
		return err
	}
	if err := wt.signaler.PublishAnswer(ctx, offer.PeerID, wt.id, sdp); err != nil {
		pc.Close()
		return fmt.Errorf("publishing SDP answer: %w", err)
	}

	wt.mu.Lock()
	wt.peers[offer.PeerID] = peer
	wt.mu.Unlock()

	wt.logger.Debug("offer answered", "peer", offer.PeerID)
	return nil
}

// watchPeer registers the inbound data channel and ICE state handlers.
func (wt *WebRTCTransport) watchPeer(peer *peerState) {
	peer.connection.OnDataChannel(func(channel *webrtc.DataChannel) {
		wt.handleInboundDataChannel(channel, peer.remoteID)
	})
	peer.connection.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		wt.handleICEStateChange(peer, state)
	})
}

func (wt *WebRTCTransport) handleInboundDataChannel(channel *webrtc.DataChannel, remoteID string) {
	if channel.Label() == initLabel {
		channel.OnOpen(func() { channel.Close() })
		return
	}

	channel.OnOpen(func() {
		raw, err := channel.Detach()
		if err != nil {
			wt.logger.Error("detaching inbound data channel failed",
				"peer", remoteID,
				"label", channel.Label(),
				"error", err,
			)
			return
		}

		link := newWebRTCLink(remoteID, nil)
		if !link.attach(channel, raw) {
			return
		}
		select {
		case wt.inbound <- link:
		case <-wt.closed:
			link.Close()
		}
	})
}

func (wt *WebRTCTransport) handleICEStateChange(peer *peerState, state webrtc.ICEConnectionState) {
	wt.logger.Debug("ICE state change", "peer", peer.remoteID, "state", state.String())

	switch state {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		select {
		case <-peer.established:
		default:
			close(peer.established)
		}
	case webrtc.ICEConnectionStateFailed:
		wt.logger.Warn("WebRTC connection failed", "peer", peer.remoteID)
	case webrtc.ICEConnectionStateClosed:
		wt.forgetPeer(peer)
	}
}

func (wt *WebRTCTransport) forgetPeer(peer *peerState) {
	wt.mu.Lock()
	defer wt.mu.Unlock()
	if current, ok := wt.peers[peer.remoteID]; ok && current == peer {
		delete(wt.peers, peer.remoteID)
	}
}

// openDataChannel opens an ordered, reliable data channel on peer and
// waits for it to open.
func (wt *WebRTCTransport) openDataChannel(ctx context.Context, peer *peerState) (*webrtc.DataChannel, io.ReadWriteCloser, error) {
	label := fmt.Sprintf("lockstep-%d", wt.channelCounter.Add(1))
	ordered := true
	channel, err := peer.connection.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, nil, fmt.Errorf("creating data channel %s: %w", label, err)
	}

	opened := make(chan struct{})
	channel.OnOpen(func() { close(opened) })

	select {
	case <-opened:
	case <-ctx.Done():
		channel.Close()
		return nil, nil, ctx.Err()
	}

	raw, err := channel.Detach()
	if err != nil {
		channel.Close()
		return nil, nil, fmt.Errorf("detaching data channel %s: %w", label, err)
	}
	return channel, raw, nil
}

func (wt *WebRTCTransport) newPeerConnection() (*webrtc.PeerConnection, error) {
	wt.configMu.RLock()
	configuration := webrtc.Configuration{ICEServers: wt.iceConfig.Servers}
	wt.configMu.RUnlock()

	// Detached channels give message-at-a-time Read/Write; loopback
	// candidates let two transports on one host reach each other.
	settingEngine := webrtc.SettingEngine{}
	settingEngine.DetachDataChannels()
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(configuration)
}

func usable(state webrtc.ICEConnectionState) bool {
	return state != webrtc.ICEConnectionStateFailed && state != webrtc.ICEConnectionStateClosed
}
