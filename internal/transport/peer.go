package transport

import (
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/pintubhai440/fileshare/internal/config"
)

// ConnectionFailureError reports that the peer connection failed or closed
type ConnectionFailureError struct {
	State   webrtc.PeerConnectionState
	Role    string
	Message string
}

func (e *ConnectionFailureError) Error() string {
	return fmt.Sprintf("connection failed in %s state for %s: %s", e.State.String(), e.Role, e.Message)
}

// PeerService manages WebRTC peer connection lifecycle
type PeerService struct {
	config      config.WebRTCConfig
	failureChan chan *ConnectionFailureError
	log         *logrus.Entry
}

// NewPeerService creates a new peer service with the given configuration
func NewPeerService(cfg config.WebRTCConfig, log *logrus.Entry) *PeerService {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &PeerService{
		config:      cfg,
		failureChan: make(chan *ConnectionFailureError, 1),
		log:         log,
	}
}

// CreatePeerConnection creates a peer connection using the configured ICE servers
// and reports failure or closure on the failure channel
func (p *PeerService) CreatePeerConnection(role string) (*webrtc.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: p.config.ICEServerList(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.handleConnectionStateChange(state, role)
	})
	return pc, nil
}

// Failures returns a channel that receives connection failures
func (p *PeerService) Failures() <-chan *ConnectionFailureError {
	return p.failureChan
}

// Close gracefully closes the peer connection
func (p *PeerService) Close(pc *webrtc.PeerConnection) error {
	if pc == nil {
		return nil
	}
	return pc.GracefulClose()
}

func (p *PeerService) handleConnectionStateChange(state webrtc.PeerConnectionState, role string) {
	p.log.WithFields(logrus.Fields{
		"state": state.String(),
		"role":  role,
	}).Debug("Peer connection state changed")

	var message string
	switch state {
	case webrtc.PeerConnectionStateFailed:
		message = "peer connection failed"
	case webrtc.PeerConnectionStateClosed:
		message = "peer connection closed"
	default:
		return
	}

	select {
	case p.failureChan <- &ConnectionFailureError{State: state, Role: role, Message: message}:
	default:
		// a failure is already pending
	}
}
