// Package signalling exchanges SDP offers and answers between the two peers
// through a shared store keyed by a short session code.
package signalling

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/pintubhai440/fileshare/internal/config"
	"github.com/pintubhai440/fileshare/pkg/utils"
)

var (
	ErrSessionNotFound = errors.New("signalling session not found")
	ErrAnswerTimeout   = errors.New("timed out waiting for answer")
)

// Store persists an offer and its answer under a session code
type Store interface {
	CreateSession(ctx context.Context, offer string) (code string, err error)
	GetOffer(ctx context.Context, code string) (offer string, err error)
	PublishAnswer(ctx context.Context, code, answer string) error
	WaitForAnswer(ctx context.Context, code string) (answer string, err error)
	DeleteSession(ctx context.Context, code string) error
}

// Service runs the vanilla ICE offer/answer exchange over a Store
type Service struct {
	store Store
	log   *logrus.Entry
}

func NewService(store Store, log *logrus.Entry) *Service {
	return &Service{store: store, log: log}
}

// NewFirebaseService builds a Service backed by the Firebase Realtime Database
func NewFirebaseService(ctx context.Context, cfg *config.FirebaseConfig, log *logrus.Entry) (*Service, error) {
	store, err := NewFirebaseStore(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase client: %w", err)
	}
	return NewService(store, log), nil
}

// Offer publishes the local offer and blocks until the receiver answers.
// onCode is called with the session code as soon as it exists.
func (s *Service) Offer(ctx context.Context, pc *webrtc.PeerConnection, onCode func(code string)) (string, error) {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	local, err := s.gather(ctx, pc, offer)
	if err != nil {
		return "", err
	}

	code, err := s.store.CreateSession(ctx, local)
	if err != nil {
		return "", fmt.Errorf("failed to create session with offer: %w", err)
	}
	s.log.WithField("code", code).Debug("Session created")
	if onCode != nil {
		onCode(code)
	}

	answer, err := s.store.WaitForAnswer(ctx, code)
	if err != nil {
		return code, fmt.Errorf("failed to wait for answer: %w", err)
	}
	answerSD, err := utils.Decode[webrtc.SessionDescription](answer)
	if err != nil {
		return code, fmt.Errorf("failed to decode answer SDP: %w", err)
	}
	if err := pc.SetRemoteDescription(answerSD); err != nil {
		return code, fmt.Errorf("failed to set remote description: %w", err)
	}
	return code, nil
}

// Answer fetches the offer stored under code and publishes the local answer
func (s *Service) Answer(ctx context.Context, pc *webrtc.PeerConnection, code string) error {
	encoded, err := s.store.GetOffer(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to get offer from session: %w", err)
	}
	offerSD, err := utils.Decode[webrtc.SessionDescription](encoded)
	if err != nil {
		return fmt.Errorf("failed to decode offer SDP: %w", err)
	}
	if err := pc.SetRemoteDescription(offerSD); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}
	local, err := s.gather(ctx, pc, answer)
	if err != nil {
		return err
	}
	if err := s.store.PublishAnswer(ctx, code, local); err != nil {
		return fmt.Errorf("failed to upload answer: %w", err)
	}
	return nil
}

// Clear deletes the session stored under code
func (s *Service) Clear(ctx context.Context, code string) error {
	return s.store.DeleteSession(ctx, code)
}

// gather applies sd locally, waits for ICE gathering and returns the encoded
// description including every candidate
func (s *Service) gather(ctx context.Context, pc *webrtc.PeerConnection, sd webrtc.SessionDescription) (string, error) {
	complete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(sd); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-complete:
	case <-ctx.Done():
		return "", fmt.Errorf("failed to wait for ICE gathering: %w", ctx.Err())
	}

	final := pc.LocalDescription()
	if final == nil {
		return "", fmt.Errorf("local description is nil after ICE gathering")
	}
	encoded, err := utils.Encode(*final)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s SDP: %w", final.Type, err)
	}
	return encoded, nil
}
