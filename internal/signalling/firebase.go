package signalling

import (
	"context"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"github.com/pintubhai440/fileshare/internal/config"
	"github.com/pintubhai440/fileshare/pkg/utils"
)

// session is the record stored under sessions/<code>
// TODO: support trickle ICE so candidates do not have to be gathered up front
type session struct {
	ID        string `json:"sessionId"`
	Offer     string `json:"offer"`
	Answer    string `json:"answer"`
	CreatedAt int64  `json:"createdAt"`
}

// FirebaseStore keeps sessions in the Firebase Realtime Database
type FirebaseStore struct {
	ref          *db.Ref
	pollInterval time.Duration
	timeout      time.Duration
	log          *logrus.Entry
}

func NewFirebaseStore(ctx context.Context, cfg *config.FirebaseConfig, log *logrus.Entry) (*FirebaseStore, error) {
	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:   cfg.ProjectID,
		DatabaseURL: cfg.DatabaseURL,
	}, option.WithCredentialsFile(cfg.CredentialsPath))
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting database client: %w", err)
	}

	return &FirebaseStore{
		ref:          client.NewRef("sessions"),
		pollInterval: cfg.AnswerPollInterval,
		timeout:      cfg.AnswerTimeout,
		log:          log,
	}, nil
}

func (f *FirebaseStore) CreateSession(ctx context.Context, offer string) (string, error) {
	// The code is shown to the user and doubles as the session key
	code, err := utils.GenerateCode(utils.CodeLength)
	if err != nil {
		return "", fmt.Errorf("error generating session code: %w", err)
	}

	err = f.ref.Child(code).Set(ctx, session{
		ID:        code,
		Offer:     offer,
		CreatedAt: time.Now().Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("error creating session: %w", err)
	}

	f.log.WithField("code", code).Info("Session created")
	return code, nil
}

func (f *FirebaseStore) get(ctx context.Context, code string) (session, error) {
	var s session
	if err := f.ref.Child(code).Get(ctx, &s); err != nil {
		return s, fmt.Errorf("error fetching session %s: %w", code, err)
	}
	if s.ID == "" {
		return s, fmt.Errorf("%w: %s", ErrSessionNotFound, code)
	}
	return s, nil
}

func (f *FirebaseStore) GetOffer(ctx context.Context, code string) (string, error) {
	s, err := f.get(ctx, code)
	if err != nil {
		return "", err
	}
	if s.Offer == "" {
		return "", fmt.Errorf("session %s has no offer", code)
	}
	return s.Offer, nil
}

func (f *FirebaseStore) PublishAnswer(ctx context.Context, code, answer string) error {
	if _, err := f.get(ctx, code); err != nil {
		return err
	}
	if err := f.ref.Child(code).Update(ctx, map[string]any{"answer": answer}); err != nil {
		return fmt.Errorf("error updating answer for session %s: %w", code, err)
	}
	return nil
}

// WaitForAnswer polls the session until an answer appears or the configured
// timeout passes; the session is deleted on timeout
func (f *FirebaseStore) WaitForAnswer(ctx context.Context, code string) (string, error) {
	if _, err := f.get(ctx, code); err != nil {
		return "", err
	}
	f.log.Info("Waiting for receiver to answer...")

	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(f.timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			if err := f.DeleteSession(ctx, code); err != nil {
				f.log.WithError(err).Warn("Failed to delete expired session")
			}
			return "", ErrAnswerTimeout
		case <-ticker.C:
			s, err := f.get(ctx, code)
			if err != nil {
				f.log.WithError(err).Debug("Answer poll failed")
				continue
			}
			if s.Answer != "" {
				return s.Answer, nil
			}
		}
	}
}

func (f *FirebaseStore) DeleteSession(ctx context.Context, code string) error {
	if _, err := f.get(ctx, code); err != nil {
		// Already gone; nothing to clean up
		f.log.WithField("code", code).Debug("Session not found, skipping deletion")
		return nil
	}
	if err := f.ref.Child(code).Delete(ctx); err != nil {
		return fmt.Errorf("error deleting session %s: %w", code, err)
	}
	return nil
}
