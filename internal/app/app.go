// Package app wires the transfer engine to a WebRTC peer connection, the
// signalling store, the console UI and the transfer history.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/pintubhai440/fileshare/internal/config"
	"github.com/pintubhai440/fileshare/internal/engine"
	"github.com/pintubhai440/fileshare/internal/history"
	"github.com/pintubhai440/fileshare/internal/signalling"
	"github.com/pintubhai440/fileshare/internal/transport"
	"github.com/pintubhai440/fileshare/internal/ui"
)

var ErrIncomplete = errors.New("some files were not transferred")

// Deps are the services shared by the send and receive commands
type Deps struct {
	Config     *config.Config
	Peers      *transport.PeerService
	Signalling *signalling.Service
	UI         *ui.ConsoleUI
	History    *history.Store // nil disables recording
	Log        *logrus.Entry
}

func (d Deps) record(rec history.Record) {
	if d.History == nil {
		return
	}
	if err := d.History.Put(rec); err != nil {
		d.Log.WithError(err).Warn("Failed to record transfer history")
	}
}

// watch cancels ctx with the connection failure once the peer connection fails
func (d Deps) watch(ctx context.Context, cancel context.CancelCauseFunc) {
	go func() {
		select {
		case failure := <-d.Peers.Failures():
			cancel(failure)
		case <-ctx.Done():
		}
	}()
}

func (d Deps) endpoint(ch transport.Channel, opts ...engine.Option) (*engine.Endpoint, error) {
	base := []engine.Option{
		engine.WithLogger(d.Log),
		engine.OnProgress(d.UI.Progress),
	}
	ep, err := engine.NewEndpoint(ch, d.Config.Transfer, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer endpoint: %w", err)
	}
	return ep, nil
}

// cause prefers the reason ctx was cancelled with over err
func cause(ctx context.Context, err error) error {
	if c := context.Cause(ctx); c != nil && !errors.Is(c, context.Canceled) {
		return c
	}
	return err
}
