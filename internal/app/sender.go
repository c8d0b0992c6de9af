package app

import (
	"context"
	"fmt"
	"time"

	"github.com/pintubhai440/fileshare/internal/engine"
	"github.com/pintubhai440/fileshare/internal/history"
	"github.com/pintubhai440/fileshare/internal/source"
	"github.com/pintubhai440/fileshare/internal/transport"
)

// SenderOptions configures the sender application
type SenderOptions struct {
	Paths []string // files to send, in order
}

// SenderApp implements sender application logic
type SenderApp struct {
	deps Deps
}

func NewSenderApp(deps Deps) *SenderApp {
	return &SenderApp{deps: deps}
}

// Run offers a connection, waits for the receiver to join and sends every file
func (s *SenderApp) Run(ctx context.Context, opts *SenderOptions) ([]engine.Result, error) {
	if len(opts.Paths) == 0 {
		return nil, fmt.Errorf("at least one file is required")
	}
	srcs, err := openSources(opts.Paths)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	d := s.deps
	pc, err := d.Peers.CreatePeerConnection("sender")
	if err != nil {
		closeSources(srcs)
		return nil, err
	}
	defer func() {
		if err := d.Peers.Close(pc); err != nil {
			d.Log.WithError(err).Warn("Error closing peer connection")
		}
	}()
	d.watch(ctx, cancel)

	ch, err := transport.Open(pc, d.Config.WebRTC.ChannelLabel, d.Config.WebRTC.EventBuffer, d.Log)
	if err != nil {
		closeSources(srcs)
		return nil, err
	}

	code, err := d.Signalling.Offer(ctx, pc, func(code string) {
		d.UI.ShowMessage(fmt.Sprintf("Send this code to the receiver: %s", code))
	})
	if code != "" {
		defer func() {
			if err := d.Signalling.Clear(context.Background(), code); err != nil {
				d.Log.WithError(err).Warn("Failed to clear signalling session")
			}
		}()
	}
	if err != nil {
		closeSources(srcs)
		return nil, fmt.Errorf("failed during signalling process: %w", cause(ctx, err))
	}

	if err := ch.WaitOpen(ctx); err != nil {
		closeSources(srcs)
		return nil, fmt.Errorf("data channel did not open: %w", cause(ctx, err))
	}
	d.UI.ShowMessage("Connected, starting transfer")

	results, err := s.Transfer(ctx, ch, srcs)
	if err != nil {
		return results, cause(ctx, err)
	}
	return results, nil
}

// Transfer sends srcs over an open channel and closes the channel afterwards
func (s *SenderApp) Transfer(ctx context.Context, ch transport.Channel, srcs []source.ByteSource) ([]engine.Result, error) {
	d := s.deps
	ep, err := d.endpoint(ch, engine.OnSent(func(r engine.Result) {
		d.UI.Sent(r)
		d.record(history.FromSent(r, time.Now()))
	}))
	if err != nil {
		closeSources(srcs)
		return nil, err
	}

	runCtx, stop := context.WithCancel(context.Background())
	go ep.Run(runCtx)
	defer func() {
		stop()
		<-ep.Done()
	}()

	results, err := ep.Send(ctx, srcs...)
	if closeErr := ch.Close(); closeErr != nil {
		d.Log.WithError(closeErr).Debug("Error closing data channel")
	}
	if results == nil {
		// the queue never started, so nothing closed the sources
		closeSources(srcs)
	}
	if err != nil {
		return results, err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return results, fmt.Errorf("%w: %d of %d failed", ErrIncomplete, failed, len(results))
	}
	return results, nil
}

func openSources(paths []string) ([]source.ByteSource, error) {
	srcs := make([]source.ByteSource, 0, len(paths))
	for _, p := range paths {
		src, err := source.OpenFile(p)
		if err != nil {
			closeSources(srcs)
			return nil, err
		}
		srcs = append(srcs, src)
	}
	return srcs, nil
}

func closeSources(srcs []source.ByteSource) {
	for _, src := range srcs {
		src.Close()
	}
}
