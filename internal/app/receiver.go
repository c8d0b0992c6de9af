package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pintubhai440/fileshare/internal/engine"
	"github.com/pintubhai440/fileshare/internal/history"
	"github.com/pintubhai440/fileshare/internal/sink"
	"github.com/pintubhai440/fileshare/internal/transport"
	"github.com/pintubhai440/fileshare/pkg/types"
	"github.com/pintubhai440/fileshare/pkg/utils"
)

// ReceiverOptions configures the receiver application behavior
type ReceiverOptions struct {
	DestDir string // Required: directory the received files are saved in
	Code    string // session code; prompted for when empty
	Memory  bool   // receive into memory and write each file out once complete
}

// ReceiverApp implements receiver application logic
type ReceiverApp struct {
	deps Deps
}

func NewReceiverApp(deps Deps) *ReceiverApp {
	return &ReceiverApp{deps: deps}
}

// Run joins the sender's session and receives files until the sender closes the channel
func (r *ReceiverApp) Run(ctx context.Context, opts *ReceiverOptions) ([]engine.Received, error) {
	if opts.DestDir == "" {
		return nil, fmt.Errorf("destination path is required")
	}
	dir, err := utils.ResolveDestinationPath(opts.DestDir)
	if err != nil {
		return nil, err
	}
	opts.DestDir = dir
	d := r.deps
	d.Log.WithField("dst", dir).Info("Preparing to receive files")

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	pc, err := d.Peers.CreatePeerConnection("receiver")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := d.Peers.Close(pc); err != nil {
			d.Log.WithError(err).Warn("Error closing peer connection")
		}
	}()
	d.watch(ctx, cancel)

	code := opts.Code
	if code == "" {
		if code, err = d.UI.InputCode(ctx); err != nil {
			return nil, fmt.Errorf("failed to get code from user: %w", err)
		}
	}

	accepted := transport.Listen(pc, d.Config.WebRTC.EventBuffer, d.Log)
	if err := d.Signalling.Answer(ctx, pc, code); err != nil {
		return nil, fmt.Errorf("failed during signalling process: %w", cause(ctx, err))
	}

	var ch *transport.DataChannel
	select {
	case ch = <-accepted:
	case <-ctx.Done():
		return nil, fmt.Errorf("sender never opened a data channel: %w", cause(ctx, ctx.Err()))
	}
	defer ch.Close()

	received, err := r.Transfer(ctx, ch, opts)
	if err != nil {
		return received, cause(ctx, err)
	}
	return received, nil
}

// Transfer receives files from ch until the channel closes or ctx is done
func (r *ReceiverApp) Transfer(ctx context.Context, ch transport.Channel, opts *ReceiverOptions) ([]engine.Received, error) {
	d := r.deps
	var received []engine.Received

	onReceived := func(rc engine.Received) {
		d.UI.Received(rc)
		d.record(history.FromReceived(rc, time.Now()))
		received = append(received, rc)
	}
	save := func(desc types.FileDescriptor, art *sink.Artifact) (string, error) {
		return r.persist(art, desc.Name, opts.DestDir)
	}

	engineOpts := []engine.Option{engine.OnReceived(onReceived), engine.WithSaver(save)}
	if !opts.Memory {
		engineOpts = append(engineOpts, engine.WithAcquirer(sink.DirAcquirer{Dir: opts.DestDir}))
	}
	ep, err := d.endpoint(ch, engineOpts...)
	if err != nil {
		return nil, err
	}

	err = ep.Run(ctx)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = fmt.Errorf("receive interrupted: %w", err)
	}

	failed := 0
	for _, rc := range received {
		if rc.Err != nil {
			failed++
		}
	}
	if err == nil && failed > 0 {
		err = fmt.Errorf("%w: %d of %d failed", ErrIncomplete, failed, len(received))
	}
	return received, err
}

// persist writes an in-memory artifact into dir and returns where the file lives
func (r *ReceiverApp) persist(art *sink.Artifact, name, dir string) (string, error) {
	f, err := sink.CreateFile(dir, name)
	if err != nil {
		return "", err
	}
	if _, err := art.SaveTo(f); err != nil {
		f.Discard()
		return "", err
	}
	if err := f.Close(); err != nil {
		f.Discard()
		return "", fmt.Errorf("failed to save %s: %w", name, err)
	}
	return f.Path(), nil
}
