package sources

import (
	"context"
	"log/slog"
	"time"

	"github.com/anatolykoptev/go_transcript/internal/engine"
)

// Dispatcher runs providers in a fixed order until one returns a transcript.
type Dispatcher struct {
	Providers []Provider
}

// NewDispatcher returns the standard table: video site, podcast, generic.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{Providers: []Provider{&YouTube{}, &Podcast{}, &Generic{}}}
}

// Dispatch asks each provider that can handle pc in turn. Attempted, Notes and
// Metadata accumulate across providers. A provider error stops the run.
func (d *Dispatcher) Dispatch(ctx context.Context, pc ProviderContext, opts FetchOptions) (*ProviderResult, error) {
	out := newResult()
	for _, p := range d.Providers {
		if !p.CanHandle(pc) {
			continue
		}
		start := time.Now()
		res, err := p.FetchTranscript(ctx, pc, opts)
		if res != nil {
			out.Attempted = append(out.Attempted, res.Attempted...)
			out.Notes = append(out.Notes, res.Notes...)
			for k, v := range res.Metadata {
				out.Metadata[k] = v
			}
			if res.Reason != "" {
				out.Reason = res.Reason
			}
		}
		if err != nil {
			slog.Warn("provider aborted", slog.String("provider", p.Name()),
				slog.String("url", pc.URL), slog.Any("error", err))
			return out, err
		}
		if res != nil && res.Transcript != nil {
			out.Transcript = res.Transcript
			slog.Info("transcript resolved", slog.String("provider", p.Name()),
				slog.String("source", string(res.Transcript.Source)),
				slog.Duration("elapsed", time.Since(start)))
			return out, nil
		}
		slog.Debug("provider found nothing", slog.String("provider", p.Name()), slog.String("url", pc.URL))
	}
	engine.IncrTranscriptFailures()
	return out, nil
}
