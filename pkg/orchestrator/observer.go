package orchestrator

import (
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// Observer receives resource lifecycle events. Calls for different
// resources may arrive concurrently.
type Observer interface {
	Started(name string)
	Progress(name string)
	Finished(name string)
	Aborted(name string, err error)
}

type nopObserver struct{}

func (nopObserver) Started(string)        {}
func (nopObserver) Progress(string)       {}
func (nopObserver) Finished(string)       {}
func (nopObserver) Aborted(string, error) {}

// DotObserver writes one character per resource step to W, so a terminal
// shows which resources are still moving.
type DotObserver struct {
	W io.Writer

	// Symbols maps resource names to their character. Unmapped resources
	// use the first letter of their name.
	Symbols map[string]string

	// Failed is written when a resource is aborted. Defaults to "x".
	Failed string

	mu sync.Mutex
}

func (d *DotObserver) symbol(name string) string {
	if s, ok := d.Symbols[name]; ok {
		return s
	}
	if name == "" {
		return "."
	}
	return name[:1]
}

func (d *DotObserver) write(s string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	io.WriteString(d.W, s)
}

// Started implements Observer.
func (d *DotObserver) Started(string) {}

// Progress implements Observer.
func (d *DotObserver) Progress(name string) {
	d.write(d.symbol(name))
}

// Finished implements Observer.
func (d *DotObserver) Finished(string) {}

// Aborted implements Observer.
func (d *DotObserver) Aborted(string, error) {
	failed := d.Failed
	if failed == "" {
		failed = "x"
	}
	d.write(failed)
}

// LogObserver logs lifecycle events.
type LogObserver struct {
	Logger zerolog.Logger
}

// Started implements Observer.
func (l LogObserver) Started(name string) {
	l.Logger.Info().Str("resource", name).Msg("Sync started")
}

// Progress implements Observer.
func (l LogObserver) Progress(name string) {
	l.Logger.Debug().Str("resource", name).Msg("Sync progress")
}

// Finished implements Observer.
func (l LogObserver) Finished(name string) {
	l.Logger.Info().Str("resource", name).Msg("Sync finished")
}

// Aborted implements Observer.
func (l LogObserver) Aborted(name string, err error) {
	l.Logger.Error().Err(err).Str("resource", name).Msg("Sync aborted")
}

// Observers fans events out to several observers.
type Observers []Observer

// Started implements Observer.
func (o Observers) Started(name string) {
	for _, obs := range o {
		obs.Started(name)
	}
}

// Progress implements Observer.
func (o Observers) Progress(name string) {
	for _, obs := range o {
		obs.Progress(name)
	}
}

// Finished implements Observer.
func (o Observers) Finished(name string) {
	for _, obs := range o {
		obs.Finished(name)
	}
}

// Aborted implements Observer.
func (o Observers) Aborted(name string, err error) {
	for _, obs := range o {
		obs.Aborted(name, err)
	}
}

// guarded shields the orchestrator from panicking observers.
type guarded struct {
	obs    Observer
	logger zerolog.Logger
}

func (g guarded) call(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Warn().Str("resource", name).Interface("panic", r).Msg("Observer panicked")
		}
	}()
	fn()
}

func (g guarded) Started(name string)  { g.call(name, func() { g.obs.Started(name) }) }
func (g guarded) Progress(name string) { g.call(name, func() { g.obs.Progress(name) }) }
func (g guarded) Finished(name string) { g.call(name, func() { g.obs.Finished(name) }) }
func (g guarded) Aborted(name string, err error) {
	g.call(name, func() { g.obs.Aborted(name, err) })
}
