package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/voxgate/internal/sink"
	"github.com/MrWong99/voxgate/pkg/audio"
	"github.com/MrWong99/voxgate/pkg/provider/vad"
)

// ErrNotRegistered is returned by Create* methods when no factory has been
// registered under the requested name.
var ErrNotRegistered = errors.New("config: component not registered")

// Registry maps component names to their constructor functions for each
// component kind. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	vad    map[string]func(VADConfig) (vad.Engine, error)
	source map[string]func(SourceConfig) (audio.Source, error)
	sink   map[string]func(SinkEntry) (sink.Sink, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		vad:    make(map[string]func(VADConfig) (vad.Engine, error)),
		source: make(map[string]func(SourceConfig) (audio.Source, error)),
		sink:   make(map[string]func(SinkEntry) (sink.Sink, error)),
	}
}

// RegisterVAD registers a VAD engine factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterVAD(name string, factory func(VADConfig) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterSource registers an audio source factory under name.
func (r *Registry) RegisterSource(name string, factory func(SourceConfig) (audio.Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.source[name] = factory
}

// RegisterSink registers a sink factory under name.
func (r *Registry) RegisterSink(name string, factory func(SinkEntry) (sink.Sink, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink[name] = factory
}

// CreateVAD instantiates a VAD engine using the factory registered under cfg.Name.
// Returns [ErrNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateVAD(cfg VADConfig) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrNotRegistered, cfg.Name)
	}
	return factory(cfg)
}

// CreateSource instantiates an audio source using the factory registered under cfg.Name.
func (r *Registry) CreateSource(cfg SourceConfig) (audio.Source, error) {
	r.mu.RLock()
	factory, ok := r.source[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: source/%q", ErrNotRegistered, cfg.Name)
	}
	return factory(cfg)
}

// CreateSinks instantiates every configured sink. On failure the sinks
// created so far are closed.
func (r *Registry) CreateSinks(entries []SinkEntry) ([]sink.Sink, error) {
	out := make([]sink.Sink, 0, len(entries))
	for _, e := range entries {
		r.mu.RLock()
		factory, ok := r.sink[e.Name]
		r.mu.RUnlock()
		var (
			s   sink.Sink
			err error
		)
		if !ok {
			err = fmt.Errorf("%w: sink/%q", ErrNotRegistered, e.Name)
		} else {
			s, err = factory(e)
		}
		if err != nil {
			for _, created := range out {
				_ = created.Close()
			}
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Names returns the sorted names registered for kind ("vad", "source", or
// "sink").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "vad":
		for n := range r.vad {
			names = append(names, n)
		}
	case "source":
		for n := range r.source {
			names = append(names, n)
		}
	case "sink":
		for n := range r.sink {
			names = append(names, n)
		}
	}
	slices.Sort(names)
	return names
}
