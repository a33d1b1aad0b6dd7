// Package tracer builds the Jaeger tracers used for instrumenting the relay
// streams and the broadcast/relax rounds.
package tracer

import (
	"io"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/opentracing/opentracing-go"
	"github.com/uber/jaeger-client-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
	"golang.org/x/xerrors"
)

// Closers tracks the tracers created by this package so they can be flushed
// with a single call before the process exits.
var Closers = new(closerSet)

type closerSet struct {
	mu      sync.Mutex
	closers []io.Closer
}

func (s *closerSet) add(c io.Closer) {
	s.mu.Lock()
	s.closers = append(s.closers, c)
	s.mu.Unlock()
}

// Close flushes and closes every tracked tracer.
func (s *closerSet) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	for _, closer := range s.closers {
		if cErr := closer.Close(); cErr != nil {
			err = multierror.Append(err, cErr)
		}
	}

	s.closers = nil
	return err
}

// New returns a Jaeger tracer for serviceName configured from the JAEGER_*
// environment variables. When sampleAll is set, every span is captured
// regardless of the sampler configured in the environment.
//
// Callers must invoke Closers.Close before exiting so no spans are lost.
func New(serviceName string, sampleAll bool) (opentracing.Tracer, error) {
	cfg, err := jaegercfg.FromEnv()
	if err != nil {
		return nil, xerrors.Errorf("unable to read jaeger config: %w", err)
	}

	if sampleAll {
		cfg.Sampler = &jaegercfg.SamplerConfig{
			Type:  jaeger.SamplerTypeConst,
			Param: 1,
		}
	}
	cfg.ServiceName = serviceName

	tracer, closer, err := cfg.NewTracer()
	if err != nil {
		return nil, xerrors.Errorf("unable to create tracer: %w", err)
	}

	Closers.add(closer)
	return tracer, nil
}

// InstallGlobal creates a tracer via New and registers it as the global
// opentracing tracer.
func InstallGlobal(serviceName string, sampleAll bool) error {
	tracer, err := New(serviceName, sampleAll)
	if err != nil {
		return err
	}
	opentracing.SetGlobalTracer(tracer)
	return nil
}
