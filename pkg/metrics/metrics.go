package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ardnew/isostream/pkg"
)

type kind int

const (
	kindCounter kind = iota
	kindGauge
)

// Source is one metric read from a live counter when scraped.
type Source struct {
	Name  string
	Help  string
	Value func() float64
	kind  kind
}

// Counter returns a monotonically increasing source.
func Counter(name, help string, value func() float64) Source {
	return Source{Name: name, Help: help, Value: value, kind: kindCounter}
}

// Gauge returns a source that may go up and down.
func Gauge(name, help string, value func() float64) Source {
	return Source{Name: name, Help: help, Value: value, kind: kindGauge}
}

// Provider is implemented by components that expose metric sources.
type Provider interface {
	Metrics() []Source
}

// Register registers every source with reg under namespace_subsystem_name.
func Register(reg prometheus.Registerer, namespace, subsystem string, sources ...Source) error {
	var errs []error
	for _, s := range sources {
		if s.Value == nil {
			errs = append(errs, fmt.Errorf("%w: metric %q has no value", pkg.ErrInvalidParameter, s.Name))
			continue
		}
		opts := prometheus.Opts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      s.Name,
			Help:      s.Help,
		}

		var c prometheus.Collector
		switch s.kind {
		case kindGauge:
			c = prometheus.NewGaugeFunc(prometheus.GaugeOpts(opts), s.Value)
		default:
			c = prometheus.NewCounterFunc(prometheus.CounterOpts(opts), s.Value)
		}
		if err := reg.Register(c); err != nil {
			errs = append(errs, fmt.Errorf("register %s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// NewRegistry returns a registry carrying the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns an HTTP handler exposing the metrics gathered from g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes g at /metrics on addr until ctx is cancelled. Each mount
// function may add more handlers to the mux. A nil return means ctx ended.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, mounts ...func(*http.ServeMux)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return serve(ctx, ln, g, mounts...)
}

func serve(ctx context.Context, ln net.Listener, g prometheus.Gatherer, mounts ...func(*http.ServeMux)) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	for _, mount := range mounts {
		mount(mux)
	}

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- srv.Shutdown(shutdown)
	}()

	pkg.LogInfo(pkg.ComponentMetrics, "serving metrics", "addr", ln.Addr().String())
	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-done
}
