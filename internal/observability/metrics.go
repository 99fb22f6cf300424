package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/signalsfoundry/simcontrol/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Collector bundles the Prometheus metrics shared by the control client and
// the engine server, and provides helpers to wire them into gRPC and HTTP.
//
// Collector satisfies both control.Recorder and simengine.Recorder.
type Collector struct {
	gatherer prometheus.Gatherer

	RPCRequests      *prometheus.CounterVec
	RPCDurations     *prometheus.HistogramVec
	SentinelFailures  *prometheus.CounterVec
	TransportFailures *prometheus.CounterVec
	Notifications     prometheus.Counter

	SimulationState prometheus.Gauge
	SceneObjects    prometheus.Gauge
}

// NewCollector registers metrics under namespace against reg, defaulting to
// the global Prometheus registry when reg is nil. Registering twice against
// the same registry returns the existing collectors.
func NewCollector(reg prometheus.Registerer, namespace string) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	name := func(s string) string { return prometheus.BuildFQName(namespace, "", s) }

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Total number of engine RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), name("requests_total"))
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "request_duration_seconds",
		Help:      "Engine RPC latency in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"service", "method"}), name("request_duration_seconds"))
	if err != nil {
		return nil, err
	}

	failures, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sentinel_failures_total",
		Help:      "Operations that completed with a failure sentinel, labeled by operation.",
	}, []string{"operation"}), name("sentinel_failures_total"))
	if err != nil {
		return nil, err
	}

	transportFailures, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transport_failures_total",
		Help:      "Operations that produced no response from the engine, labeled by operation.",
	}, []string{"operation"}), name("transport_failures_total"))
	if err != nil {
		return nil, err
	}

	notifications, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Simulator info notifications published or applied.",
	}), name("notifications_total"))
	if err != nil {
		return nil, err
	}

	state, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "simulation_state",
		Help:      "Current simulation state code (0 stopped, 1 running, 2 paused).",
	}), name("simulation_state"))
	if err != nil {
		return nil, err
	}

	objects, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "scene_objects",
		Help:      "Number of objects in the loaded scene.",
	}), name("scene_objects"))
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:          gatherer,
		RPCRequests:       requests,
		RPCDurations:      durations,
		SentinelFailures:  failures,
		TransportFailures: transportFailures,
		Notifications:     notifications,
		SimulationState:   state,
		SceneObjects:      objects,
	}, nil
}

func (c *Collector) observe(fullMethod string, start time.Time, err error) {
	if c == nil {
		return
	}
	service, method := SplitMethod(fullMethod)
	if c.RPCRequests != nil {
		c.RPCRequests.WithLabelValues(service, method, status.Code(err).String()).Inc()
	}
	if c.RPCDurations != nil {
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
	}
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *Collector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		c.observe(fullMethod, start, err)
		return resp, err
	}
}

// StreamServerInterceptor records streams once they end.
func (c *Collector) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		c.observe(fullMethod, start, err)
		return err
	}
}

// UnaryClientInterceptor records outbound unary calls.
func (c *Collector) UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		c.observe(method, start, err)
		return err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveFailure counts an operation that reported a failure sentinel.
func (c *Collector) ObserveFailure(op model.Operation) {
	if c == nil || c.SentinelFailures == nil {
		return
	}
	c.SentinelFailures.WithLabelValues(string(op)).Inc()
}

// ObserveTransportFailure counts an operation that got no response.
func (c *Collector) ObserveTransportFailure(op model.Operation) {
	if c == nil || c.TransportFailures == nil {
		return
	}
	c.TransportFailures.WithLabelValues(string(op)).Inc()
}

// SetSimulationState publishes the current run state.
func (c *Collector) SetSimulationState(state model.SimulationState) {
	if c == nil || c.SimulationState == nil {
		return
	}
	c.SimulationState.Set(float64(model.CodeFor(state)))
}

// SetSceneObjects publishes the loaded scene size.
func (c *Collector) SetSceneObjects(n int) {
	if c == nil || c.SceneObjects == nil {
		return
	}
	c.SceneObjects.Set(float64(n))
}

// IncNotifications counts one info notification.
func (c *Collector) IncNotifications() {
	if c == nil || c.Notifications == nil {
		return
	}
	c.Notifications.Inc()
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
