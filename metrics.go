package ajp

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports pool state and traffic of Clients to Prometheus.
// Set ClientConfig.Metrics to have a Client report to it, and register
// the Metrics with a prometheus.Registerer.
type Metrics struct {
	mu           sync.Mutex
	clients      map[string]*Client
	events       *prometheus.CounterVec
	bytesRead    *prometheus.CounterVec
	bytesWritten *prometheus.CounterVec
	connections  *prometheus.Desc
	available    *prometheus.Desc
	leased       *prometheus.Desc
	pending      *prometheus.Desc
	opening      *prometheus.Desc
	granted      *prometheus.Desc
	startTime    *prometheus.Desc
}

// NewMetrics returns Metrics with all names prefixed by namespace.
func NewMetrics(namespace string) *Metrics {
	upstream := []string{"upstream"}
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", name), help, append(upstream, labels...), nil)
	}
	return &Metrics{
		clients: make(map[string]*Client),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "events_total",
			Help:      "Pool lifecycle events by type",
		}, []string{"upstream", "event"}),
		bytesRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conn",
			Name:      "read_bytes_total",
			Help:      "Bytes read from upstream connections",
		}, upstream),
		bytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conn",
			Name:      "written_bytes_total",
			Help:      "Bytes written to upstream connections",
		}, upstream),
		connections: desc("connections", "Open connections", "kind"),
		available:   desc("available_connections", "Idle connections", "kind"),
		leased:      desc("leased_connections", "Connections currently leased"),
		pending:     desc("pending_leases", "Lease requests waiting for a connection"),
		opening:     desc("opening_connections", "Connections being dialed"),
		granted:     desc("leases_granted_total", "Leases granted since start"),
		startTime:   desc("start_time_seconds", "Unix time the pool was started"),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.events.Describe(ch)
	m.bytesRead.Describe(ch)
	m.bytesWritten.Describe(ch)
	ch <- m.connections
	ch <- m.available
	ch <- m.leased
	ch <- m.pending
	ch <- m.opening
	ch <- m.granted
	ch <- m.startTime
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.events.Collect(ch)
	m.bytesRead.Collect(ch)
	m.bytesWritten.Collect(ch)
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.Unlock()
	for _, c := range clients {
		ps, err := c.Stats()
		if err != nil {
			continue
		}
		gauge := func(d *prometheus.Desc, v int, labels ...string) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v), append([]string{c.Addr}, labels...)...)
		}
		gauge(m.connections, ps.Immortal, "immortal")
		gauge(m.connections, ps.Ephemeral, "ephemeral")
		gauge(m.available, ps.AvailableImmortal, "immortal")
		gauge(m.available, ps.AvailableEphemeral, "ephemeral")
		gauge(m.leased, ps.Leased)
		gauge(m.pending, ps.Pending)
		gauge(m.opening, ps.Opening)
		ch <- prometheus.MustNewConstMetric(m.granted, prometheus.CounterValue, float64(ps.LeasesGranted), c.Addr)
		if !ps.Started.IsZero() {
			ch <- prometheus.MustNewConstMetric(m.startTime, prometheus.GaugeValue, float64(ps.Started.UnixNano())/1e9, c.Addr)
		}
	}
}

func (m *Metrics) track(c *Client) {
	m.mu.Lock()
	m.clients[c.Addr] = c
	m.mu.Unlock()
}

func (m *Metrics) untrack(c *Client) {
	m.mu.Lock()
	if m.clients[c.Addr] == c {
		delete(m.clients, c.Addr)
	}
	m.mu.Unlock()
}

func (m *Metrics) listener(c *Client) PoolListener[*Conn] {
	return &metricsListener{m: m, c: c}
}

func (m *Metrics) statsCollector(addr string) StatsCollector {
	return &metricsStats{
		read:    m.bytesRead.WithLabelValues(addr),
		written: m.bytesWritten.WithLabelValues(addr),
	}
}

type metricsStats struct {
	read    prometheus.Counter
	written prometheus.Counter
}

func (ms *metricsStats) AddBytesRead(n int64)    { ms.read.Add(float64(n)) }
func (ms *metricsStats) AddBytesWritten(n int64) { ms.written.Add(float64(n)) }

type metricsListener struct {
	m *Metrics
	c *Client
}

func (ml *metricsListener) inc(event string) {
	ml.m.events.WithLabelValues(ml.c.Addr, event).Inc()
}

func (ml *metricsListener) Started() {
	ml.inc("started")
}

func (ml *metricsListener) Stopped() {
	ml.inc("stopped")
	ml.m.untrack(ml.c)
}

func (ml *metricsListener) LeaseRequested(time.Duration, any) { ml.inc("lease_requested") }
func (ml *metricsListener) LeaseGranted(*Lease[*Conn])        { ml.inc("lease_granted") }
func (ml *metricsListener) LeaseCanceled(any)                 { ml.inc("lease_canceled") }
func (ml *metricsListener) LeaseYield(*Lease[*Conn])          { ml.inc("lease_yield") }
func (ml *metricsListener) LeaseExpired(*Lease[*Conn])        { ml.inc("lease_expired") }
func (ml *metricsListener) ConnectionCreated(*Conn, bool)     { ml.inc("connection_created") }
func (ml *metricsListener) ConnectionClosed(*Conn)            { ml.inc("connection_closed") }
func (ml *metricsListener) EphemeralReaped(*Conn)             { ml.inc("ephemeral_reaped") }
