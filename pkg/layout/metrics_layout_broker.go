package layout

import (
	"context"
	"net/netip"
	"sync"

	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/go-xdr/pkg/protocols/nfsv4"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	layoutBrokerPrometheusMetrics sync.Once

	layoutBrokerOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "pnfs",
			Name:      "layout_broker_operations_total",
			Help:      "Number of operations invoked against the layout broker, by NFSv4 status.",
		},
		[]string{"operation", "status"})
	layoutBrokerLayoutGetDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "buildbarn",
			Subsystem: "pnfs",
			Name:      "layout_broker_layout_get_duration_seconds",
			Help:      "Amount of time spent in LAYOUTGET, including the time waiting for movers to start, in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.0, 16),
		},
		[]string{"status"})
)

type metricsLayoutBroker struct {
	LayoutBroker
	clock clock.Clock
}

// NewMetricsLayoutBroker creates a decorator for LayoutBroker that
// exposes Prometheus metrics for all operations called. Errors are
// reported as the NFSv4 status code that clients end up receiving.
func NewMetricsLayoutBroker(base LayoutBroker, clock clock.Clock) LayoutBroker {
	layoutBrokerPrometheusMetrics.Do(func() {
		prometheus.MustRegister(layoutBrokerOperations)
		prometheus.MustRegister(layoutBrokerLayoutGetDurationSeconds)
	})

	return &metricsLayoutBroker{
		LayoutBroker: base,
		clock:        clock,
	}
}

func statusLabel(err error) string {
	if name, ok := nfsv4.Nfsstat4_name[ErrorToNfsstat4(err)]; ok {
		return name
	}
	return "UNKNOWN"
}

func (lb *metricsLayoutBroker) LayoutGet(ctx context.Context, request *LayoutRequest) (*Layout, error) {
	timeStart := lb.clock.Now()
	layout, err := lb.LayoutBroker.LayoutGet(ctx, request)
	status := statusLabel(err)
	layoutBrokerOperations.WithLabelValues("LAYOUTGET", status).Inc()
	layoutBrokerLayoutGetDurationSeconds.WithLabelValues(status).Observe(lb.clock.Now().Sub(timeStart).Seconds())
	return layout, err
}

func (lb *metricsLayoutBroker) LayoutReturn(ctx context.Context, stateID nfsv4.Stateid4) error {
	err := lb.LayoutBroker.LayoutReturn(ctx, stateID)
	layoutBrokerOperations.WithLabelValues("LAYOUTRETURN", statusLabel(err)).Inc()
	return err
}

func (lb *metricsLayoutBroker) GetDeviceInfo(ctx context.Context, deviceID DeviceID, localAddress netip.AddrPort) (*PoolEndpoint, error) {
	endpoint, err := lb.LayoutBroker.GetDeviceInfo(ctx, deviceID, localAddress)
	layoutBrokerOperations.WithLabelValues("GETDEVICEINFO", statusLabel(err)).Inc()
	return endpoint, err
}

func (lb *metricsLayoutBroker) GetDeviceList(ctx context.Context) ([]DeviceID, error) {
	deviceIDs, err := lb.LayoutBroker.GetDeviceList(ctx)
	layoutBrokerOperations.WithLabelValues("GETDEVICELIST", statusLabel(err)).Inc()
	return deviceIDs, err
}
