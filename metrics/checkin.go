package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type CheckInMetrics struct {
	verified       *prometheus.CounterVec
	rejected       *prometheus.CounterVec
	issued         *prometheus.CounterVec
	pointsCredited *prometheus.CounterVec
	creditFailures *prometheus.CounterVec
	reconciled     prometheus.Counter
	distance       prometheus.Histogram
}

var (
	checkInOnce     sync.Once
	checkInRegistry *CheckInMetrics
)

func CheckIns() *CheckInMetrics {
	checkInOnce.Do(func() {
		checkInRegistry = &CheckInMetrics{
			verified: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "checkin_verified_total",
				Help: "Check-in requests that passed verification by method.",
			}, []string{"method"}),
			rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "checkin_rejected_total",
				Help: "Check-in requests rejected by reason.",
			}, []string{"reason"}),
			issued: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "checkin_issued_total",
				Help: "Check-in events persisted by issuance mode.",
			}, []string{"mode"}),
			pointsCredited: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "checkin_points_credited_total",
				Help: "Points credited for check-ins by account kind.",
			}, []string{"account_kind"}),
			creditFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "checkin_credit_failures_total",
				Help: "Failed credit attempts by account kind.",
			}, []string{"account_kind"}),
			reconciled: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "checkin_reconciled_total",
				Help: "Pending check-in events completed by the reconciler.",
			}),
			distance: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "checkin_gps_distance_meters",
				Help:    "Distance between device and business for GPS check-ins.",
				Buckets: []float64{5, 10, 25, 50, 100, 250, 1000, 5000},
			}),
		}
		prometheus.MustRegister(
			checkInRegistry.verified,
			checkInRegistry.rejected,
			checkInRegistry.issued,
			checkInRegistry.pointsCredited,
			checkInRegistry.creditFailures,
			checkInRegistry.reconciled,
			checkInRegistry.distance,
		)
	})
	return checkInRegistry
}

func (m *CheckInMetrics) RecordVerified(method string) {
	if m == nil {
		return
	}
	m.verified.WithLabelValues(method).Inc()
}

func (m *CheckInMetrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *CheckInMetrics) RecordIssued(mode string) {
	if m == nil {
		return
	}
	m.issued.WithLabelValues(mode).Inc()
}

func (m *CheckInMetrics) RecordCredited(accountKind string, points int64) {
	if m == nil {
		return
	}
	m.pointsCredited.WithLabelValues(accountKind).Add(float64(points))
}

func (m *CheckInMetrics) RecordCreditFailure(accountKind string) {
	if m == nil {
		return
	}
	m.creditFailures.WithLabelValues(accountKind).Inc()
}

func (m *CheckInMetrics) RecordReconciled(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reconciled.Add(float64(n))
}

func (m *CheckInMetrics) ObserveDistance(meters float64) {
	if m == nil {
		return
	}
	m.distance.Observe(meters)
}
