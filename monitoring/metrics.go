package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	allocationOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seat_allocations_total",
			Help: "Seat allocation operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	seatKicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seat_kicks_total",
			Help: "Floating occupants kicked by designated bookings",
		},
	)

	seatReleases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seat_releases_total",
			Help: "Released bookings by booking type",
		},
		[]string{"type"},
	)

	txRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "allocation_tx_retries_total",
			Help: "Storage transaction retries caused by write contention",
		},
	)

	floatingAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "floating_pool_available",
			Help: "Remaining floating seats per date",
		},
		[]string{"date"},
	)
)

// TrackAllocation records one engine operation and its outcome.
func TrackAllocation(operation, outcome string) {
	allocationOps.WithLabelValues(operation, outcome).Inc()
}

// TrackKick records a floating occupant losing their seat to a
// designated booking.
func TrackKick() {
	seatKicks.Inc()
}

// TrackRelease records a released booking by type.
func TrackRelease(bookingType string) {
	seatReleases.WithLabelValues(bookingType).Inc()
}

// TrackRetry records one transaction retry.
func TrackRetry() {
	txRetries.Inc()
}

// SetFloatingAvailable updates the remaining floating capacity gauge for
// a date.
func SetFloatingAvailable(date string, available int) {
	if available < 0 {
		available = 0
	}
	floatingAvailable.WithLabelValues(date).Set(float64(available))
}
