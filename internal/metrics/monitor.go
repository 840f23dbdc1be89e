// Package metrics provides Prometheus metrics for the uevent monitor daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uevmon",
		Subsystem: "monitor",
		Name:      "events_received_total",
		Help:      "Total device events delivered to the receive path, by subsystem",
	}, []string{"subsystem", "group"})

	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uevmon",
		Subsystem: "monitor",
		Name:      "events_dropped_total",
		Help:      "Total ReceiveDevice calls that returned ErrAgain: no datagram was waiting, or one was rejected before a device was delivered",
	}, []string{"group"})

	eventsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uevmon",
		Subsystem: "monitor",
		Name:      "events_sent_total",
		Help:      "Total device events sent, by subsystem",
	}, []string{"subsystem"})

	trustedSenderSet = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "uevmon",
		Subsystem: "monitor",
		Name:      "trusted_sender_set",
		Help:      "1 if a unicast trusted sender address is currently configured, else 0",
	})
)

// IncEventReceived records a device successfully delivered to a caller of
// ReceiveDevice.
func IncEventReceived(group, subsystem string) {
	eventsReceived.WithLabelValues(subsystem, group).Inc()
}

// IncEventDropped records a ReceiveDevice call that came back empty:
// either nothing was waiting on the socket, or a datagram was rejected
// somewhere in the receive decision tree (untrusted sender, bad
// credentials, corrupt framing, or the user-space safety-net filter).
func IncEventDropped(group string) {
	eventsDropped.WithLabelValues(group).Inc()
}

// IncEventSent records a device successfully handed to SendDevice.
func IncEventSent(subsystem string) {
	eventsSent.WithLabelValues(subsystem).Inc()
}

// SetTrustedSenderConfigured reports whether a unicast trusted sender is
// currently configured on a monitor.
func SetTrustedSenderConfigured(configured bool) {
	if configured {
		trustedSenderSet.Set(1)
	} else {
		trustedSenderSet.Set(0)
	}
}
