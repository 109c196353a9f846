package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	agentsOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lanclass_relay_agents_online",
		Help: "Number of registered agent sessions.",
	})
	datagramsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lanclass_relay_datagrams_received_total",
		Help: "Datagrams read from the video socket.",
	})
	datagramsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lanclass_relay_datagrams_dropped_total",
		Help: "Datagrams discarded as short, stale, duplicate or out of range.",
	})
	framesReassembled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lanclass_relay_frames_reassembled_total",
		Help: "Complete frames produced by the reassembler.",
	})
	framesSuperseded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lanclass_relay_frames_superseded_total",
		Help: "Partial frames discarded because a newer sequence started.",
	})
	framesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lanclass_relay_frames_expired_total",
		Help: "Partial frames dropped by the inactivity sweep.",
	})
	framesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lanclass_relay_frames_relayed_total",
		Help: "Frames fanned out to coordinators.",
	})
	framesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lanclass_relay_frames_dropped_total",
		Help: "Frames dropped: overwritten by a newer one or unattributable.",
	})
)
