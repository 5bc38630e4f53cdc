// Package metrics holds the Prometheus collectors of the bot.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var registerOnce sync.Once

var (
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairing_commands_total",
			Help: "Bot commands handled, labeled by command and result.",
		},
		[]string{"command", "result"}, // result: ok | error | rejected
	)

	roundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairing_rounds_total",
			Help: "Round computations, labeled by outcome.",
		},
		[]string{"outcome"}, // created | existing | empty | failed
	)

	repeatedPairsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pairing_repeated_pairs_total",
			Help: "Pairs that had to repeat the previous pairing of a member.",
		},
	)

	announcementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairing_announcements_total",
			Help: "Round announcements sent to chats, labeled by status.",
		},
		[]string{"status"}, // sent | failed
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pairing_weekly_job_duration_seconds",
			Help:    "Duration of weekly pairing job runs.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"success"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{commandsTotal, roundsTotal, repeatedPairsTotal, announcementsTotal, jobDuration}
}

// MustRegister adds the pairing collectors to the default registry. Later
// calls are no-ops.
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(collectors()...)
	})
}

// norm trims and lowercases a label value
func norm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func IncCommand(command, result string) {
	commandsTotal.WithLabelValues(norm(command), norm(result)).Inc()
}

func IncRound(outcome string) {
	roundsTotal.WithLabelValues(norm(outcome)).Inc()
}

func AddRepeatedPairs(n int) {
	if n > 0 {
		repeatedPairsTotal.Add(float64(n))
	}
}

func IncAnnouncement(status string) {
	announcementsTotal.WithLabelValues(norm(status)).Inc()
}

func ObserveJob(d time.Duration, success bool) {
	label := "true"
	if !success {
		label = "false"
	}
	jobDuration.WithLabelValues(label).Observe(d.Seconds())
}
