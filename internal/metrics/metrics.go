// Package metrics registers and exposes the daemon's Prometheus series,
// grounded on the reference daemon's internal/security.InitMetrics: a
// package-level set of vectors registered once, recorded from plain
// function calls scattered across the packages that observe the events.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchRequestsTotal   *prometheus.CounterVec
	dispatchRequestDuration *prometheus.HistogramVec

	syncEventsTotal      *prometheus.CounterVec
	keyRotationsTotal    *prometheus.CounterVec
	permissionDenials    *prometheus.CounterVec
	cliCommandsTotal     *prometheus.CounterVec
	trashPurgesTotal     prometheus.Counter
	lifecycleSweepsTotal prometheus.Counter
)

var initOnce sync.Once

// Init registers every series with the given constant labels. Safe to call
// multiple times; only the first call registers anything, matching the
// teacher's InitMetrics contract.
func Init(constLabels prometheus.Labels) {
	initOnce.Do(func() { initInner(constLabels) })
}

func initInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	dispatchRequestsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "vaulthalla_dispatch_requests_total",
		Help: "Total number of envelope commands handled by the dispatcher.",
	}, []string{"command", "status"})

	dispatchRequestDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vaulthalla_dispatch_request_duration_seconds",
		Help:    "Dispatcher command handling latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"command"})

	syncEventsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "vaulthalla_sync_events_total",
		Help: "Total sync tasks completed, by outcome.",
	}, []string{"outcome"})

	keyRotationsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "vaulthalla_key_rotations_total",
		Help: "Total vault encryption key rotations completed, by result.",
	}, []string{"result"})

	permissionDenials = f.NewCounterVec(prometheus.CounterOpts{
		Name: "vaulthalla_permission_denials_total",
		Help: "Total storage operations denied by the permission evaluator, by capability.",
	}, []string{"capability"})

	cliCommandsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "vaulthalla_cli_commands_total",
		Help: "Total admin CLI socket commands handled, by command and result.",
	}, []string{"command", "result"})

	trashPurgesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "vaulthalla_trash_purges_total",
		Help: "Total trashed files permanently purged by the janitor.",
	})

	lifecycleSweepsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "vaulthalla_lifecycle_sweeps_total",
		Help: "Total connection lifecycle sweep passes completed.",
	})
}

// RecordSyncEvent increments the sync-outcome counter. outcome is a
// model.SyncOutcome stringified by the caller, kept untyped here so this
// package never imports internal/model.
func RecordSyncEvent(outcome string) {
	if syncEventsTotal == nil {
		return
	}
	syncEventsTotal.WithLabelValues(outcome).Inc()
}

// RecordKeyRotation increments the rotation counter. result is "ok" or
// "failed".
func RecordKeyRotation(result string) {
	if keyRotationsTotal == nil {
		return
	}
	keyRotationsTotal.WithLabelValues(result).Inc()
}

// RecordPermissionDenial increments the denial counter for capability, a
// human-readable capability name the caller derives from the bit that was
// checked.
func RecordPermissionDenial(capability string) {
	if permissionDenials == nil {
		return
	}
	permissionDenials.WithLabelValues(capability).Inc()
}

// RecordCLICommand increments the admin-socket command counter.
func RecordCLICommand(command, result string) {
	if cliCommandsTotal == nil {
		return
	}
	cliCommandsTotal.WithLabelValues(command, result).Inc()
}

// RecordTrashPurge increments the janitor purge counter.
func RecordTrashPurge() {
	if trashPurgesTotal == nil {
		return
	}
	trashPurgesTotal.Inc()
}

// RecordLifecycleSweep increments the lifecycle sweep counter.
func RecordLifecycleSweep() {
	if lifecycleSweepsTotal == nil {
		return
	}
	lifecycleSweepsTotal.Inc()
}

// DispatchMiddleware records request counts and latency for the envelope
// endpoint, the dispatch-package analog of the teacher's MetricsMiddleware.
// It reads the envelope command and status gin.Context stashed by the
// handler under these two keys, since every request hits the same route.
func DispatchMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if dispatchRequestsTotal == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		command, _ := c.Get("vaulthalla.command")
		status, _ := c.Get("vaulthalla.status")
		cmdStr, _ := command.(string)
		statusStr, _ := status.(string)
		if cmdStr == "" {
			cmdStr = "unknown"
		}
		if statusStr == "" {
			statusStr = strconv.Itoa(c.Writer.Status())
		}
		dispatchRequestsTotal.WithLabelValues(cmdStr, statusStr).Inc()
		dispatchRequestDuration.WithLabelValues(cmdStr).Observe(duration.Seconds())
	}
}
