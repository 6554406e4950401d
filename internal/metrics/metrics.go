// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Scans counts recorded attendance events by movement.
	Scans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrgate_scans_total",
		Help: "Attendance events recorded, by movement.",
	}, []string{"movement"})

	// ScanFailures counts rejected scan submissions by reason.
	ScanFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrgate_scan_failures_total",
		Help: "Rejected scan submissions, by reason.",
	}, []string{"reason"})

	// PasswordFailures counts wrong lector passwords.
	PasswordFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qrgate_lector_password_failures_total",
		Help: "Failed lector password validations.",
	})

	// LockConflicts counts refused reader lock acquisitions.
	LockConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qrgate_lock_conflicts_total",
		Help: "Reader lock acquisitions refused because another operator holds the lease.",
	})
)
