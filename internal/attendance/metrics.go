package attendance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	acceptedCheckins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presenzo_checkins_accepted_total",
		Help: "Check-ins that passed validation and were recorded.",
	})
	rejectedCheckins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presenzo_checkins_rejected_total",
		Help: "Check-ins rejected by validation, labelled by reason.",
	}, []string{"reason"})
	startedSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presenzo_attendance_sessions_started_total",
		Help: "Attendance sessions started by instructors.",
	})
)
