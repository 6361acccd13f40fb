package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	documentMutations  *prometheus.CounterVec
	documentRevision   *prometheus.GaugeVec
	presenceUpdates    *prometheus.CounterVec
	staleUpdates       *prometheus.CounterVec
	identityRejections *prometheus.CounterVec
	notJoinedRejects   prometheus.Counter

	activeParticipants *prometheus.GaugeVec
	activeSessions     prometheus.Gauge
	activityLogSize    *prometheus.GaugeVec
	activityEvictions  *prometheus.CounterVec

	connectedClients prometheus.Gauge
	rpcRequestsTotal *prometheus.CounterVec
	relayDeliveries  *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			documentMutations: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "document_mutations_total",
					Help: "Total document register mutations by origin (local, remote).",
				},
				[]string{"origin"},
			),
			documentRevision: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "document_revision",
					Help: "Current document revision by room.",
				},
				[]string{"room"},
			),
			presenceUpdates: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "presence_updates_total",
					Help: "Total presence updates applied by origin (local, remote).",
				},
				[]string{"origin"},
			),
			staleUpdates: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "presence_stale_updates_total",
					Help: "Total remote presence updates dropped as stale, by room.",
				},
				[]string{"room"},
			),
			identityRejections: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "identity_rejections_total",
					Help: "Total join attempts rejected by name validation, by reason.",
				},
				[]string{"reason"},
			),
			notJoinedRejects: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "not_joined_rejections_total",
					Help: "Total local mutations rejected because the participant had not joined.",
				},
			),
			activeParticipants: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "active_participants",
					Help: "Joined participants seen by a session, by room.",
				},
				[]string{"room"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current number of live sessions.",
				},
			),
			activityLogSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "activity_log_size",
					Help: "Edit events retained in the activity log, by room.",
				},
				[]string{"room"},
			),
			activityEvictions: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "activity_log_evictions_total",
					Help: "Edit events evicted from the activity log, by room.",
				},
				[]string{"room"},
			),
			connectedClients: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "gateway_connected_clients",
					Help: "Current websocket clients.",
				},
			),
			rpcRequestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "gateway_rpc_requests_total",
					Help: "Total gateway RPC requests by method and status.",
				},
				[]string{"method", "status"},
			),
			relayDeliveries: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "relay_deliveries_total",
					Help: "Total relay deliveries by kind (presence, document).",
				},
				[]string{"kind"},
			),
		}

		prometheus.MustRegister(
			m.documentMutations,
			m.documentRevision,
			m.presenceUpdates,
			m.staleUpdates,
			m.identityRejections,
			m.notJoinedRejects,
			m.activeParticipants,
			m.activeSessions,
			m.activityLogSize,
			m.activityEvictions,
			m.connectedClients,
			m.rpcRequestsTotal,
			m.relayDeliveries,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordDocumentMutation(room, origin string, revision uint64) {
	m := getMetrics()
	m.documentMutations.WithLabelValues(origin).Inc()
	m.documentRevision.WithLabelValues(room).Set(float64(revision))
}

func RecordPresenceUpdate(origin string) {
	getMetrics().presenceUpdates.WithLabelValues(origin).Inc()
}

func RecordStaleUpdate(room string) {
	getMetrics().staleUpdates.WithLabelValues(room).Inc()
}

func RecordIdentityRejection(reason string) {
	getMetrics().identityRejections.WithLabelValues(reason).Inc()
}

func RecordNotJoined() {
	getMetrics().notJoinedRejects.Inc()
}

func SetActiveParticipants(room string, count int) {
	getMetrics().activeParticipants.WithLabelValues(room).Set(float64(count))
}

func AddActiveSessions(delta int) {
	getMetrics().activeSessions.Add(float64(delta))
}

func RecordActivity(room string, size, evicted int) {
	m := getMetrics()
	m.activityLogSize.WithLabelValues(room).Set(float64(size))
	if evicted > 0 {
		m.activityEvictions.WithLabelValues(room).Add(float64(evicted))
	}
}

func SetConnectedClients(count int) {
	getMetrics().connectedClients.Set(float64(count))
}

func RecordRPCRequest(method string, success bool) {
	status := "error"
	if success {
		status = "success"
	}
	getMetrics().rpcRequestsTotal.WithLabelValues(method, status).Inc()
}

func RecordRelayDelivery(kind string) {
	getMetrics().relayDeliveries.WithLabelValues(kind).Inc()
}
