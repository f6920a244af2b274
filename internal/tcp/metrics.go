// Package tcp implements the chat wire transport: a line-delimited JSON
// protocol over plain TCP. The server accepts connections and hands each one
// to a Handler, which drives the per-session state machine.
//
// This file exposes Prometheus instrumentation for the TCP traffic. Label
// cardinality stays bounded: frame types and error codes form small fixed
// sets defined by the protocol package.
package tcp

import "github.com/prometheus/client_golang/prometheus"

var (
	// tcpConns counts accepted TCP connections over the process lifetime.
	tcpConns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_tcp_connections_total",
			Help: "Total number of accepted TCP connections.",
		},
	)

	// tcpSessions gauges currently open sessions, authenticated or not.
	tcpSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_tcp_sessions_open",
			Help: "Current number of open TCP sessions.",
		},
	)

	// tcpFrames counts inbound frames by envelope type. Unknown types are
	// collapsed into a single bucket to keep cardinality fixed.
	tcpFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_tcp_frames_total",
			Help: "Total number of inbound protocol frames by type.",
		},
		[]string{"type"},
	)

	// tcpMessages counts persisted-and-routed messages by kind.
	tcpMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_routed_total",
			Help: "Total number of chat messages persisted and routed.",
		},
		[]string{"kind"}, // room | dm
	)

	// tcpErrors counts ERROR frames sent to clients by error code.
	tcpErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_tcp_errors_total",
			Help: "Total number of ERROR frames sent to clients by code.",
		},
		[]string{"code"},
	)
)

func init() {
	prometheus.MustRegister(tcpConns, tcpSessions, tcpFrames, tcpMessages, tcpErrors)
}
