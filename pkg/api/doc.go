/*
Package api implements Stairway's administrative HTTP interface.

It is deliberately a thin layer over pkg/journal and pkg/admission: every
handler either reads the journal directly or calls Admission.Submit, with
no business logic of its own. A force-ready or force-fatal call bypasses
the ordinary flight state machine entirely via Journal.ForceStatus — an
explicit operator escape hatch, not something engine code ever calls.

Routes:

	GET  /flights                     enumerate flights (status, class_name, limit, page_token)
	POST /flights                     submit a new flight
	GET  /flights/count               counts grouped by status
	GET  /flights/{id}                a single flight's row
	POST /flights/{id}/force-ready    override status to READY
	POST /flights/{id}/force-fatal    override status to FATAL
	GET  /health                      liveness
	GET  /ready                       readiness (journal reachable, cluster leadership)
	GET  /metrics                     Prometheus exposition

pkg/client provides a Go wrapper around these routes for cmd/stairway.
*/
package api
