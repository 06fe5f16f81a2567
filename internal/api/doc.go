// Package api exposes the spoke workflows over HTTP.
//
// Routes:
//
//	POST   /spokes             create a spoke (runs the workflow synchronously)
//	GET    /spokes             list deployment summaries
//	GET    /spokes/{id}        deployment record, ?live=true adds provider inventory
//	DELETE /spokes/{id}        roll a spoke back and remove its record
//	GET    /spokes/stats       aggregate statistics
//	GET    /spokes/next-id     next unused spoke id
//	GET    /healthz            liveness
//	GET    /metrics            Prometheus metrics
package api
