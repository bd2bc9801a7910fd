// Package shutdown stops the hub in phases when the process is signalled.
//
// Handlers register with a phase number; lower phases run first and the
// handlers of one phase run concurrently. The hub uses:
//
//   - PhaseListeners: stop accepting HTTP and websocket connections
//   - PhaseConnections: close client connections so they detach
//   - PhaseMirror: drain the notification mirror
//   - PhaseTelemetry: flush and stop the trace exporter
//
// Usage:
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig(), log)
//	coord.RegisterFunc("api", shutdown.PhaseListeners, srv.Shutdown)
//	coord.HandleSignals()
//	<-coord.Done()
package shutdown
