// Package shutdown provides graceful shutdown for segmesh binaries.
//
// A Handler waits for SIGINT, SIGTERM or a programmatic Trigger and then
// runs the registered hooks in reverse registration order under one
// timeout. SIGHUP runs the reload callbacks instead.
//
// Usage:
//
//	h := shutdown.NewHandler(15*time.Second, logger)
//	h.OnShutdown("http", srv.Shutdown)
//	return h.Wait(ctx)
package shutdown
