// Package session keeps one browser session per worker.
//
// A Worker stands for whatever unit of execution drives a browser: a test,
// a goroutine in a pool, a request handler. The Registry creates a session
// for a worker on first use, returns the same session on later calls and
// tears it down when asked, when the worker terminates (detected by the
// Reaper) or when the process exits (via ExitHooks).
//
// Teardown goes through the Coordinator, which never lets a hung browser
// block the caller for longer than close_browser_timeout.
//
// # Example Usage
//
//	registry, err := session.NewRegistry(provider, session.WithDriverSection(config.GetDriver()))
//	if err != nil {
//	    return err
//	}
//	defer registry.Shutdown()
//
//	w := session.NewWorker(ctx)
//	defer w.Exit()
//
//	h, err := registry.GetAndVerify(w)
//	if err != nil {
//	    return err
//	}
//	return h.Open("https://example.com")
package session
