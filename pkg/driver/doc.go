// Package driver defines the browser session handle contract and everything
// needed to produce one: providers, the listener decorator, the factory that
// wires an optional download proxy in front of a new session, and the health
// probe used before a cached handle is reused.
//
// # Handles
//
// A Handle is one live browser-control session. The package does not care how
// it is implemented; PlaywrightProvider is the bundled implementation and any
// type satisfying Provider can replace it.
//
// # Failure classification
//
// Providers report a dead browser by marking their errors with one of three
// sentinels:
//
//   - ErrUnreachableBrowser: the remote endpoint cannot be reached at all
//   - ErrNoSuchWindow: the window or page the session drove is gone
//   - ErrNoSuchSession: the session id is no longer valid on the server
//
// TitleProbe treats exactly these as "not alive". Any other failure is
// returned to the caller unchanged.
//
// # Example Usage
//
//	provider := driver.NewPlaywrightProvider(driver.PlaywrightOptions{Browser: "chromium", Headless: true}, logger)
//	if err := provider.Initialize(); err != nil {
//	    return err
//	}
//	factory := driver.NewFactory(provider, logger)
//	handle, proxyServer, err := factory.Create(driver.ProxyConfig{Proxied: true})
package driver
