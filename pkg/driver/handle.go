package driver

import (
	"github.com/cockroachdb/errors"

	"github.com/entrhq/driverpool/pkg/proxy"
)

// Failure signatures that mean the browser behind a handle is gone.
var (
	ErrUnreachableBrowser = errors.New("browser is unreachable")
	ErrNoSuchWindow       = errors.New("browser window is not found")
	ErrNoSuchSession      = errors.New("browser session is not found")
)

// Handle is one live browser-control session.
type Handle interface {
	// ID identifies the session in logs
	ID() string

	// Open navigates the current page to url
	Open(url string) error

	// Title returns the current page title. It doubles as the liveness probe.
	Title() (string, error)

	// CurrentURL returns the URL of the current page
	CurrentURL() (string, error)

	// PageSource returns the serialized DOM of the current page
	PageSource() (string, error)

	// Evaluate runs a script in the current page and returns its result
	Evaluate(script string, args ...interface{}) (interface{}, error)

	// DeleteAllCookies clears the session's cookie jar
	DeleteAllCookies() error

	// Quit terminates the session and the browser behind it
	Quit() error
}

// Provider creates handles, optionally routed through a proxy.
type Provider interface {
	NewHandle(desc *proxy.Descriptor) (Handle, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(desc *proxy.Descriptor) (Handle, error)

// NewHandle calls f.
func (f ProviderFunc) NewHandle(desc *proxy.Descriptor) (Handle, error) {
	return f(desc)
}

// IsBrowserGone reports whether err carries one of the dead-browser signatures.
func IsBrowserGone(err error) bool {
	return errors.IsAny(err, ErrUnreachableBrowser, ErrNoSuchWindow, ErrNoSuchSession)
}
