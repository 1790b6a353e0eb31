package driver

// Listener observes commands issued through a handle.
type Listener interface {
	// BeforeCommand is called before a command is sent to the browser
	BeforeCommand(h Handle, command string, args ...interface{})

	// AfterCommand is called once the command returned, with its error if any
	AfterCommand(h Handle, command string, err error)
}

// EventFiringHandle decorates a Handle and notifies listeners around every
// command. Quit is reported like any other command.
type EventFiringHandle struct {
	inner     Handle
	listeners []Listener
}

// NewEventFiringHandle wraps h. The listener slice is copied.
func NewEventFiringHandle(h Handle, listeners ...Listener) *EventFiringHandle {
	ls := make([]Listener, len(listeners))
	copy(ls, listeners)
	return &EventFiringHandle{inner: h, listeners: ls}
}

// Unwrap returns the decorated handle.
func (e *EventFiringHandle) Unwrap() Handle {
	return e.inner
}

func (e *EventFiringHandle) before(command string, args ...interface{}) {
	for _, l := range e.listeners {
		l.BeforeCommand(e, command, args...)
	}
}

func (e *EventFiringHandle) after(command string, err error) {
	for _, l := range e.listeners {
		l.AfterCommand(e, command, err)
	}
}

// ID returns the decorated handle's id. It is not reported to listeners.
func (e *EventFiringHandle) ID() string {
	return e.inner.ID()
}

func (e *EventFiringHandle) Open(url string) error {
	e.before("open", url)
	err := e.inner.Open(url)
	e.after("open", err)
	return err
}

func (e *EventFiringHandle) Title() (string, error) {
	e.before("title")
	title, err := e.inner.Title()
	e.after("title", err)
	return title, err
}

func (e *EventFiringHandle) CurrentURL() (string, error) {
	e.before("currentURL")
	u, err := e.inner.CurrentURL()
	e.after("currentURL", err)
	return u, err
}

func (e *EventFiringHandle) PageSource() (string, error) {
	e.before("pageSource")
	src, err := e.inner.PageSource()
	e.after("pageSource", err)
	return src, err
}

func (e *EventFiringHandle) Evaluate(script string, args ...interface{}) (interface{}, error) {
	e.before("evaluate", append([]interface{}{script}, args...)...)
	res, err := e.inner.Evaluate(script, args...)
	e.after("evaluate", err)
	return res, err
}

func (e *EventFiringHandle) DeleteAllCookies() error {
	e.before("deleteAllCookies")
	err := e.inner.DeleteAllCookies()
	e.after("deleteAllCookies", err)
	return err
}

func (e *EventFiringHandle) Quit() error {
	e.before("quit")
	err := e.inner.Quit()
	e.after("quit", err)
	return err
}

func (e *EventFiringHandle) String() string {
	return e.inner.ID()
}
