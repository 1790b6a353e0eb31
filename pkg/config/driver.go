package config

import (
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	// SectionIDDriver is the identifier for the driver lifecycle section
	SectionIDDriver = "driver"

	defaultBrowser             = "chromium"
	defaultHeadless            = true
	defaultReopenBrowserOnFail = true
	defaultHoldBrowserOpen     = false
	defaultCloseBrowserTimeout = 5 * time.Second
	defaultFileDownload        = DownloadHTTPGet
	defaultReaperInterval      = 100 * time.Millisecond
)

// DownloadMode selects how file downloads are captured.
type DownloadMode string

const (
	// DownloadProxy routes every session through a local proxy that records downloads
	DownloadProxy DownloadMode = "proxy"

	// DownloadHTTPGet fetches files directly; sessions are not proxied
	DownloadHTTPGet DownloadMode = "httpget"
)

var supportedBrowsers = []string{"chromium", "firefox", "webkit"}

// DriverSettings is an immutable snapshot of the driver section.
type DriverSettings struct {
	Browser             string
	Headless            bool
	ReopenBrowserOnFail bool
	HoldBrowserOpen     bool
	CloseBrowserTimeout time.Duration
	FileDownload        DownloadMode
	ReaperInterval      time.Duration
}

// DefaultDriverSettings returns the settings used when nothing is configured.
func DefaultDriverSettings() DriverSettings {
	return DriverSettings{
		Browser:             defaultBrowser,
		Headless:            defaultHeadless,
		ReopenBrowserOnFail: defaultReopenBrowserOnFail,
		HoldBrowserOpen:     defaultHoldBrowserOpen,
		CloseBrowserTimeout: defaultCloseBrowserTimeout,
		FileDownload:        defaultFileDownload,
		ReaperInterval:      defaultReaperInterval,
	}
}

// DriverSection manages browser session lifecycle settings.
type DriverSection struct {
	mu       sync.RWMutex
	settings DriverSettings
}

// NewDriverSection creates a driver section with default settings.
func NewDriverSection() *DriverSection {
	return &DriverSection{settings: DefaultDriverSettings()}
}

// ID returns the section identifier.
func (s *DriverSection) ID() string {
	return SectionIDDriver
}

// Title returns the section title.
func (s *DriverSection) Title() string {
	return "Driver Settings"
}

// Description returns the section description.
func (s *DriverSection) Description() string {
	return "Configure browser session reuse, teardown timeouts and download capture."
}

// Settings returns a snapshot of the current settings.
func (s *DriverSection) Settings() DriverSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Update applies fn to a copy of the settings and stores the result.
func (s *DriverSection) Update(fn func(*DriverSettings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.settings
	fn(&next)
	s.settings = next
}

// Data returns the current configuration data.
func (s *DriverSection) Data() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"browser":                s.settings.Browser,
		"headless":               s.settings.Headless,
		"reopen_browser_on_fail": s.settings.ReopenBrowserOnFail,
		"hold_browser_open":      s.settings.HoldBrowserOpen,
		"close_browser_timeout":  s.settings.CloseBrowserTimeout.String(),
		"file_download":          string(s.settings.FileDownload),
		"reaper_interval":        s.settings.ReaperInterval.String(),
	}
}

// SetData updates the configuration from the provided data.
// Durations accept a Go duration string or a number of milliseconds.
func (s *DriverSection) SetData(data map[string]interface{}) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.settings
	for key, value := range data {
		var err error
		switch key {
		case "browser":
			next.Browser, err = asString(key, value)
		case "headless":
			next.Headless, err = asBool(key, value)
		case "reopen_browser_on_fail":
			next.ReopenBrowserOnFail, err = asBool(key, value)
		case "hold_browser_open":
			next.HoldBrowserOpen, err = asBool(key, value)
		case "close_browser_timeout":
			next.CloseBrowserTimeout, err = asDuration(key, value)
		case "reaper_interval":
			next.ReaperInterval, err = asDuration(key, value)
		case "file_download":
			var mode string
			mode, err = asString(key, value)
			next.FileDownload = DownloadMode(strings.ToLower(mode))
		default:
			// Ignore unknown keys for forward compatibility
			continue
		}
		if err != nil {
			return err
		}
	}

	s.settings = next
	return nil
}

// Validate validates the current configuration.
func (s *DriverSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	supported := false
	for _, b := range supportedBrowsers {
		if s.settings.Browser == b {
			supported = true
			break
		}
	}
	if !supported {
		return errors.Newf("browser must be one of %v, got %q", supportedBrowsers, s.settings.Browser)
	}
	if s.settings.CloseBrowserTimeout <= 0 {
		return errors.Newf("close_browser_timeout must be positive, got %v", s.settings.CloseBrowserTimeout)
	}
	if s.settings.ReaperInterval < 10*time.Millisecond {
		return errors.Newf("reaper_interval must be at least 10ms, got %v", s.settings.ReaperInterval)
	}
	switch s.settings.FileDownload {
	case DownloadProxy, DownloadHTTPGet:
	default:
		return errors.Newf("file_download must be %q or %q, got %q", DownloadProxy, DownloadHTTPGet, s.settings.FileDownload)
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *DriverSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = DefaultDriverSettings()
}

func asBool(key string, value interface{}) (bool, error) {
	b, ok := value.(bool)
	if !ok {
		return false, errors.Newf("invalid value type for %s: expected bool, got %T", key, value)
	}
	return b, nil
}

func asString(key string, value interface{}) (string, error) {
	str, ok := value.(string)
	if !ok {
		return "", errors.Newf("invalid value type for %s: expected string, got %T", key, value)
	}
	return str, nil
}

func asDuration(key string, value interface{}) (time.Duration, error) {
	switch v := value.(type) {
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, errors.Wrapf(err, "invalid duration string for %s", key)
		}
		return d, nil
	case float64:
		// JSON numbers come as float64
		return time.Duration(v * float64(time.Millisecond)), nil
	case int:
		// YAML integers
		return time.Duration(v) * time.Millisecond, nil
	case int64:
		return time.Duration(v) * time.Millisecond, nil
	default:
		return 0, errors.Newf("invalid value type for %s: expected string or number, got %T", key, value)
	}
}
