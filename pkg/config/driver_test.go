package config

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriverSection_Defaults(t *testing.T) {
	s := NewDriverSection().Settings()

	assert.Equal(t, "chromium", s.Browser)
	assert.True(t, s.Headless)
	assert.True(t, s.ReopenBrowserOnFail)
	assert.False(t, s.HoldBrowserOpen)
	assert.Equal(t, 5*time.Second, s.CloseBrowserTimeout)
	assert.Equal(t, DownloadHTTPGet, s.FileDownload)
	assert.Equal(t, 100*time.Millisecond, s.ReaperInterval)
	assert.NoError(t, NewDriverSection().Validate())
}

func TestDriverSection_SetData(t *testing.T) {
	tests := []struct {
		name  string
		data  map[string]interface{}
		check func(t *testing.T, s DriverSettings)
	}{
		{
			name: "duration strings",
			data: map[string]interface{}{"close_browser_timeout": "1500ms", "reaper_interval": "250ms"},
			check: func(t *testing.T, s DriverSettings) {
				assert.Equal(t, 1500*time.Millisecond, s.CloseBrowserTimeout)
				assert.Equal(t, 250*time.Millisecond, s.ReaperInterval)
			},
		},
		{
			name: "json numbers are milliseconds",
			data: map[string]interface{}{"close_browser_timeout": float64(3000)},
			check: func(t *testing.T, s DriverSettings) {
				assert.Equal(t, 3*time.Second, s.CloseBrowserTimeout)
			},
		},
		{
			name: "yaml integers are milliseconds",
			data: map[string]interface{}{"reaper_interval": 50},
			check: func(t *testing.T, s DriverSettings) {
				assert.Equal(t, 50*time.Millisecond, s.ReaperInterval)
			},
		},
		{
			name: "flags and modes",
			data: map[string]interface{}{
				"reopen_browser_on_fail": false,
				"hold_browser_open":      true,
				"file_download":          "PROXY",
				"browser":                "firefox",
				"headless":               false,
				"unknown":                "ignored",
			},
			check: func(t *testing.T, s DriverSettings) {
				assert.False(t, s.ReopenBrowserOnFail)
				assert.True(t, s.HoldBrowserOpen)
				assert.Equal(t, DownloadProxy, s.FileDownload)
				assert.Equal(t, "firefox", s.Browser)
				assert.False(t, s.Headless)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			section := NewDriverSection()
			require.NoError(t, section.SetData(tt.data))
			tt.check(t, section.Settings())
		})
	}
}

func TestDriverSection_SetDataRejectsBadTypes(t *testing.T) {
	section := NewDriverSection()

	assert.Error(t, section.SetData(map[string]interface{}{"hold_browser_open": "yes"}))
	assert.Error(t, section.SetData(map[string]interface{}{"close_browser_timeout": "soon"}))
	assert.Error(t, section.SetData(map[string]interface{}{"browser": 42}))

	// A rejected update leaves the previous settings untouched
	assert.Equal(t, DefaultDriverSettings(), section.Settings())
}

func TestDriverSection_ErrorsCarryStack(t *testing.T) {
	section := NewDriverSection()

	err := section.SetData(map[string]interface{}{"close_browser_timeout": "soon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration string for close_browser_timeout")
	assert.NotNil(t, errors.GetReportableStackTrace(err))

	section.Update(func(s *DriverSettings) { s.Browser = "netscape" })
	err = section.Validate()
	require.Error(t, err)
	assert.NotNil(t, errors.GetReportableStackTrace(err))
}

func TestDriverSection_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*DriverSettings)
	}{
		{"unknown browser", func(s *DriverSettings) { s.Browser = "netscape" }},
		{"zero timeout", func(s *DriverSettings) { s.CloseBrowserTimeout = 0 }},
		{"tiny reaper interval", func(s *DriverSettings) { s.ReaperInterval = time.Millisecond }},
		{"unknown download mode", func(s *DriverSettings) { s.FileDownload = "ftp" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			section := NewDriverSection()
			section.Update(tt.mutate)
			assert.Error(t, section.Validate())
		})
	}
}

func TestDriverSection_DataRoundTrip(t *testing.T) {
	section := NewDriverSection()
	section.Update(func(s *DriverSettings) {
		s.FileDownload = DownloadProxy
		s.CloseBrowserTimeout = 2 * time.Second
	})

	copyOf := NewDriverSection()
	require.NoError(t, copyOf.SetData(section.Data()))
	assert.Equal(t, section.Settings(), copyOf.Settings())

	copyOf.Reset()
	assert.Equal(t, DefaultDriverSettings(), copyOf.Settings())
}
