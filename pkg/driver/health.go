package driver

import (
	"github.com/entrhq/driverpool/pkg/logging"
)

// HealthChecker decides whether a cached handle is still usable.
type HealthChecker interface {
	IsAlive(h Handle) (bool, error)
}

// TitleProbe checks liveness by reading the page title.
type TitleProbe struct {
	logger *logging.Logger
}

// NewTitleProbe creates a probe that logs dead browsers to logger.
func NewTitleProbe(logger *logging.Logger) *TitleProbe {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &TitleProbe{logger: logger}
}

// IsAlive reports false with a nil error when the browser is known to be
// gone. Any other probe failure is returned unchanged.
func (p *TitleProbe) IsAlive(h Handle) (bool, error) {
	if _, err := h.Title(); err != nil {
		if IsBrowserGone(err) {
			p.logger.Debugf("Browser %s is dead: %v", h.ID(), err)
			return false, nil
		}
		return false, err
	}
	return true, nil
}
