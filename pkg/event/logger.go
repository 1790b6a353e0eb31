package event

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/entrhq/driverpool/pkg/logging"
)

// loggerAdapter routes watermill diagnostics to a component logger.
type loggerAdapter struct {
	logger *logging.Logger
	fields watermill.LogFields
}

func (a *loggerAdapter) format(msg string, fields watermill.LogFields) string {
	all := a.fields.Add(fields)
	if len(all) == 0 {
		return msg
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString(msg)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, all[k])
	}
	return sb.String()
}

func (a *loggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.logger.Errorf("%s: %v", a.format(msg, fields), err)
}

func (a *loggerAdapter) Info(msg string, fields watermill.LogFields) {
	a.logger.Infof("%s", a.format(msg, fields))
}

func (a *loggerAdapter) Debug(msg string, fields watermill.LogFields) {
	a.logger.Debugf("%s", a.format(msg, fields))
}

// Trace is folded into debug.
func (a *loggerAdapter) Trace(msg string, fields watermill.LogFields) {
	a.logger.Debugf("%s", a.format(msg, fields))
}

func (a *loggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &loggerAdapter{logger: a.logger, fields: a.fields.Add(fields)}
}
