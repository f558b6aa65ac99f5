package metrics

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/andje/ivr-realtime/core/metrics"

var logger = otelslog.NewLogger(scopeName)
