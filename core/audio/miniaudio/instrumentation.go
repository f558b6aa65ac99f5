package miniaudio

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/andje/ivr-realtime/core/audio/miniaudio"

var logger = otelslog.NewLogger(scopeName)
