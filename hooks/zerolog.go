package hooks

import (
	"github.com/rs/zerolog"

	"github.com/Skryldev/image-storage/core"
)

// ZerologLogger adapts a zerolog.Logger to core.Logger.  Fields are passed as
// alternating key/value pairs, the same convention SlogLogger uses.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger wraps l.
func NewZerologLogger(l zerolog.Logger) *ZerologLogger { return &ZerologLogger{log: l} }

func (z *ZerologLogger) Debug(msg string, fields ...interface{}) {
	z.log.Debug().Fields(fields).Msg(msg)
}
func (z *ZerologLogger) Info(msg string, fields ...interface{}) {
	z.log.Info().Fields(fields).Msg(msg)
}
func (z *ZerologLogger) Warn(msg string, fields ...interface{}) {
	z.log.Warn().Fields(fields).Msg(msg)
}
func (z *ZerologLogger) Error(msg string, fields ...interface{}) {
	z.log.Error().Fields(fields).Msg(msg)
}

var _ core.Logger = (*ZerologLogger)(nil)
