package testlog

import (
	"testing"

	"github.com/rs/zerolog"
)

// Start returns a logger that writes through t.Log, so negotiation and
// lifecycle reporting shows up attached to the failing test.
func Start(t *testing.T) zerolog.Logger {
	t.Helper()
	logger := zerolog.New(zerolog.NewTestWriter(t))
	logger.Info().Str("test", t.Name()).Msg("start")
	return logger
}
