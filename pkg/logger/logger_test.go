package logger

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

func TestInitLogger(t *testing.T) {
	// Save original stdout, logger and global log level
	oldStdout := os.Stdout
	oldLogger := log.Logger
	oldGlobalLevel := zerolog.GlobalLevel()

	tests := []struct {
		name          string
		logLevel      string
		expectedLevel zerolog.Level
		expectOutput  bool // whether the initialization message is written
	}{
		{"Debug Level", "debug", zerolog.DebugLevel, true},
		{"Info Level", "info", zerolog.InfoLevel, true},
		{"Warn Level", "warn", zerolog.WarnLevel, false},
		{"Error Level", "error", zerolog.ErrorLevel, false},
		{"Fatal Level", "fatal", zerolog.FatalLevel, false},
		{"Panic Level", "panic", zerolog.PanicLevel, false},
		{"Default Level (unknown)", "unknown", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			zerolog.SetGlobalLevel(zerolog.Disabled)

			r, w, _ := os.Pipe()
			os.Stdout = w

			InitLogger(tt.logLevel)
			assert.Equal(t, tt.expectedLevel, zerolog.GlobalLevel())

			w.Close()
			out, _ := io.ReadAll(r)
			r.Close()

			logOutput := string(out)

			if tt.expectOutput {
				assert.True(t, strings.Contains(logOutput, "Logger initialized with level:"), "Expected initialization message in logs")
				assert.True(t, strings.Contains(logOutput, tt.expectedLevel.String()), "Expected log level in initialization message")
			} else {
				assert.False(t, strings.Contains(logOutput, "Logger initialized with level:"), "Did not expect initialization message in logs")
			}
		})
	}

	os.Stdout = oldStdout
	log.Logger = oldLogger
	zerolog.SetGlobalLevel(oldGlobalLevel)
}

func TestComponent(t *testing.T) {
	oldLogger := log.Logger
	oldGlobalLevel := zerolog.GlobalLevel()
	defer func() {
		log.Logger = oldLogger
		zerolog.SetGlobalLevel(oldGlobalLevel)
	}()

	var buf bytes.Buffer
	InitLoggerTo(&buf, "debug")
	buf.Reset()

	l := Component("classifier")
	l.Debug().Msg("hello")
	assert.Contains(t, buf.String(), `"component":"classifier"`)
	assert.Contains(t, buf.String(), `"message":"hello"`)
}
