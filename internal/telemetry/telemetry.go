// Package telemetry reports enhanced errors to Sentry. Opt-in only.
package telemetry

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/tmakinen/pixelset/internal/conf"
	"github.com/tmakinen/pixelset/internal/errors"
	"github.com/tmakinen/pixelset/internal/logging"
)

var serviceLogger *slog.Logger

// Init initializes Sentry and installs the error reporter.
// Does nothing when telemetry is disabled in settings.
func Init(settings *conf.Settings, version string) error {
	if !settings.Sentry.Enabled {
		return nil
	}
	if settings.Sentry.DSN == "" {
		return fmt.Errorf("telemetry enabled but no DSN configured")
	}

	serviceLogger = logging.ForService("telemetry")

	err := sentry.Init(sentry.ClientOptions{
		Dsn:        settings.Sentry.DSN,
		SampleRate: 1.0,
		Debug:      false,

		// Privacy-compliant settings
		AttachStacktrace: false,
		Environment:      "production",
		ServerName:       "", // prevent hostname leakage

		Release: fmt.Sprintf("pixelset@%s", version),

		BeforeSend: scrubEvent,
	})
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}

	errors.SetTelemetryReporter(&sentryReporter{})
	serviceLogger.Info("telemetry enabled")
	return nil
}

// Flush waits for buffered events to be sent, bounded by timeout.
func Flush(timeout time.Duration) {
	sentry.Flush(timeout)
}

// scrubEvent clears user identifying data before an event leaves the process.
func scrubEvent(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
	}
	return event
}

// sentryReporter adapts the errors package hook to Sentry captures.
type sentryReporter struct{}

func (*sentryReporter) ReportError(ee *errors.EnhancedError) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.Component)
		scope.SetTag("category", ee.GetCategory())
		for k, v := range ee.GetContext() {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(ee.Err)
	})
	if serviceLogger != nil {
		serviceLogger.Debug("error reported",
			"component", ee.Component,
			"category", ee.GetCategory())
	}
}
