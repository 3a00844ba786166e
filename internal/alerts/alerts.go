// Package alerts is the outcome-notification hook for job and document
// events. The core only calls the interface; emission beyond structured logs
// is an external concern.
package alerts

import (
	"github.com/docuvault/ingest/pkg/logger"
)

// Alerts receives job lifecycle and document failure notifications.
type Alerts interface {
	JobStarted(jobID, clientID string)
	JobCompleted(jobID string, succeeded bool, reason string)
	DocumentFailure(jobID, ref, reason string)
}

// LogAlerts writes notifications to the structured log.
type LogAlerts struct {
	logger logger.Logger
}

var _ Alerts = (*LogAlerts)(nil)

func NewLogAlerts(log logger.Logger) *LogAlerts {
	return &LogAlerts{logger: log}
}

func (a *LogAlerts) JobStarted(jobID, clientID string) {
	a.logger.Info("Job started",
		logger.String("jobId", jobID),
		logger.String("clientId", clientID),
	)
}

func (a *LogAlerts) JobCompleted(jobID string, succeeded bool, reason string) {
	if succeeded {
		a.logger.Info("Job completed", logger.String("jobId", jobID))
		return
	}
	a.logger.Error("Job failed",
		logger.String("jobId", jobID),
		logger.String("reason", reason),
	)
}

func (a *LogAlerts) DocumentFailure(jobID, ref, reason string) {
	a.logger.Warn("Document failure",
		logger.String("jobId", jobID),
		logger.String("ref", ref),
		logger.String("reason", reason),
	)
}

// NopAlerts discards all notifications.
type NopAlerts struct{}

var _ Alerts = NopAlerts{}

func (NopAlerts) JobStarted(string, string)              {}
func (NopAlerts) JobCompleted(string, bool, string)      {}
func (NopAlerts) DocumentFailure(string, string, string) {}
