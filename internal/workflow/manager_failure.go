package workflow

import (
	"fmt"
	"log/slog"
	"strings"

	"partforge/internal/logging"
	"partforge/internal/services"
)

func (m *Manager) handleStageFailure(logger *slog.Logger, stageName, op string, stageErr error) {
	message := classifyStageFailure(stageName, stageErr)
	attrs := []logging.Attr{
		logging.String("operation", op),
		logging.String("error_message", message),
		logging.Alert("stage_failure"),
		logging.String(logging.FieldErrorHint, failureHint(stageErr)),
	}
	attrs = append(attrs, logging.FailureAttrs(stageErr)...)
	attrs = append(attrs, logging.String(logging.FieldEventType, "stage_failure"))
	logger.Error("stage failed", logging.Args(attrs...)...)

	m.mu.Lock()
	m.lastErr = stageErr
	m.mu.Unlock()
}

func classifyStageFailure(stageName string, stageErr error) string {
	if stageErr == nil {
		return fmt.Sprintf("%s failed without error detail", stageName)
	}
	details := services.Details(stageErr)
	message := strings.TrimSpace(details.Message)
	if message == "" {
		message = strings.TrimSpace(stageErr.Error())
	}
	if message == "" {
		message = fmt.Sprintf("%s failed", stageName)
	}
	return message
}

func failureHint(err error) string {
	switch services.Kind(err) {
	case "service":
		return "retry the stage; earlier outputs are unchanged"
	case "state":
		return "check the run state before confirming or retrying"
	case "validation":
		return "fix the request and try again"
	case "configuration":
		return "check the configuration and run doctor"
	default:
		return "inspect the call log for details"
	}
}
