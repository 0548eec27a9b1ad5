package permission

import "github.com/agentdeck/agentdeck/internal/common/logger"

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stdout"})
	return log
}
