package observability

import (
	"context"

	"github.com/MarkoPoloResearchLab/coins/pkg/ledger"
	"go.uber.org/zap"
)

// OperationLogger implements ledger.OperationLogger with zap and the operation counter.
type OperationLogger struct {
	logger  *zap.Logger
	metrics *Metrics
}

// NewOperationLogger builds an OperationLogger. A nil logger discards log lines
// and nil metrics skip counting.
func NewOperationLogger(logger *zap.Logger, metrics *Metrics) *OperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OperationLogger{logger: logger.Named("ledger"), metrics: metrics}
}

// LogOperation writes one structured line per operation. Failures log at warn level
// with their stable error code.
func (operationLogger *OperationLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	operationLogger.metrics.ObserveOperation(entry.Operation, entry.Status)

	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if entry.Caller != "" {
		fields = append(fields, zap.String("caller", entry.Caller))
	}
	if entry.Account != "" {
		fields = append(fields, zap.String("account", entry.Account))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount", entry.Amount))
	}
	if entry.Error != nil {
		fields = append(fields, zap.String("code", ledger.ErrorCode(entry.Error)), zap.Error(entry.Error))
		operationLogger.logger.Warn("ledger operation failed", fields...)
		return
	}
	operationLogger.logger.Info("ledger operation", fields...)
}

var _ ledger.OperationLogger = (*OperationLogger)(nil)
