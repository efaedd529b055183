package ports

import (
	"time"

	"memberdash/internal/core/domain"
)

// WorkflowMetrics receives one observation per backend step and per
// finished operation.
type WorkflowMetrics interface {
	RecordStep(operation, step string, err error, duration time.Duration)
	RecordOperation(operation string, err error, duration time.Duration)
}

// AuthorizerFunc adapts a plain function to Authorizer.
type AuthorizerFunc func(session *domain.Session, action string) error

func (f AuthorizerFunc) Authorize(session *domain.Session, action string) error {
	return f(session, action)
}
