// Package store provides implementations of the attendance.Store contract:
// a no-op fallback for broker-only deployments and a gorm-backed Postgres
// adapter. The router treats both as opaque side effects.
package store

import (
	"context"
	"log/slog"

	"github.com/jntcloudcod2019/mypregiato-sub003/pkg/attendance"
)

// Nop satisfies attendance.Store without persisting anything. Used when no
// database is configured; writes are logged at debug so a misconfigured
// deployment is still diagnosable.
type Nop struct {
	log *slog.Logger
}

func NewNop(logger *slog.Logger) *Nop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Nop{log: logger}
}

func (n *Nop) SaveChatRequest(_ context.Context, req attendance.ChatRequest) error {
	n.log.Debug("nop store: skipped save", slog.String("chat_id", req.ID))
	return nil
}

func (n *Nop) UpdateChatRequest(_ context.Context, req attendance.ChatRequest) error {
	n.log.Debug("nop store: skipped update", slog.String("chat_id", req.ID))
	return nil
}

func (n *Nop) ListOperators(context.Context) ([]attendance.Operator, error) {
	return nil, nil
}
