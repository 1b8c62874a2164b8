package logger

import "github.com/user/hwencode/pkg/ports"

type discard struct{}

// NewNoop returns a logger that drops every message. The component falls
// back to it when no logger is injected, and --quiet selects it.
func NewNoop() ports.Logger {
	return discard{}
}

func (discard) Debug(string, ...any) {}
func (discard) Info(string, ...any)  {}
func (discard) Warn(string, ...any)  {}
func (discard) Error(string, ...any) {}

func (d discard) WithComponent(string) ports.Logger { return d }
