package devices

import (
	"fmt"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"
)

// Context owns the audio backend context shared by capture and
// playback devices. Create one per process and Free it on shutdown.
type Context struct {
	ctx    *malgo.AllocatedContext
	logger *zap.Logger
}

// NewContext initializes the audio backend.
func NewContext(logger *zap.Logger) (*Context, error) {
	if logger == nil {
		logger = zap.L()
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("[Audio] backend", zap.String("message", message))
	})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &Context{ctx: ctx, logger: logger}, nil
}

// Raw exposes the underlying context for device enumeration.
func (c *Context) Raw() *malgo.AllocatedContext { return c.ctx }

// Free tears down the backend context. Devices must be released first.
func (c *Context) Free() {
	if c.ctx == nil {
		return
	}
	if err := c.ctx.Uninit(); err != nil {
		c.logger.Warn("[Audio] context uninit failed", zap.Error(err))
	}
	c.ctx.Free()
	c.ctx = nil
}
