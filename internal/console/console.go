// Package console is the firmware's console-write entry point.
package console

import (
	"fmt"
	"io"
	"sync"

	"github.com/tinyrange/bringup/internal/drivers/uart8250"
)

// Console writes bytes to an initialized serial port. Writers on different
// harts are serialized so their bytes do not interleave mid-message.
type Console struct {
	mu   sync.Mutex
	port *uart8250.Port
}

// New returns a console over port.
func New(port *uart8250.Port) *Console {
	return &Console{port: port}
}

// Write transmits p and returns the number of bytes the port accepted.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, b := range p {
		if err := c.port.Putc(b); err != nil {
			return i, fmt.Errorf("console: %w", err)
		}
	}
	return len(p), nil
}

// WriteString is Write for a string.
func (c *Console) WriteString(s string) (int, error) {
	return c.Write([]byte(s))
}

var (
	_ io.Writer       = (*Console)(nil)
	_ io.StringWriter = (*Console)(nil)
)
