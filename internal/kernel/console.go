package kernel

import (
	"log"
	"sync"
)

// Console is the kernel's single serial-style output sink, wrapped in a
// mutex exactly the way a UART line would need to be on real hardware —
// console_printf in original_source runs under its own spinlock for the
// same reason. Bytes are buffered a line at a time so syscall-driven
// byte-at-a-time writes (ConsoleWrite) still produce readable log lines.
type Console struct {
	mu      sync.Mutex
	log     *log.Logger
	lineBuf []byte
}

// NewConsole wraps logger as the kernel console.
func NewConsole(logger *log.Logger) *Console {
	return &Console{log: logger}
}

// WriteByte implements syscallabi.ConsoleWriter: it buffers b and flushes
// a line to the underlying logger whenever b is '\n'.
func (c *Console) WriteByte(b byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b == '\n' {
		c.log.Print(string(c.lineBuf))
		c.lineBuf = c.lineBuf[:0]
		return nil
	}
	c.lineBuf = append(c.lineBuf, b)
	return nil
}

// Logf writes a kernel-originated log line (boot messages, task
// diagnostics), independent of the byte-at-a-time user console path.
func (c *Console) Logf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.Printf(format, args...)
}
