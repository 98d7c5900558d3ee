package errors

import (
	"sync"
)

// Collector aggregates errors and warnings from concurrent pipeline
// stages. Safe for concurrent use.
type Collector struct {
	mu       sync.RWMutex
	errors   []error
	warnings []string
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		errors:   make([]error, 0),
		warnings: make([]string, 0),
	}
}

// AddError records an error. Nil errors are ignored.
func (c *Collector) AddError(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, err)
}

// AddWarning records a warning message.
func (c *Collector) AddWarning(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warnings = append(c.warnings, msg)
}

// Errors returns a copy of the collected errors.
func (c *Collector) Errors() []error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]error, len(c.errors))
	copy(out, c.errors)
	return out
}

// Warnings returns a copy of the collected warnings.
func (c *Collector) Warnings() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.warnings))
	copy(out, c.warnings)
	return out
}

// HasErrors reports whether any error was collected.
func (c *Collector) HasErrors() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.errors) > 0
}

// HasFatal reports whether any collected error is fatal.
func (c *Collector) HasFatal() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, err := range c.errors {
		if IsFatal(err) {
			return true
		}
	}
	return false
}
