package store

import "fmt"

// ConfigurationError reports that no consistent active configuration
// snapshot could be loaded. Fatal: the worker aborts before claiming work
// rather than guess at a stale or partial snapshot.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration: %s: %v", e.Reason, e.Err)
	}
	return "configuration: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
