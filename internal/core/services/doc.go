// Package services implements the driving port interfaces.
// Services contain the core import, publishing and resolution logic and
// orchestrate calls to driven ports (adapters).
//
// Services never talk to a host, relay or database directly; every side
// effect goes through a port from internal/core/ports/driven.
package services
