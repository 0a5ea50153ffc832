// Package system manages the lifecycle of the marketplace components.
package system

import "context"

// Service is a component whose lifecycle the Manager drives. Start and
// Stop must be safe to call once each, in that order; both receive the
// caller's context for deadline propagation.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
