// Package discovery abstracts self-registration so an IROLE instance
// (the API or the scheduler) can be found by an operator dashboard, and
// so the scheduler's leader can be distinguished from standby instances
// without a second process to call it.
package discovery

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
)

// Registry is implemented by the Consul-backed registry in production
// and by an in-memory registry in tests.
type Registry interface {
	Register(ctx context.Context, instanceID, serviceName, hostPort string) error
	Deregister(ctx context.Context, instanceID, serviceName string) error
	Discover(ctx context.Context, serviceName string) ([]string, error)
	HealthCheck(instanceID, serviceName string) error
}

// GenerateInstanceID builds a unique registry id: serviceName plus a
// random suffix, so multiple instances of the same binary never collide.
func GenerateInstanceID(serviceName string) string {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000_000))
	if err != nil {
		n = big.NewInt(0)
	}
	return fmt.Sprintf("%s-%d", serviceName, n.Int64())
}
