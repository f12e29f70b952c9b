// Package inmem implements discovery.Registry in memory, for tests and
// local development without a Consul agent.
package inmem

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/malikli-com/irole/internal/discovery"
)

type Registry struct {
	mu    sync.RWMutex
	addrs map[string]map[string]*serviceInstance
}

type serviceInstance struct {
	hostPort   string
	lastActive time.Time
}

func NewRegistry() *Registry {
	return &Registry{addrs: map[string]map[string]*serviceInstance{}}
}

func (r *Registry) Register(ctx context.Context, instanceID, serviceName, hostPort string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.addrs[serviceName]; !ok {
		r.addrs[serviceName] = map[string]*serviceInstance{}
	}
	r.addrs[serviceName][instanceID] = &serviceInstance{hostPort: hostPort, lastActive: time.Now()}
	return nil
}

func (r *Registry) Deregister(ctx context.Context, instanceID, serviceName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.addrs[serviceName]; !ok {
		return nil
	}
	delete(r.addrs[serviceName], instanceID)
	return nil
}

func (r *Registry) HealthCheck(instanceID, serviceName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	instances, ok := r.addrs[serviceName]
	if !ok {
		return errors.New("service is not registered yet")
	}
	inst, ok := instances[instanceID]
	if !ok {
		return errors.New("service instance is not registered yet")
	}
	inst.lastActive = time.Now()
	return nil
}

func (r *Registry) Discover(ctx context.Context, serviceName string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.addrs[serviceName]) == 0 {
		return nil, errors.New("no service address found")
	}

	res := make([]string, 0, len(r.addrs[serviceName]))
	for _, inst := range r.addrs[serviceName] {
		res = append(res, inst.hostPort)
	}
	return res, nil
}

// ServiceAddresses is Discover filtered to instances that health-checked
// within the last 15 seconds, simulating Consul's TTL expiry.
func (r *Registry) ServiceAddresses(ctx context.Context, serviceName string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.addrs[serviceName]) == 0 {
		return nil, errors.New("no service address found")
	}

	cutoff := time.Now().Add(-15 * time.Second)
	var res []string
	for _, inst := range r.addrs[serviceName] {
		if inst.lastActive.Before(cutoff) {
			continue
		}
		res = append(res, inst.hostPort)
	}
	return res, nil
}

var _ discovery.Registry = (*Registry)(nil)
