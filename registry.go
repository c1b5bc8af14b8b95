package retrydlq

import (
	"fmt"
	"sort"
)

// ServiceRegistry routes a dead letter record to the service that produced it.
// It is read-only once built.
type ServiceRegistry struct {
	services map[string]RetryableService
}

func NewServiceRegistry(services ...RetryableService) (*ServiceRegistry, error) {
	registry := &ServiceRegistry{
		services: make(map[string]RetryableService, len(services)),
	}

	for i, service := range services {
		if service == nil {
			return nil, fmt.Errorf("%w: service at index %d is nil", ErrInvalidConfiguration, i)
		}

		name := service.ServiceName()
		if name == "" {
			return nil, fmt.Errorf("%w: service at index %d has an empty name", ErrInvalidConfiguration, i)
		}
		if _, exists := registry.services[name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateServiceName, name)
		}

		registry.services[name] = service
	}

	return registry, nil
}

func (r *ServiceRegistry) Lookup(serviceName string) (RetryableService, bool) {
	service, ok := r.services[serviceName]
	return service, ok
}

// ServiceNames returns the registered names in lexical order.
func (r *ServiceRegistry) ServiceNames() []string {
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
