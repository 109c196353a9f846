// Package service holds the lifecycle plumbing of the relay process.
package service

import (
	"context"
	"errors"
	"fmt"
)

// Service is anything the process hosts.
type Service any

// RunnableService is a service with a lifecycle: Run starts it without
// blocking, Shutdown stops it.
type RunnableService interface {
	Service

	Run()
	Shutdown(ctx context.Context) error
}

// Group starts and stops a set of services as one unit.
type Group struct {
	list []Service
}

func (g *Group) Add(services ...Service) { g.list = append(g.list, services...) }

// Start runs every runnable service in add order.
func (g *Group) Start() {
	for _, s := range g.list {
		if v, ok := s.(RunnableService); ok {
			v.Run()
		}
	}
}

// Shutdown stops the group in add order, collecting every failure
// instead of aborting on the first one.
func (g *Group) Shutdown(ctx context.Context) error {
	var errs []error
	for _, s := range g.list {
		v, ok := s.(RunnableService)
		if !ok {
			continue
		}
		if err := v.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, fmt.Errorf("stop %v: %w", s, err))
		}
	}
	return errors.Join(errs...)
}
