package services

import (
	"context"
)

// Provider is a dependency whose availability gates readiness
type Provider interface {
	// Type returns the service type name
	Type() string

	// HealthCheck checks if the service is available
	HealthCheck(ctx context.Context) error
}

// BaseProvider provides common functionality for providers
type BaseProvider struct {
	serviceType string
}

// Type returns the service type
func (p *BaseProvider) Type() string {
	return p.serviceType
}

// FuncProvider adapts a ping function, e.g. the gateway client's Health
type FuncProvider struct {
	BaseProvider
	ping func(ctx context.Context) error
}

// NewFuncProvider creates a provider of the given type backed by ping
func NewFuncProvider(serviceType string, ping func(ctx context.Context) error) *FuncProvider {
	return &FuncProvider{
		BaseProvider: BaseProvider{serviceType: serviceType},
		ping:         ping,
	}
}

// HealthCheck calls the ping function
func (p *FuncProvider) HealthCheck(ctx context.Context) error {
	return p.ping(ctx)
}
