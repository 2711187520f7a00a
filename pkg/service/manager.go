// Package service runs the bot's long-lived components in dependency order.
package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/scragly/dreaf/pkg/errors"
	"github.com/scragly/dreaf/pkg/log"
)

// ServiceState represents the current state of a service
type ServiceState string

const (
	StateUninitialized ServiceState = "uninitialized"
	StateInitializing  ServiceState = "initializing"
	StateRunning       ServiceState = "running"
	StateStopping      ServiceState = "stopping"
	StateStopped       ServiceState = "stopped"
	StateError         ServiceState = "error"
)

// ServiceType groups services for logging.
type ServiceType string

const (
	TypeScheduler ServiceType = "scheduler"
	TypeListener  ServiceType = "listener"
	TypeCommands  ServiceType = "commands"
)

// Service defines the interface that all services must implement
type Service interface {
	// Name returns the unique name of the service
	Name() string
	Type() ServiceType
	// Dependencies returns the names of services that must start first
	Dependencies() []string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
}

// ServiceInfo holds metadata about a registered service
type ServiceInfo struct {
	Service       Service
	State         ServiceState
	LastStateTime time.Time
	StartTime     *time.Time
	LastError     error
}

// ServiceManager coordinates the lifecycle of all services
type ServiceManager struct {
	mu           sync.RWMutex
	services     map[string]*ServiceInfo
	dependsOn    map[string][]string
	errorHandler *errors.ErrorHandler
}

// NewServiceManager creates a new service manager
func NewServiceManager(errorHandler *errors.ErrorHandler) *ServiceManager {
	if errorHandler == nil {
		errorHandler = errors.NewErrorHandler()
	}
	return &ServiceManager{
		services:     make(map[string]*ServiceInfo),
		dependsOn:    make(map[string][]string),
		errorHandler: errorHandler,
	}
}

// Register adds a service to the manager
func (sm *ServiceManager) Register(service Service) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	name := service.Name()
	if _, exists := sm.services[name]; exists {
		return fmt.Errorf("service '%s' is already registered", name)
	}
	sm.services[name] = &ServiceInfo{
		Service:       service,
		State:         StateUninitialized,
		LastStateTime: time.Now(),
	}
	sm.dependsOn[name] = service.Dependencies()

	log.ApplicationLogger().Info("Service registered", "service", name, "type", service.Type(), "dependencies", service.Dependencies())
	return nil
}

// StartAll starts all services in dependency order. When one fails, the ones
// already started are stopped again.
func (sm *ServiceManager) StartAll(ctx context.Context) error {
	order, err := sm.calculateStartOrder()
	if err != nil {
		return fmt.Errorf("failed to calculate start order: %w", err)
	}

	for _, name := range order {
		if err := sm.startService(ctx, name); err != nil {
			if stopErr := sm.StopAll(ctx); stopErr != nil {
				err = stderrors.Join(err, stopErr)
			}
			return fmt.Errorf("failed to start service '%s': %w", name, err)
		}
	}

	log.ApplicationLogger().Info("All services started", "services_count", len(order))
	return nil
}

// StopAll stops every running service in reverse dependency order.
func (sm *ServiceManager) StopAll(ctx context.Context) error {
	order, err := sm.calculateStartOrder()
	if err != nil {
		return fmt.Errorf("failed to calculate stop order: %w", err)
	}

	var stopErrors []error
	for i := len(order) - 1; i >= 0; i-- {
		if err := sm.stopService(ctx, order[i]); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop service '%s': %w", order[i], err))
		}
	}
	if len(stopErrors) > 0 {
		err := stderrors.Join(stopErrors...)
		log.ErrorLoggerRaw().Error("Some services failed to stop cleanly", "err", err)
		return err
	}
	log.ApplicationLogger().Info("All services stopped")
	return nil
}

func (sm *ServiceManager) startService(ctx context.Context, name string) error {
	sm.mu.Lock()
	info := sm.services[name]
	if info.Service.IsRunning() {
		sm.mu.Unlock()
		return nil
	}
	sm.updateServiceState(info, StateInitializing)
	sm.mu.Unlock()

	err := info.Service.Start(ctx)

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if err != nil {
		info.LastError = sm.errorHandler.Handle(errors.NewServiceError(
			errors.CategoryInternal, errors.SeverityHigh, name, "start", "Service start failed", err))
		sm.updateServiceState(info, StateError)
		return err
	}
	now := time.Now()
	info.StartTime = &now
	sm.updateServiceState(info, StateRunning)
	log.ApplicationLogger().Info("Service started", "service", name)
	return nil
}

func (sm *ServiceManager) stopService(ctx context.Context, name string) error {
	sm.mu.Lock()
	info := sm.services[name]
	if !info.Service.IsRunning() {
		sm.mu.Unlock()
		return nil
	}
	sm.updateServiceState(info, StateStopping)
	sm.mu.Unlock()

	err := info.Service.Stop(ctx)

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if err != nil {
		info.LastError = err
		sm.updateServiceState(info, StateError)
		return err
	}
	sm.updateServiceState(info, StateStopped)
	log.ApplicationLogger().Info("Service stopped", "service", name)
	return nil
}

// GetServiceInfo returns a copy of the service's metadata.
func (sm *ServiceManager) GetServiceInfo(name string) (ServiceInfo, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	info, ok := sm.services[name]
	if !ok {
		return ServiceInfo{}, fmt.Errorf("service '%s' not found", name)
	}
	return *info, nil
}

// Services returns a copy of every service's metadata, sorted by name.
func (sm *ServiceManager) Services() []ServiceInfo {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make([]ServiceInfo, 0, len(sm.services))
	for _, info := range sm.services {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service.Name() < out[j].Service.Name() })
	return out
}

// GetRunningServices returns the names of running services, sorted.
func (sm *ServiceManager) GetRunningServices() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	var running []string
	for name, info := range sm.services {
		if info.Service.IsRunning() {
			running = append(running, name)
		}
	}
	sort.Strings(running)
	return running
}

// calculateStartOrder sorts services topologically; ties follow name order.
func (sm *ServiceManager) calculateStartOrder() ([]string, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	names := make([]string, 0, len(sm.services))
	for name := range sm.services {
		names = append(names, name)
	}
	sort.Strings(names)

	visited := make(map[string]bool)
	temp := make(map[string]bool)
	var order []string

	var visit func(string) error
	visit = func(name string) error {
		if temp[name] {
			return fmt.Errorf("circular dependency detected involving service '%s'", name)
		}
		if visited[name] {
			return nil
		}
		temp[name] = true
		for _, dep := range sm.dependsOn[name] {
			if _, exists := sm.services[dep]; !exists {
				return fmt.Errorf("service '%s' depends on unknown service '%s'", name, dep)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		temp[name] = false
		visited[name] = true
		order = append(order, name)
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// updateServiceState updates the state of a service (assumes lock is held)
func (sm *ServiceManager) updateServiceState(info *ServiceInfo, state ServiceState) {
	info.State = state
	info.LastStateTime = time.Now()
}
