package modelops

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/g1ibby/llm-deploy/internal/ollama"
	"github.com/g1ibby/llm-deploy/internal/registry"
	"github.com/g1ibby/llm-deploy/internal/vast"
)

// ErrNoEndpoint means the target instance has no resolved worker
// endpoint in the registry.
var ErrNoEndpoint = errors.New("instance has no worker endpoint")

// ErrPullFailed means the worker reported an error event during a pull.
var ErrPullFailed = errors.New("model pull failed")

// Gateway is the registration side of the routing gateway.
type Gateway interface {
	Add(ctx context.Context, model, endpoint string) error
	RemoveByID(ctx context.Context, id string) error
}

// Worker is the per-endpoint model surface of the inference server.
type Worker interface {
	Pull(ctx context.Context, model string, fn func(ollama.ProgressEvent) error) error
	List(ctx context.Context) ([]ollama.Model, error)
	Delete(ctx context.Context, model string) (bool, error)
}

// WorkerDialer builds a Worker for an endpoint.
type WorkerDialer func(endpoint string) Worker

// InstanceLister supplies the live instance list with endpoints
// injected; the lifecycle controller implements it.
type InstanceLister interface {
	Instances(ctx context.Context) ([]vast.Instance, error)
}

// InstanceModel is a worker model decorated with the instance holding it.
type InstanceModel struct {
	ollama.Model
	InstanceID int64
}

// Manager runs model operations across instances, keeping the gateway
// in step with what the workers hold.
type Manager struct {
	registry  *registry.Registry
	gateway   Gateway
	dial      WorkerDialer
	instances InstanceLister
	logger    *zap.Logger
}

// New creates a model operations manager.
func New(reg *registry.Registry, gateway Gateway, instances InstanceLister, dial WorkerDialer, logger *zap.Logger) *Manager {
	if dial == nil {
		dial = func(endpoint string) Worker {
			return ollama.NewClient(endpoint, logger)
		}
	}
	return &Manager{
		registry:  reg,
		gateway:   gateway,
		dial:      dial,
		instances: instances,
		logger:    logger,
	}
}

// Pull streams a model onto an instance's worker, reporting every
// progress event through render. On the terminal success event the
// model is registered with the gateway; a gateway outage there is
// logged and does not fail the pull. An error event fails the pull.
func (m *Manager) Pull(ctx context.Context, model string, instanceID int64, render func(ollama.ProgressEvent)) error {
	rec, ok := m.registry.Get(instanceID)
	if !ok || rec.Endpoint == "" {
		return fmt.Errorf("instance %d: %w", instanceID, ErrNoEndpoint)
	}

	m.logger.Info("pulling model",
		zap.String("model", model),
		zap.Int64("instance_id", instanceID),
		zap.String("endpoint", rec.Endpoint),
	)

	var pullErr string
	succeeded := false
	worker := m.dial(rec.Endpoint)

	err := worker.Pull(ctx, model, func(ev ollama.ProgressEvent) error {
		if render != nil {
			render(ev)
		}
		if ev.Failed() {
			pullErr = ev.Err
		}
		if ev.Success() {
			succeeded = true
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("pull %s on instance %d: %w", model, instanceID, err)
	}
	if pullErr != "" {
		return fmt.Errorf("%w: %s", ErrPullFailed, pullErr)
	}
	if !succeeded {
		return fmt.Errorf("%w: stream ended without success", ErrPullFailed)
	}

	if err := m.gateway.Add(ctx, model, rec.Endpoint); err != nil {
		// The model is on the worker either way; a gateway outage must
		// not fail the pull.
		m.logger.Warn("gateway registration failed",
			zap.String("model", model),
			zap.String("endpoint", rec.Endpoint),
			zap.Error(err),
		)
	}
	return nil
}

// Remove deregisters a model from the gateway, then deletes it from the
// instance's worker. Gateway unavailability is logged and does not block
// the worker-side delete.
func (m *Manager) Remove(ctx context.Context, model string, instanceID int64) error {
	rec, ok := m.registry.Get(instanceID)
	if !ok || rec.Endpoint == "" {
		return fmt.Errorf("instance %d: %w", instanceID, ErrNoEndpoint)
	}

	if err := m.gateway.RemoveByID(ctx, model); err != nil {
		m.logger.Warn("gateway deregistration failed",
			zap.String("model", model),
			zap.Error(err),
		)
	}

	ok, err := m.dial(rec.Endpoint).Delete(ctx, model)
	if err != nil {
		return fmt.Errorf("delete %s on instance %d: %w", model, instanceID, err)
	}
	if !ok {
		return fmt.Errorf("delete %s on instance %d: worker refused", model, instanceID)
	}

	m.logger.Info("model removed",
		zap.String("model", model),
		zap.Int64("instance_id", instanceID),
	)
	return nil
}

// List returns the union of worker model lists across every live
// instance with a known endpoint, each entry tagged with its instance.
// An instance whose worker cannot be reached is skipped.
func (m *Manager) List(ctx context.Context) ([]InstanceModel, error) {
	instances, err := m.instances.Instances(ctx)
	if err != nil {
		return nil, err
	}

	var all []InstanceModel
	for _, inst := range instances {
		if inst.Endpoint == "" {
			continue
		}
		mdls, err := m.dial(inst.Endpoint).List(ctx)
		if err != nil {
			m.logger.Warn("listing worker models failed",
				zap.Int64("instance_id", inst.ID),
				zap.String("endpoint", inst.Endpoint),
				zap.Error(err),
			)
			continue
		}
		for _, mdl := range mdls {
			all = append(all, InstanceModel{Model: mdl, InstanceID: inst.ID})
		}
	}
	return all, nil
}
