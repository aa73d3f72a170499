package deploy

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/g1ibby/llm-deploy/internal/allocator"
	"github.com/g1ibby/llm-deploy/internal/ollama"
	"github.com/g1ibby/llm-deploy/internal/orchestrator"
	"github.com/g1ibby/llm-deploy/pkg/models"
)

// Allocator routes the desired set onto offers.
type Allocator interface {
	Allocate(ctx context.Context, desired []models.DesiredModel) (*allocator.Result, error)
}

// Provisioner walks an offer to a ready instance and tears instances
// down again.
type Provisioner interface {
	Provision(ctx context.Context, offerID int64, diskGB float64, publicIP bool) (*orchestrator.Provisioned, error)
	Destroy(ctx context.Context, instanceID int64) error
}

// Puller streams a model onto an instance and registers it.
type Puller interface {
	Pull(ctx context.Context, model string, instanceID int64, render func(ollama.ProgressEvent)) error
}

// Deployment is one machine brought up by an apply, with the models
// that landed on it.
type Deployment struct {
	InstanceID int64
	Endpoint   string
	Models     []models.DesiredModel
}

// Summary reports what an apply achieved.
type Summary struct {
	Deployed []Deployment
	Unplaced []models.DesiredModel
}

// Applier runs the declarative path: allocate the desired set, provision
// each chosen machine, and pull its models in placement order.
type Applier struct {
	alloc  Allocator
	ctrl   Provisioner
	puller Puller
	render func(ollama.ProgressEvent)
	logger *zap.Logger
}

// NewApplier creates an applier. render may be nil.
func NewApplier(alloc Allocator, ctrl Provisioner, puller Puller, render func(ollama.ProgressEvent), logger *zap.Logger) *Applier {
	return &Applier{alloc: alloc, ctrl: ctrl, puller: puller, render: render, logger: logger}
}

// Apply deploys the desired set. A pull failure poisons its whole
// machine: the remaining models routed there are skipped and the
// instance is destroyed before the error surfaces. Machines already
// deployed stay up.
func (a *Applier) Apply(ctx context.Context, desired []models.DesiredModel) (*Summary, error) {
	result, err := a.alloc.Allocate(ctx, desired)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Unplaced: result.Unplaced}
	for _, m := range result.Unplaced {
		a.logger.Warn("model left unplaced",
			zap.String("name", m.Name),
			zap.String("model", m.Model),
		)
	}

	for _, placement := range result.Placements {
		a.logger.Info("provisioning machine",
			zap.Int64("offer_id", placement.Offer.ID),
			zap.Int("models", len(placement.Models)),
			zap.Float64("disk_gb", placement.DiskGB()),
		)

		prov, err := a.ctrl.Provision(ctx, placement.Offer.ID, placement.DiskGB(), true)
		if err != nil {
			return summary, fmt.Errorf("provision offer %d: %w", placement.Offer.ID, err)
		}

		for _, m := range placement.Models {
			if err := a.puller.Pull(ctx, m.Model, prov.InstanceID, a.render); err != nil {
				a.logger.Error("pull failed, destroying machine",
					zap.String("model", m.Model),
					zap.Int64("instance_id", prov.InstanceID),
					zap.Error(err),
				)
				if derr := a.ctrl.Destroy(ctx, prov.InstanceID); derr != nil {
					a.logger.Error("cleanup destroy failed",
						zap.Int64("instance_id", prov.InstanceID),
						zap.Error(derr),
					)
				}
				return summary, fmt.Errorf("pull %s: %w", m.Model, err)
			}
		}

		summary.Deployed = append(summary.Deployed, Deployment{
			InstanceID: prov.InstanceID,
			Endpoint:   prov.Endpoint,
			Models:     placement.Models,
		})
	}
	return summary, nil
}
