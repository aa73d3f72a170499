package allocator

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/g1ibby/llm-deploy/internal/vast"
	"github.com/g1ibby/llm-deploy/pkg/models"
)

// ModelRAMOverheadMB is the fixed serving overhead added to every
// placed model's raw size.
const ModelRAMOverheadMB = 1024

// diskHeadroomMB is spare disk capacity provisioned beyond the summed
// model sizes on a machine.
const diskHeadroomMB = 5000

// OfferSource supplies candidate machines.
type OfferSource interface {
	QueryOffers(ctx context.Context, f vast.OfferFilter) ([]vast.Offer, error)
}

// SizeOracle resolves a model identifier to its memory footprint in GB.
type SizeOracle interface {
	SizeGB(ctx context.Context, model string) (float64, error)
}

// Placement is one chosen machine with the models routed to it, in
// placement order.
type Placement struct {
	Offer  vast.Offer
	Models []models.DesiredModel

	consumedMB float64
}

// DiskGB returns the disk size the machine should be provisioned with.
func (p *Placement) DiskGB() float64 {
	var sizes float64
	for _, m := range p.Models {
		sizes += m.SizeMB
	}
	return (sizes + diskHeadroomMB) / 1024
}

// Result is the allocator's output: machines in first-placement order,
// plus the models that could not be placed anywhere.
type Result struct {
	Placements []*Placement
	Unplaced   []models.DesiredModel
}

// Allocator routes desired models onto marketplace offers. High-priority
// models are packed together onto a card that can hold every one of
// them; low-priority models take any machine with enough free space.
// Given identical offers and an identical desired set, the output is
// identical.
type Allocator struct {
	offers OfferSource
	oracle SizeOracle
	logger *zap.Logger
}

// New creates an allocator.
func New(offers OfferSource, oracle SizeOracle, logger *zap.Logger) *Allocator {
	return &Allocator{offers: offers, oracle: oracle, logger: logger}
}

// Allocate resolves sizes, orders the desired set by (priority desc,
// size desc), and places each model via a reuse pass over the machines
// chosen so far and an acquisition pass against the marketplace. A model
// no offer can hold is reported unplaced, never an error; a model whose
// size cannot be resolved is a configuration error.
func (a *Allocator) Allocate(ctx context.Context, desired []models.DesiredModel) (*Result, error) {
	resolved, err := a.resolveSizes(ctx, desired)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(resolved, func(i, j int) bool {
		pi, pj := priorityRank(resolved[i].Priority), priorityRank(resolved[j].Priority)
		if pi != pj {
			return pi > pj
		}
		return resolved[i].SizeMB > resolved[j].SizeMB
	})

	highTotalMB := 0.0
	for _, m := range resolved {
		if m.Priority == models.PriorityHigh {
			highTotalMB += m.SizeMB
		}
	}

	result := &Result{}
	for _, m := range resolved {
		placement := findExisting(result.Placements, m)
		if placement == nil {
			placement, err = a.acquire(ctx, result.Placements, m, highTotalMB)
			if err != nil {
				return nil, err
			}
			if placement != nil {
				result.Placements = append(result.Placements, placement)
			}
		}
		if placement == nil {
			a.logger.Warn("model could not be placed",
				zap.String("name", m.Name),
				zap.String("model", m.Model),
				zap.String("priority", string(m.Priority)),
			)
			result.Unplaced = append(result.Unplaced, m)
			continue
		}

		placement.Models = append(placement.Models, m)
		placement.consumedMB += m.SizeMB + ModelRAMOverheadMB

		a.logger.Info("model placed",
			zap.String("name", m.Name),
			zap.Int64("machine_id", placement.Offer.ID),
			zap.Float64("consumed_mb", placement.consumedMB),
			zap.Float64("total_mb", placement.Offer.GPUTotalRAMMB),
		)
	}
	return result, nil
}

func (a *Allocator) resolveSizes(ctx context.Context, desired []models.DesiredModel) ([]models.DesiredModel, error) {
	resolved := make([]models.DesiredModel, len(desired))
	copy(resolved, desired)

	for i := range resolved {
		if resolved[i].SizeMB > 0 {
			continue
		}
		sizeGB, err := a.oracle.SizeGB(ctx, resolved[i].Model)
		if err != nil {
			return nil, fmt.Errorf("resolve size of %s: %w", resolved[i].Model, err)
		}
		resolved[i].SizeMB = sizeGB * 1024
		a.logger.Debug("model size resolved",
			zap.String("model", resolved[i].Model),
			zap.Float64("size_mb", resolved[i].SizeMB),
		)
	}
	return resolved, nil
}

// findExisting scans already-chosen machines in insertion order and
// returns the first that admits the model. A high-priority model must
// fit next to everything already on the card; a low-priority model only
// needs its own footprint free.
func findExisting(placements []*Placement, m models.DesiredModel) *Placement {
	need := m.SizeMB + ModelRAMOverheadMB
	for _, p := range placements {
		if m.Priority == models.PriorityHigh {
			if p.consumedMB+need <= p.Offer.GPUTotalRAMMB {
				return p
			}
			continue
		}
		if need <= p.Offer.GPUTotalRAMMB-p.consumedMB {
			return p
		}
	}
	return nil
}

// acquire queries the marketplace for a machine sized to the model's
// priority class: a high-priority model asks for a card that can hold
// the whole high-priority set, a low-priority one just for itself.
// Offers already chosen in this run are skipped; the reuse pass has
// ruled them out.
func (a *Allocator) acquire(ctx context.Context, placements []*Placement, m models.DesiredModel, highTotalMB float64) (*Placement, error) {
	target := m.SizeMB
	if m.Priority == models.PriorityHigh {
		target = highTotalMB
	}

	offers, err := a.offers.QueryOffers(ctx, vast.OfferFilter{
		GPURAMMB: target,
		DiskGB:   40,
		PublicIP: true,
	})
	if err != nil {
		return nil, fmt.Errorf("query offers for %s: %w", m.Model, err)
	}

	candidates := make([]vast.Offer, 0, len(offers))
	for _, o := range offers {
		if o.NumGPUs > 2 {
			continue
		}
		if used(placements, o.ID) {
			continue
		}
		candidates = append(candidates, o)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].TotalFlops != candidates[j].TotalFlops {
			return candidates[i].TotalFlops > candidates[j].TotalFlops
		}
		return candidates[i].DPHTotal < candidates[j].DPHTotal
	})

	return &Placement{Offer: candidates[0]}, nil
}

func used(placements []*Placement, offerID int64) bool {
	for _, p := range placements {
		if p.Offer.ID == offerID {
			return true
		}
	}
	return false
}

func priorityRank(p models.Priority) int {
	if p == models.PriorityHigh {
		return 1
	}
	return 0
}
