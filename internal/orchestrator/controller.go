package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/g1ibby/llm-deploy/internal/ollama"
	"github.com/g1ibby/llm-deploy/internal/poll"
	"github.com/g1ibby/llm-deploy/internal/registry"
	"github.com/g1ibby/llm-deploy/internal/vast"
)

// Images and ports per access mode. Public-IP mode runs the stock
// worker image with its port exposed; tunnel mode runs the image that
// opens an outbound reverse tunnel instead.
const (
	publicImage = "ollama/ollama:latest"
	tunnelImage = "g1ibby/ollama-cloudflared:latest"
	workerPort  = 11434
)

// Marketplace is the subset of the marketplace client the controller
// drives.
type Marketplace interface {
	CreateInstance(ctx context.Context, offerID int64, diskGB float64, image string, ports []int) (int64, error)
	ListInstances(ctx context.Context) ([]vast.Instance, error)
	DestroyInstance(ctx context.Context, instanceID int64) (bool, error)
	InstanceLogs(ctx context.Context, instanceID int64, tail int) ([]string, error)
	TunnelURL(ctx context.Context, instanceID int64) (string, error)
}

// Gateway is the compensating side of the routing gateway: when an
// instance dies, its bindings must go.
type Gateway interface {
	RemoveByEndpoint(ctx context.Context, endpoint string) error
}

// Worker is the per-endpoint view of the inference server.
type Worker interface {
	ServerStatus(ctx context.Context) ollama.Status
	List(ctx context.Context) ([]ollama.Model, error)
}

// WorkerDialer builds a Worker for an endpoint.
type WorkerDialer func(endpoint string) Worker

// Config carries the polling budgets. The defaults are part of the
// provisioning contract.
type Config struct {
	Provisioning poll.Profile // instance running + endpoint resolvable
	WorkerReady  poll.Profile // inference server liveness
	Tunnel       poll.Profile // tunnel URL appearing in logs
}

// DefaultConfig returns the standard polling budgets.
func DefaultConfig() Config {
	return Config{
		Provisioning: poll.Profile{Attempts: 30, Delay: 10 * time.Second},
		WorkerReady:  poll.Profile{Attempts: 10, Delay: 10 * time.Second},
		Tunnel:       poll.Profile{Attempts: 10, Delay: 5 * time.Second},
	}
}

// Provisioned is the outcome of a successful provisioning action.
type Provisioned struct {
	InstanceID int64
	Endpoint   string
}

// Controller owns the instance lifecycle: create, wait for readiness,
// resolve the endpoint, wait for the worker, and tear everything down
// again when any stage fails. It is the only component that mutates the
// registry during a lifecycle action.
type Controller struct {
	market   Marketplace
	gateway  Gateway
	registry *registry.Registry
	dial     WorkerDialer
	cfg      Config
	logger   *zap.Logger
}

// New creates a lifecycle controller.
func New(market Marketplace, gateway Gateway, reg *registry.Registry, dial WorkerDialer, cfg Config, logger *zap.Logger) *Controller {
	if dial == nil {
		dial = func(endpoint string) Worker {
			return ollama.NewClient(endpoint, logger)
		}
	}
	return &Controller{
		market:   market,
		gateway:  gateway,
		registry: reg,
		dial:     dial,
		cfg:      cfg,
		logger:   logger,
	}
}

// Provision rents the machine behind an offer and walks it to a ready
// worker. On any failure past creation the instance is destroyed, its
// gateway bindings removed, and the registry re-synced before the error
// is surfaced.
func (c *Controller) Provision(ctx context.Context, offerID int64, diskGB float64, publicIP bool) (*Provisioned, error) {
	action := uuid.NewString()[:8]
	log := c.logger.With(zap.String("action", action), zap.Int64("offer_id", offerID))

	image, ports := tunnelImage, []int(nil)
	if publicIP {
		image, ports = publicImage, []int{workerPort}
	}

	instanceID, err := c.market.CreateInstance(ctx, offerID, diskGB, image, ports)
	if err != nil {
		// Nothing was rented; nothing to clean.
		return nil, err
	}
	log = log.With(zap.Int64("instance_id", instanceID))
	log.Info("instance requested", zap.String("image", image), zap.Bool("public_ip", publicIP))

	inst, err := c.awaitRunning(ctx, log, instanceID, publicIP)
	if err != nil {
		c.teardown(ctx, log, instanceID, "")
		return nil, err
	}

	endpoint, err := c.resolveEndpoint(ctx, log, instanceID, inst, publicIP)
	if err != nil {
		c.teardown(ctx, log, instanceID, "")
		return nil, err
	}

	if err := c.registry.Put(instanceID, registry.Record{Endpoint: endpoint}); err != nil {
		c.teardown(ctx, log, instanceID, endpoint)
		return nil, fmt.Errorf("persist endpoint: %w", err)
	}
	log.Info("endpoint resolved", zap.String("endpoint", endpoint))

	if err := c.awaitWorker(ctx, log, endpoint); err != nil {
		c.teardown(ctx, log, instanceID, endpoint)
		return nil, err
	}

	log.Info("instance ready", zap.String("endpoint", endpoint))
	return &Provisioned{InstanceID: instanceID, Endpoint: endpoint}, nil
}

// awaitRunning polls the live list until the instance reports running on
// all three status fields, the marketplace reports an error, or the
// budget runs out.
func (c *Controller) awaitRunning(ctx context.Context, log *zap.Logger, instanceID int64, publicIP bool) (*vast.Instance, error) {
	var ready *vast.Instance

	done, err := poll.Until(ctx, c.cfg.Provisioning, func(ctx context.Context) (bool, error) {
		instances, err := c.market.ListInstances(ctx)
		if err != nil {
			log.Warn("live list refresh failed", zap.Error(err))
			return false, nil
		}
		inst := findInstance(instances, instanceID)
		if inst == nil {
			log.Debug("instance not yet listed")
			return false, nil
		}

		actual := strings.ToLower(inst.ActualStatus)
		intended := strings.ToLower(inst.IntendedStatus)
		state := strings.ToLower(inst.CurState)
		msg := strings.ToLower(inst.StatusMsg)

		log.Debug("instance status",
			zap.String("actual", actual),
			zap.String("intended", intended),
			zap.String("state", state),
			zap.String("msg", msg),
		)

		if strings.Contains(msg, "error") {
			return false, ErrInstanceError
		}
		if actual != "running" || intended != "running" || state != "running" {
			return false, nil
		}

		addr, ok := hostAddress(inst)
		if !ok {
			log.Debug("instance running but address not yet resolvable")
			return false, nil
		}
		// In public-IP mode an address without a mapped host port means
		// the port bindings have not landed yet; keep polling.
		if publicIP && !strings.HasPrefix(addr, "http://") {
			log.Debug("instance running but host port not yet mapped")
			return false, nil
		}

		ready = inst
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if !done {
		log.Warn("provisioning budget exhausted")
		return nil, ErrProvisioningTimeout
	}
	return ready, nil
}

// resolveEndpoint produces the worker endpoint for the chosen access
// mode. The mode was fixed at create time and never changes for the
// instance's lifetime.
func (c *Controller) resolveEndpoint(ctx context.Context, log *zap.Logger, instanceID int64, inst *vast.Instance, publicIP bool) (string, error) {
	if publicIP {
		addr, ok := hostAddress(inst)
		if !ok || !strings.HasPrefix(addr, "http://") {
			return "", ErrEndpointUnresolved
		}
		return addr, nil
	}

	var url string
	done, err := poll.Until(ctx, c.cfg.Tunnel, func(ctx context.Context) (bool, error) {
		u, err := c.market.TunnelURL(ctx, instanceID)
		if err != nil {
			log.Warn("tunnel url scan failed", zap.Error(err))
			return false, nil
		}
		if u == "" {
			log.Debug("tunnel url not yet in logs")
			return false, nil
		}
		url = u
		return true, nil
	})
	if err != nil {
		return "", err
	}
	if !done {
		log.Warn("tunnel url budget exhausted")
		return "", ErrEndpointUnresolved
	}
	return url, nil
}

// awaitWorker polls the inference server's liveness probe.
func (c *Controller) awaitWorker(ctx context.Context, log *zap.Logger, endpoint string) error {
	worker := c.dial(endpoint)

	done, err := poll.Until(ctx, c.cfg.WorkerReady, func(ctx context.Context) (bool, error) {
		status := worker.ServerStatus(ctx)
		log.Debug("worker status", zap.String("status", string(status)))
		return status == ollama.StatusRunning, nil
	})
	if err != nil {
		return err
	}
	if !done {
		log.Warn("worker readiness budget exhausted")
		return ErrWorkerNotReady
	}
	return nil
}

// teardown is the compensating action: destroy the instance, then drop
// any gateway bindings pointing at it, then re-sync the registry from
// the fresh live list. Bindings must never outlive the instance they
// point at, so the gateway cleanup runs before the registry forgets the
// endpoint.
func (c *Controller) teardown(ctx context.Context, log *zap.Logger, instanceID int64, endpoint string) {
	ok, err := c.market.DestroyInstance(ctx, instanceID)
	if err != nil {
		log.Error("compensating destroy failed", zap.Error(err))
		return
	}
	if ok && endpoint != "" {
		if err := c.gateway.RemoveByEndpoint(ctx, endpoint); err != nil {
			log.Warn("gateway cleanup failed", zap.String("endpoint", endpoint), zap.Error(err))
		}
	}
	if err := c.syncLive(ctx); err != nil {
		log.Warn("registry sync after teardown failed", zap.Error(err))
	}
	log.Info("instance torn down")
}

// Instances returns the live instance list, syncing the registry to it
// and injecting each instance's persisted endpoint.
func (c *Controller) Instances(ctx context.Context) ([]vast.Instance, error) {
	instances, err := c.market.ListInstances(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(instances))
	for _, inst := range instances {
		ids = append(ids, inst.ID)
	}
	if err := c.registry.Sync(ids); err != nil {
		return nil, fmt.Errorf("sync registry: %w", err)
	}

	for i := range instances {
		if rec, ok := c.registry.Get(instances[i].ID); ok {
			instances[i].Endpoint = rec.Endpoint
		}
	}
	return instances, nil
}

// InstanceByID returns one live instance plus, when its endpoint is
// known, the models its worker currently holds.
func (c *Controller) InstanceByID(ctx context.Context, instanceID int64) (*vast.Instance, []ollama.Model, error) {
	instances, err := c.Instances(ctx)
	if err != nil {
		return nil, nil, err
	}
	inst := findInstance(instances, instanceID)
	if inst == nil {
		return nil, nil, ErrInstanceNotFound
	}
	if inst.Endpoint == "" {
		return inst, nil, nil
	}

	models, err := c.dial(inst.Endpoint).List(ctx)
	if err != nil {
		c.logger.Warn("listing worker models failed",
			zap.Int64("instance_id", instanceID),
			zap.Error(err),
		)
		return inst, nil, nil
	}
	return inst, models, nil
}

// Destroy terminates one instance and cleans up after it. Destroying an
// id that is already gone is not an error.
func (c *Controller) Destroy(ctx context.Context, instanceID int64) error {
	endpoint := ""
	if rec, ok := c.registry.Get(instanceID); ok {
		endpoint = rec.Endpoint
	}

	ok, err := c.market.DestroyInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	if ok && endpoint != "" {
		if err := c.gateway.RemoveByEndpoint(ctx, endpoint); err != nil {
			c.logger.Warn("gateway cleanup failed",
				zap.Int64("instance_id", instanceID),
				zap.String("endpoint", endpoint),
				zap.Error(err),
			)
		}
	}
	if err := c.syncLive(ctx); err != nil {
		return err
	}

	c.logger.Info("instance destroyed", zap.Int64("instance_id", instanceID))
	return nil
}

// DestroyAll tears down every instance in the live list, sequentially.
func (c *Controller) DestroyAll(ctx context.Context) error {
	instances, err := c.Instances(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, inst := range instances {
		if err := c.Destroy(ctx, inst.ID); err != nil {
			c.logger.Error("destroy failed", zap.Int64("instance_id", inst.ID), zap.Error(err))
			errs = append(errs, fmt.Errorf("instance %d: %w", inst.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Logs returns the last max lines of an instance's container logs.
func (c *Controller) Logs(ctx context.Context, instanceID int64, max int) ([]string, error) {
	lines, err := c.market.InstanceLogs(ctx, instanceID, 1000)
	if err != nil {
		return nil, err
	}
	if max > 0 && len(lines) > max {
		lines = lines[len(lines)-max:]
	}
	return lines, nil
}

func (c *Controller) syncLive(ctx context.Context) error {
	instances, err := c.market.ListInstances(ctx)
	if err != nil {
		return err
	}
	ids := make([]int64, 0, len(instances))
	for _, inst := range instances {
		ids = append(ids, inst.ID)
	}
	if err := c.registry.Sync(ids); err != nil {
		return fmt.Errorf("sync registry: %w", err)
	}
	return nil
}

func findInstance(instances []vast.Instance, id int64) *vast.Instance {
	for i := range instances {
		if instances[i].ID == id {
			return &instances[i]
		}
	}
	return nil
}

// hostAddress derives the direct address of an instance: the public IP
// with whitespace stripped, plus the first mapped host port when one
// exists. Without a host port the bare IP comes back, which callers in
// public-IP mode treat as not yet resolvable.
func hostAddress(inst *vast.Instance) (string, bool) {
	ip := strings.TrimSpace(strings.ReplaceAll(inst.PublicIPAddr, "\n", ""))
	if ip == "" || ip == "N/A" {
		return "", false
	}
	keys := make([]string, 0, len(inst.Ports))
	for k := range inst.Ports {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if mappings := inst.Ports[k]; len(mappings) > 0 && mappings[0].HostPort != "" {
			return fmt.Sprintf("http://%s:%s", ip, mappings[0].HostPort), true
		}
	}
	return ip, true
}
