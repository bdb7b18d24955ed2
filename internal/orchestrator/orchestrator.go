package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cewlabs/cew/internal/backend"
	"github.com/cewlabs/cew/internal/config"
	"github.com/cewlabs/cew/internal/safety"
	"github.com/cewlabs/cew/models"
)

// AuditHook receives every lab state transition, synchronously.
type AuditHook func(models.AuditEvent)

// Orchestrator is the lab lifecycle manager. It is the sole mutator of lab
// records: it validates inputs, drives the backend in construction order,
// rolls back on partial failure and implements the kill-switch.
type Orchestrator struct {
	cfg      config.OrchestratorConfig
	creates  time.Duration
	stops    time.Duration
	be       backend.Backend
	registry *Registry
	safety   *safety.Validator
	sup      *Supervisor
	bcast    *Broadcaster

	hookMu sync.RWMutex
	hooks  []AuditHook
}

// New wires the registry, supervisor and broadcaster around the given
// backend. The backend variant has already been selected; nothing here
// branches on it.
func New(cfg *config.Config, be backend.Backend) *Orchestrator {
	registry := NewRegistry()
	sup := NewSupervisor(be, registry, cfg.Backend.CreateTimeout)

	return &Orchestrator{
		cfg:      cfg.Orchestrator,
		creates:  cfg.Backend.CreateTimeout,
		stops:    cfg.Backend.StopTimeout,
		be:       be,
		registry: registry,
		safety:   safety.New(),
		sup:      sup,
		bcast:    NewBroadcaster(sup, registry, cfg.Orchestrator.PollInterval, cfg.Orchestrator.QueueSize),
	}
}

// Registry exposes the lab catalog.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// Supervisor exposes health and resource queries.
func (o *Orchestrator) Supervisor() *Supervisor { return o.sup }

// Broadcaster exposes monitoring subscriptions.
func (o *Orchestrator) Broadcaster() *Broadcaster { return o.bcast }

// BackendMode reports which backend variant is active.
func (o *Orchestrator) BackendMode() string { return o.be.Mode() }

// RegisterAuditHook adds a hook invoked at every state transition.
func (o *Orchestrator) RegisterAuditHook(h AuditHook) {
	o.hookMu.Lock()
	defer o.hookMu.Unlock()
	o.hooks = append(o.hooks, h)
}

// transition moves the lab and delivers the audit event. The registry
// enforces legality; errMsg rides along on failure transitions.
func (o *Orchestrator) transition(labID string, to models.LabStatus, activator, errMsg string) error {
	from, err := o.registry.Transition(labID, to)
	if err != nil {
		return err
	}

	if activator == "" {
		if lab, gerr := o.registry.Get(labID); gerr == nil {
			activator = lab.ActivatedBy
		}
	}

	event := models.AuditEvent{
		LabID:     labID,
		From:      from,
		To:        to,
		Activator: activator,
		Timestamp: time.Now(),
		Error:     errMsg,
	}

	o.hookMu.RLock()
	hooks := o.hooks
	o.hookMu.RUnlock()
	for _, h := range hooks {
		h(event)
	}

	log.Printf("Lab %s: %s -> %s", labID, from, to)
	return nil
}

// CreateLab validates the request, allocates a lab and materializes its
// networks and containers in declaration order. On any failure after
// allocation the lab goes to failed, everything already allocated is
// released, and the original error is returned wrapped in LabCreationError.
func (o *Orchestrator) CreateLab(ctx context.Context, req models.ActivationRequest) (*models.Lab, error) {
	if err := o.safety.ValidateConstraints(req.Constraints); err != nil {
		return nil, err
	}
	if err := o.safety.ValidateTopology(req.Topology); err != nil {
		return nil, err
	}

	// Resolve effective limits per node up front so an impossible cpu quota
	// is rejected before anything exists in the backend.
	defaults := o.cfg.ResourceDefaults()
	if req.Constraints.Resources != nil {
		defaults = req.Constraints.Resources.Resolve(defaults)
	}
	for _, node := range req.Topology.Nodes {
		limits := defaults
		if node.Resources != nil {
			limits = node.Resources.Resolve(defaults)
		}
		if err := limits.CheckCPU(runtime.NumCPU()); err != nil {
			return nil, fmt.Errorf("node %s: %w", node.ID, err)
		}
	}

	lab, err := o.registry.Allocate(req.ScenarioID, req.ScenarioName, req.ActivatedBy,
		o.be.Mode() == backend.ModeDocker)
	if err != nil {
		return nil, err
	}
	labID := lab.ID
	short := lab.ShortID()

	if err := o.transition(labID, models.LabStarting, req.ActivatedBy, ""); err != nil {
		return nil, err
	}

	fail := func(cause error) (*models.Lab, error) {
		o.registry.SetError(labID, cause.Error())
		if terr := o.transition(labID, models.LabFailed, req.ActivatedBy, cause.Error()); terr != nil {
			log.Printf("Lab %s: failed transition rejected: %v", labID, terr)
		}
		o.cleanup(context.WithoutCancel(ctx), labID)
		return nil, &models.LabCreationError{LabID: labID, Cause: cause}
	}

	// Networks first, in declaration order; containers connect to them below.
	netHandles := make(map[string]string, len(req.Topology.Networks))
	subnets := make(map[string]*net.IPNet, len(req.Topology.Networks))
	for _, nw := range req.Topology.Networks {
		handle, err := o.createNetwork(ctx, labID, short, nw)
		if err != nil {
			return fail(err)
		}
		netHandles[nw.Name] = handle
		if _, ipnet, perr := net.ParseCIDR(nw.Subnet); perr == nil {
			subnets[nw.Name] = ipnet
		}
	}

	for _, node := range req.Topology.Nodes {
		if err := o.createContainer(ctx, labID, short, node, defaults, netHandles, subnets); err != nil {
			return fail(err)
		}
	}

	started, err := o.startContainers(ctx, labID)
	if err != nil {
		return fail(err)
	}
	if started == 0 && len(req.Topology.Nodes) > 0 && o.cfg.FailLabIfNoContainerStarts {
		return fail(errors.New("no container started"))
	}

	if err := o.transition(labID, models.LabRunning, req.ActivatedBy, ""); err != nil {
		return fail(err)
	}

	return o.registry.Get(labID)
}

// createNetwork realizes one declared network and records ownership.
func (o *Orchestrator) createNetwork(ctx context.Context, labID, short string, nw models.NetworkDefinition) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, o.creates)
	defer cancel()

	handle, err := o.be.CreateNetwork(cctx, backend.NetworkSpec{
		Name:     fmt.Sprintf("cew-%s-%s", short, nw.Name),
		Subnet:   nw.Subnet,
		Internal: true,
		Labels: map[string]string{
			backend.LabelLabID: labID,
			"cew.network_name": nw.Name,
		},
	})
	if err != nil {
		return "", fmt.Errorf("network %s: %w", nw.Name, err)
	}

	o.registry.AppendNetwork(labID, models.NetworkInfo{
		ID:       handle,
		Name:     nw.Name,
		Subnet:   nw.Subnet,
		Isolated: true,
	})
	return handle, nil
}

// createContainer realizes one node: image, container, network attachments.
// The container is created but not started; starts run concurrently later.
func (o *Orchestrator) createContainer(ctx context.Context, labID, short string, node models.NodeDefinition,
	defaults models.ResourceLimits, netHandles map[string]string, subnets map[string]*net.IPNet) error {

	limits := defaults
	if node.Resources != nil {
		limits = node.Resources.Resolve(defaults)
	}

	cctx, cancel := context.WithTimeout(ctx, o.creates)
	defer cancel()

	if err := o.be.EnsureImage(cctx, node.Image); err != nil {
		return fmt.Errorf("node %s: %w", node.ID, err)
	}

	handle, err := o.be.CreateContainer(cctx, backend.ContainerSpec{
		Name:     fmt.Sprintf("cew-%s-%s", short, node.Hostname),
		Hostname: node.Hostname,
		Image:    node.Image,
		Limits:   limits,
		Labels: map[string]string{
			backend.LabelLabID: labID,
			"cew.node_id":      node.ID,
			"cew.hostname":     node.Hostname,
		},
	})
	if err != nil {
		return fmt.Errorf("node %s: %w", node.ID, err)
	}

	attached := make([]string, 0, len(node.Networks))
	for _, ref := range node.Networks {
		// Bind the static ip only on the network whose subnet holds it.
		ip := ""
		if node.IP != "" {
			if ipnet := subnets[ref]; ipnet != nil && ipnet.Contains(net.ParseIP(node.IP)) {
				ip = node.IP
			}
		}
		if err := o.be.ConnectNetwork(cctx, handle, netHandles[ref], ip); err != nil {
			// Record ownership before bailing so cleanup releases the handle.
			o.registry.AppendContainer(labID, models.ContainerInfo{
				ID: handle, NodeID: node.ID, Hostname: node.Hostname, Image: node.Image,
				Status: "created", Health: models.HealthUnknown, Networks: attached, Limits: limits,
			})
			return fmt.Errorf("node %s: connect %s: %w", node.ID, ref, err)
		}
		attached = append(attached, netHandles[ref])
	}

	o.registry.AppendContainer(labID, models.ContainerInfo{
		ID:       handle,
		NodeID:   node.ID,
		Hostname: node.Hostname,
		Image:    node.Image,
		IP:       node.IP,
		Status:   "created",
		Health:   models.HealthStarting,
		Networks: attached,
		Limits:   limits,
	})
	return nil
}

// startContainers starts every created container concurrently. A failed
// start marks that container unhealthy but never aborts the lab; the number
// of successful starts is returned.
func (o *Orchestrator) startContainers(ctx context.Context, labID string) (int, error) {
	containers, err := o.registry.Containers(labID)
	if err != nil {
		return 0, err
	}

	var (
		mu      sync.Mutex
		started int
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, ci := range containers {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, o.creates)
			defer cancel()

			if err := o.be.StartContainer(sctx, ci.ID); err != nil {
				log.Printf("Lab %s: container %s failed to start: %v", labID, ci.Hostname, err)
				o.registry.UpdateContainer(labID, ci.ID, "created", models.HealthUnhealthy)
				return nil
			}

			o.registry.UpdateContainer(labID, ci.ID, "running", models.HealthHealthy)
			mu.Lock()
			started++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // workers only log; a cancelled ctx surfaces via the starts themselves

	return started, nil
}

// StopLab transitions the lab to stopping, releases everything it owns and
// transitions to stopped. Once begun the release runs to completion even if
// the caller's context is cancelled.
func (o *Orchestrator) StopLab(ctx context.Context, labID string) (*models.Lab, error) {
	if err := o.transition(labID, models.LabStopping, "", ""); err != nil {
		return nil, err
	}

	o.cleanup(context.WithoutCancel(ctx), labID)

	if err := o.transition(labID, models.LabStopped, "", ""); err != nil {
		// Registry corruption is the only way here; surface it.
		return nil, err
	}

	if scenario, ok := o.registry.ScenarioOf(labID); ok {
		log.Printf("Lab %s: scenario %s released", labID, scenario)
	}

	return o.registry.Get(labID)
}

// cleanup releases a lab's resources in reverse construction order:
// containers first, then networks. Each release is best-effort; NotFound is
// success and other backend errors are logged without aborting the loop.
func (o *Orchestrator) cleanup(ctx context.Context, labID string) {
	// The context must outlive a full-length graceful stop so the forced
	// removal behind it still gets to run.
	grace := o.stops + 5*time.Second

	containers, err := o.registry.Containers(labID)
	if err != nil {
		return
	}
	for _, ci := range containers {
		sctx, cancel := context.WithTimeout(ctx, grace)
		err := o.be.StopContainer(sctx, ci.ID, o.stops)
		cancel()
		if err != nil && !backend.IsNotFound(err) {
			log.Printf("Lab %s: failed to release container %s: %v", labID, ci.Hostname, err)
		}
	}
	o.registry.MarkContainersStopped(labID)

	networks, err := o.registry.Networks(labID)
	if err != nil {
		return
	}
	for _, ni := range networks {
		sctx, cancel := context.WithTimeout(ctx, grace)
		err := o.be.RemoveNetwork(sctx, ni.ID)
		cancel()
		if err != nil && !backend.IsNotFound(err) {
			log.Printf("Lab %s: failed to release network %s: %v", labID, ni.Name, err)
		}
	}
}

// KillAll is the kill-switch: it snapshots the active labs, stops each, and
// returns the ids of labs successfully stopped. Per-lab failures are logged,
// never propagated; the caller always gets an answer.
func (o *Orchestrator) KillAll(ctx context.Context, activator string) []string {
	active := o.registry.ListActive()
	if len(active) > 0 {
		log.Printf("Kill-switch engaged by %q: stopping %d labs", activator, len(active))
	}

	var (
		mu      sync.Mutex
		stopped []string
	)

	var g errgroup.Group
	for _, lab := range active {
		g.Go(func() error {
			if _, err := o.StopLab(ctx, lab.ID); err != nil {
				log.Printf("Kill-switch: failed to stop lab %s: %v", lab.ID, err)
				return nil
			}
			mu.Lock()
			stopped = append(stopped, lab.ID)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if stopped == nil {
		stopped = []string{}
	}
	return stopped
}

// RestartUnhealthy restarts every container of a running lab whose latest
// inspect shows it not running. Successfully restarted hostnames are
// returned; failures are logged and skipped.
func (o *Orchestrator) RestartUnhealthy(ctx context.Context, labID string) ([]string, error) {
	status, err := o.registry.Status(labID)
	if err != nil {
		return nil, err
	}
	if status != models.LabRunning {
		return nil, fmt.Errorf("%w: lab %s is %s, not running", models.ErrInvalidState, labID, status)
	}

	recovered := []string{}
	containers, err := o.registry.Containers(labID)
	if err != nil {
		return nil, err
	}

	for _, ci := range containers {
		ictx, cancel := context.WithTimeout(ctx, o.stops)
		state, err := o.be.Inspect(ictx, ci.ID)
		cancel()
		if err == nil && state.Running {
			continue
		}

		rctx, cancel := context.WithTimeout(ctx, o.creates)
		err = o.be.RestartContainer(rctx, ci.ID, o.stops)
		cancel()
		if err != nil {
			log.Printf("Lab %s: failed to restart container %s: %v", labID, ci.Hostname, err)
			continue
		}

		o.registry.UpdateContainer(labID, ci.ID, "running", models.HealthHealthy)
		recovered = append(recovered, ci.Hostname)
	}

	return recovered, nil
}

// GetLab returns a copy of the lab record.
func (o *Orchestrator) GetLab(labID string) (*models.Lab, error) {
	return o.registry.Get(labID)
}

// ListActiveLabs returns labs in starting or running state.
func (o *Orchestrator) ListActiveLabs() []*models.Lab {
	return o.registry.ListActive()
}

// ListAllLabs returns every lab in the registry.
func (o *Orchestrator) ListAllLabs() []*models.Lab {
	return o.registry.ListAll()
}
