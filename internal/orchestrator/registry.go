// Package orchestrator contains the lab lifecycle core: the in-memory lab
// registry, the lifecycle manager, the health and resource supervisor, and
// the monitoring broadcaster.
package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/cewlabs/cew/models"
)

// Registry is the in-memory lab catalog. It is the single owner of lab
// records and of the scenario reverse index, guarded by one mutex; long
// backend operations never run under it. Accessors hand out deep copies.
type Registry struct {
	mu         sync.Mutex
	labs       map[string]*models.Lab
	byScenario map[string][]string
	scenarioOf map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		labs:       make(map[string]*models.Lab),
		byScenario: make(map[string][]string),
		scenarioOf: make(map[string]string),
	}
}

// Allocate inserts a new pending lab for the scenario. It fails with
// ErrScenarioAlreadyActive while another lab for the same scenario is
// starting or running; this check and the insert are atomic.
func (r *Registry) Allocate(scenarioID, scenarioName, activator string, dockerMode bool) (*models.Lab, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.byScenario[scenarioID] {
		if lab := r.labs[id]; lab != nil && lab.Status.Active() {
			return nil, fmt.Errorf("%w: scenario %s has lab %s in state %s",
				models.ErrScenarioAlreadyActive, scenarioID, lab.ID, lab.Status)
		}
	}

	lab := &models.Lab{
		ID:           models.NewLabID(),
		ScenarioID:   scenarioID,
		ScenarioName: scenarioName,
		ActivatedBy:  activator,
		Status:       models.LabPending,
		DockerMode:   dockerMode,
	}

	r.labs[lab.ID] = lab
	r.byScenario[scenarioID] = append(r.byScenario[scenarioID], lab.ID)
	r.scenarioOf[lab.ID] = scenarioID

	return lab.Clone(), nil
}

// Get returns a copy of the lab.
func (r *Registry) Get(labID string) (*models.Lab, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lab, ok := r.labs[labID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrLabNotFound, labID)
	}
	return lab.Clone(), nil
}

// Status returns the lab's current status.
func (r *Registry) Status(labID string) (models.LabStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lab, ok := r.labs[labID]
	if !ok {
		return "", fmt.Errorf("%w: %s", models.ErrLabNotFound, labID)
	}
	return lab.Status, nil
}

// ListByScenario returns copies of every lab ever allocated for a scenario.
func (r *Registry) ListByScenario(scenarioID string) []*models.Lab {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.Lab, 0, len(r.byScenario[scenarioID]))
	for _, id := range r.byScenario[scenarioID] {
		if lab := r.labs[id]; lab != nil {
			out = append(out, lab.Clone())
		}
	}
	return out
}

// ListActive returns copies of labs in starting or running state.
func (r *Registry) ListActive() []*models.Lab {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*models.Lab
	for _, lab := range r.labs {
		if lab.Status.Active() {
			out = append(out, lab.Clone())
		}
	}
	return out
}

// ListAll returns copies of every lab in the registry.
func (r *Registry) ListAll() []*models.Lab {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.Lab, 0, len(r.labs))
	for _, lab := range r.labs {
		out = append(out, lab.Clone())
	}
	return out
}

// ScenarioOf is the O(1) reverse lookup from lab id to scenario id.
func (r *Registry) ScenarioOf(labID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.scenarioOf[labID]
	return s, ok
}

// Remove drops a lab from the registry. Active labs are refused; stop them
// first.
func (r *Registry) Remove(labID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lab, ok := r.labs[labID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrLabNotFound, labID)
	}
	if lab.Status.Active() {
		return fmt.Errorf("%w: cannot remove lab %s in state %s", models.ErrInvalidState, labID, lab.Status)
	}

	delete(r.labs, labID)
	delete(r.scenarioOf, labID)

	ids := r.byScenario[lab.ScenarioID]
	for i, id := range ids {
		if id == labID {
			r.byScenario[lab.ScenarioID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(r.byScenario[lab.ScenarioID]) == 0 {
		delete(r.byScenario, lab.ScenarioID)
	}

	return nil
}

// Transition moves the lab to the next status, enforcing the state machine.
// Returns the previous status for audit bookkeeping. Moving to running
// records the start time.
func (r *Registry) Transition(labID string, to models.LabStatus) (models.LabStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lab, ok := r.labs[labID]
	if !ok {
		return "", fmt.Errorf("%w: %s", models.ErrLabNotFound, labID)
	}
	from := lab.Status
	if !from.CanTransition(to) {
		return from, fmt.Errorf("%w: lab %s cannot go %s -> %s", models.ErrInvalidState, labID, from, to)
	}

	lab.Status = to
	if to == models.LabRunning {
		lab.StartedAt = time.Now()
	}
	return from, nil
}

// SetError records the failure message on the lab.
func (r *Registry) SetError(labID, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if lab, ok := r.labs[labID]; ok {
		lab.ErrorMessage = msg
	}
}

// AppendNetwork records a network the lab now owns.
func (r *Registry) AppendNetwork(labID string, info models.NetworkInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if lab, ok := r.labs[labID]; ok {
		lab.Networks = append(lab.Networks, info)
	}
}

// AppendContainer records a container the lab now owns.
func (r *Registry) AppendContainer(labID string, info models.ContainerInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if lab, ok := r.labs[labID]; ok {
		lab.Containers = append(lab.Containers, info)
	}
}

// Containers returns copies of the lab's container records.
func (r *Registry) Containers(labID string) ([]models.ContainerInfo, error) {
	lab, err := r.Get(labID)
	if err != nil {
		return nil, err
	}
	return lab.Containers, nil
}

// Networks returns copies of the lab's network records.
func (r *Registry) Networks(labID string) ([]models.NetworkInfo, error) {
	lab, err := r.Get(labID)
	if err != nil {
		return nil, err
	}
	return lab.Networks, nil
}

// UpdateContainer records the latest observed status and health for one of
// the lab's containers.
func (r *Registry) UpdateContainer(labID, containerID, status string, health models.ContainerHealth) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lab, ok := r.labs[labID]
	if !ok {
		return
	}
	for i := range lab.Containers {
		if lab.Containers[i].ID == containerID {
			lab.Containers[i].Status = status
			lab.Containers[i].Health = health
			return
		}
	}
}

// MarkContainersStopped records every container as stopped after cleanup.
func (r *Registry) MarkContainersStopped(labID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lab, ok := r.labs[labID]
	if !ok {
		return
	}
	for i := range lab.Containers {
		lab.Containers[i].Status = "stopped"
		lab.Containers[i].Health = models.HealthUnknown
	}
}
