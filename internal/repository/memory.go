package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"crewflow/backend/pkg/models"
)

// MemoryStore is an in-memory implementation of the Store interface. It is
// used by tests and by the server's demo mode; records are cloned on the
// way in and out so callers never share mutable state with the store.
type MemoryStore struct {
	mu         sync.RWMutex
	flows      map[string]*models.Flow
	executions map[string]*models.Execution
	schedules  map[string]*models.Schedule
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		flows:      make(map[string]*models.Flow),
		executions: make(map[string]*models.Execution),
		schedules:  make(map[string]*models.Schedule),
	}
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// CreateFlow saves a flow.
func (s *MemoryStore) CreateFlow(ctx context.Context, flow *models.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[flow.ID] = cloneFlow(flow)
	return nil
}

// GetFlow retrieves a flow by ID.
func (s *MemoryStore) GetFlow(ctx context.Context, id string) (*models.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneFlow(f), nil
}

// GetFlowByName retrieves a flow by name.
func (s *MemoryStore) GetFlowByName(ctx context.Context, name string) (*models.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.flows {
		if f.Name == name {
			return cloneFlow(f), nil
		}
	}
	return nil, ErrNotFound
}

// ListFlows returns all flows ordered by creation time.
func (s *MemoryStore) ListFlows(ctx context.Context) ([]*models.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	flows := make([]*models.Flow, 0, len(s.flows))
	for _, f := range s.flows {
		flows = append(flows, cloneFlow(f))
	}
	sort.Slice(flows, func(i, j int) bool { return flows[i].CreatedAt.Before(flows[j].CreatedAt) })
	return flows, nil
}

// UpdateFlow updates an existing flow.
func (s *MemoryStore) UpdateFlow(ctx context.Context, flow *models.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flows[flow.ID]; !ok {
		return ErrNotFound
	}
	s.flows[flow.ID] = cloneFlow(flow)
	return nil
}

// DeleteFlow removes a flow and everything referencing it.
func (s *MemoryStore) DeleteFlow(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flows[id]; !ok {
		return ErrNotFound
	}
	delete(s.flows, id)
	for eid, e := range s.executions {
		if e.FlowID == id {
			delete(s.executions, eid)
		}
	}
	for sid, sc := range s.schedules {
		if sc.FlowID == id {
			delete(s.schedules, sid)
		}
	}
	return nil
}

// CreateExecution saves an execution record.
func (s *MemoryStore) CreateExecution(ctx context.Context, e *models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[e.ID] = cloneExecution(e)
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *MemoryStore) GetExecution(ctx context.Context, id string) (*models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.executions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneExecution(e), nil
}

// ListExecutions returns executions newest first.
func (s *MemoryStore) ListExecutions(ctx context.Context, flowID *string) ([]*models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var executions []*models.Execution
	for _, e := range s.executions {
		if flowID != nil && e.FlowID != *flowID {
			continue
		}
		executions = append(executions, cloneExecution(e))
	}
	sort.Slice(executions, func(i, j int) bool {
		return executions[i].CreatedAt.After(executions[j].CreatedAt)
	})
	return executions, nil
}

// UpdateExecution updates an execution's mutable fields.
func (s *MemoryStore) UpdateExecution(ctx context.Context, e *models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[e.ID]; !ok {
		return ErrNotFound
	}
	s.executions[e.ID] = cloneExecution(e)
	return nil
}

// DeleteExecution removes an execution record.
func (s *MemoryStore) DeleteExecution(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[id]; !ok {
		return ErrNotFound
	}
	delete(s.executions, id)
	return nil
}

// CreateSchedule saves a schedule.
func (s *MemoryStore) CreateSchedule(ctx context.Context, sc *models.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[sc.ID] = cloneSchedule(sc)
	return nil
}

// GetSchedule retrieves a schedule by ID.
func (s *MemoryStore) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schedules[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSchedule(sc), nil
}

// ListSchedules returns schedules ordered by creation time.
func (s *MemoryStore) ListSchedules(ctx context.Context, flowID *string) ([]*models.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var schedules []*models.Schedule
	for _, sc := range s.schedules {
		if flowID != nil && sc.FlowID != *flowID {
			continue
		}
		schedules = append(schedules, cloneSchedule(sc))
	}
	sort.Slice(schedules, func(i, j int) bool {
		return schedules[i].CreatedAt.Before(schedules[j].CreatedAt)
	})
	return schedules, nil
}

// ListActiveSchedules returns every schedule that may fire.
func (s *MemoryStore) ListActiveSchedules(ctx context.Context) ([]*models.Schedule, error) {
	all, err := s.ListSchedules(ctx, nil)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, sc := range all {
		if sc.IsActive {
			active = append(active, sc)
		}
	}
	return active, nil
}

// UpdateSchedule updates an existing schedule.
func (s *MemoryStore) UpdateSchedule(ctx context.Context, sc *models.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[sc.ID]; !ok {
		return ErrNotFound
	}
	s.schedules[sc.ID] = cloneSchedule(sc)
	return nil
}

// UpdateScheduleRunTimes writes only the run-time fields of a schedule.
func (s *MemoryStore) UpdateScheduleRunTimes(ctx context.Context, id string, lastRunAt, nextRunAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return ErrNotFound
	}
	sc.LastRunAt = cloneTime(lastRunAt)
	sc.NextRunAt = cloneTime(nextRunAt)
	return nil
}

// DeleteSchedule removes a schedule.
func (s *MemoryStore) DeleteSchedule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return ErrNotFound
	}
	delete(s.schedules, id)
	return nil
}

func cloneFlow(f *models.Flow) *models.Flow {
	c := *f
	c.ValidationErrors = append([]string(nil), f.ValidationErrors...)
	return &c
}

func cloneExecution(e *models.Execution) *models.Execution {
	c := *e
	c.Inputs = cloneMap(e.Inputs)
	c.Outputs = cloneMap(e.Outputs)
	c.SelectedTasks = append([]string(nil), e.SelectedTasks...)
	c.Logs = append([]string(nil), e.Logs...)
	return &c
}

func cloneSchedule(sc *models.Schedule) *models.Schedule {
	c := *sc
	c.Inputs = cloneMap(sc.Inputs)
	c.SelectedTasks = append([]string(nil), sc.SelectedTasks...)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	c := make(map[string]interface{}, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
