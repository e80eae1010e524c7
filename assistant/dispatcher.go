package assistant

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"taskmaster/client"
	"taskmaster/domain"
)

// Store is the subset of the task store client the dispatcher calls.
type Store interface {
	Create(ctx context.Context, t client.NewTask) (domain.Task, error)
	Patch(ctx context.Context, id string, patch domain.TaskPatch) error
	Delete(ctx context.Context, id string) error
}

// Dispatcher maps a validated intent onto task store calls.
type Dispatcher struct {
	store Store
	// BulkLimit caps concurrent patches of a bulk update; zero means no cap.
	BulkLimit int
}

// NewDispatcher creates a Dispatcher over store.
func NewDispatcher(store Store) *Dispatcher {
	return &Dispatcher{store: store}
}

// Dispatch runs the intent. Each variant is safe to dispatch twice.
func (d *Dispatcher) Dispatch(ctx context.Context, in domain.Intent) domain.Outcome {
	switch v := in.(type) {
	case domain.CreateTask:
		return d.create(ctx, v)
	case domain.UpdateStatus:
		return d.patchOne(ctx, v.ID, domain.StatusPatch(v.Status))
	case domain.EditTask:
		return d.patchOne(ctx, v.ID, v.Fields)
	case domain.DeleteTask:
		err := d.store.Delete(ctx, v.ID)
		if err != nil && !domain.IsNotFound(err) {
			return domain.Outcome{Failed: []string{v.ID}, Err: err}
		}
		return domain.Outcome{Success: true, Affected: []string{v.ID}}
	case domain.BulkUpdate:
		return d.bulk(ctx, v)
	default:
		return domain.Outcome{Success: true}
	}
}

func (d *Dispatcher) create(ctx context.Context, in domain.CreateTask) domain.Outcome {
	req := client.NewTask{
		Title:    in.Title,
		Status:   domain.StatusPending,
		Priority: domain.PriorityMedium,
	}
	if in.Priority != nil {
		req.Priority = *in.Priority
	}
	if in.DueDate != nil && *in.DueDate != "" {
		due := *in.DueDate
		req.DueDate = &due
	}
	if in.Description != nil {
		req.Description = *in.Description
	}
	created, err := d.store.Create(ctx, req)
	if err != nil {
		return domain.Outcome{Err: err}
	}
	return domain.Outcome{Success: true, Affected: []string{created.ID}, Created: &created}
}

func (d *Dispatcher) patchOne(ctx context.Context, id string, patch domain.TaskPatch) domain.Outcome {
	if err := d.store.Patch(ctx, id, patch); err != nil {
		return domain.Outcome{Failed: []string{id}, Err: err}
	}
	return domain.Outcome{Success: true, Affected: []string{id}}
}

// bulk patches every id concurrently and waits for all of them. Ids that
// succeeded keep their new values when others fail.
func (d *Dispatcher) bulk(ctx context.Context, in domain.BulkUpdate) domain.Outcome {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs = make(map[string]error)
	)
	if d.BulkLimit > 0 {
		g.SetLimit(d.BulkLimit)
	}
	for _, id := range in.IDs {
		g.Go(func() error {
			if err := d.store.Patch(ctx, id, in.Fields); err != nil {
				mu.Lock()
				errs[id] = err
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	out := domain.Outcome{}
	for _, id := range in.IDs {
		if _, failed := errs[id]; failed {
			out.Failed = append(out.Failed, id)
		} else {
			out.Affected = append(out.Affected, id)
		}
	}
	if len(out.Failed) > 0 {
		out.Err = &domain.PartialBulkFailure{Total: len(in.IDs), Failed: out.Failed, Errs: errs}
		return out
	}
	out.Success = true
	return out
}
