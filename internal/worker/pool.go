package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/service"
)

// Pool runs every camera worker in its own goroutine. A worker that fails or
// panics is marked in its status and leaves the others running.
type Pool struct {
	*service.ServiceBase
	workers  []*Worker
	statuses map[string]*service.ServiceStatus
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	done     chan struct{}
}

// NewPool creates a pool for workers.
func NewPool(workers []*Worker, log *logger.Logger) *Pool {
	p := &Pool{
		ServiceBase: service.NewServiceBase("camera-workers", log),
		workers:     workers,
		statuses:    make(map[string]*service.ServiceStatus, len(workers)),
	}
	for _, w := range workers {
		p.statuses[w.CameraID()] = service.NewServiceStatus("worker:" + w.CameraID())
	}
	return p
}

// Start launches the workers.
func (p *Pool) Start(ctx context.Context) error {
	p.GetStatus().SetStatus(service.StatusStarting)
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	for _, w := range p.workers {
		p.wg.Add(1)
		go p.run(ctx, w)
	}
	go func() {
		p.wg.Wait()
		close(p.done)
	}()

	p.GetStatus().SetStatus(service.StatusRunning)
	p.LogInfo("Camera workers started", "count", len(p.workers))
	return nil
}

func (p *Pool) run(ctx context.Context, w *Worker) {
	defer p.wg.Done()
	id := w.CameraID()
	status := p.statuses[id]
	status.SetStatus(service.StatusRunning)
	p.PublishEvent(service.EventTypeWorkerStarted, map[string]interface{}{"camera_id": id})

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("worker panicked: %v", r)
			}
		}()
		return w.Run(ctx)
	}()

	if err != nil {
		status.SetError(err)
		p.LogError("Camera worker failed", err, "camera_id", id)
		p.PublishEvent(service.EventTypeWorkerFailed, map[string]interface{}{"camera_id": id, "error": err.Error()})
		return
	}
	status.SetStatus(service.StatusStopped)
	p.PublishEvent(service.EventTypeWorkerStopped, map[string]interface{}{"camera_id": id})
}

// Stop cancels the workers and waits for their cleanup.
func (p *Pool) Stop(ctx context.Context) error {
	p.GetStatus().SetStatus(service.StatusStopping)
	if p.cancel != nil {
		p.cancel()
	}
	if p.done != nil {
		select {
		case <-p.done:
		case <-ctx.Done():
			return fmt.Errorf("waiting for camera workers: %w", ctx.Err())
		}
	}
	p.GetStatus().SetStatus(service.StatusStopped)
	p.LogInfo("Camera workers stopped")
	return nil
}

// Done is closed once every worker has returned.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

// Statuses returns a snapshot of every worker's status ordered by camera id.
func (p *Pool) Statuses() []service.Snapshot {
	ids := make([]string, 0, len(p.statuses))
	for id := range p.statuses {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]service.Snapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, p.statuses[id].Snapshot())
	}
	return out
}
