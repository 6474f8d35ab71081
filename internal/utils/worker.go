package utils

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const (
	TASK_CHAN_SIZE = 100
)

type WorkerFunction = func(t *tomb.Tomb, task any) error
type WorkerPool struct {
	n     uint     // number of workers
	tasks chan any // task connection pool
}

func NewWorkerPool(size uint) WorkerPool {
	return WorkerPool{
		n:     max(size, 1),
		tasks: make(chan any, TASK_CHAN_SIZE),
	}
}

// Setup starts the workers under the tomb and blocks until it is dying.
// A worker that exits with an error kills the tomb.
func (pool *WorkerPool) Setup(t *tomb.Tomb, work WorkerFunction) {
	for id := range pool.n {
		t.Go(func() error {
			return pool.worker(t, id, work)
		})
	}
	<-t.Dying()
}

// AddTask queues a task for the next free worker. Returns false if the pool
// is shutting down.
func (pool *WorkerPool) AddTask(t *tomb.Tomb, task any) bool {
	select {
	case <-t.Dying():
		return false
	default:
	}
	select {
	case pool.tasks <- task:
		return true
	case <-t.Dying():
		return false
	}
}

// Requeue puts a task back from inside a worker without blocking it. If the
// queue is full the hand-off is parked on its own goroutine under the tomb,
// so workers keep draining the queue no matter how many tasks are live.
func (pool *WorkerPool) Requeue(t *tomb.Tomb, task any) {
	select {
	case <-t.Dying():
		return
	case pool.tasks <- task:
		return
	default:
	}
	t.Go(func() error {
		select {
		case pool.tasks <- task:
		case <-t.Dying():
		}
		return nil
	})
}

// Workers wait on tasks in the task connection pool and action them.
func (pool *WorkerPool) worker(t *tomb.Tomb, id uint, work WorkerFunction) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case task := <-pool.tasks:
			if err := work(t, task); err != nil {
				log.Error().Err(err).Uint("id", id).Msg("worker exiting")
				return err
			}
		}
	}
}
