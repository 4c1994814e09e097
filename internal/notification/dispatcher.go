package notification

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type Worker struct {
	ID         int
	WorkerPool chan chan Envelope
	JobChannel chan Envelope
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan Envelope, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan Envelope),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, processFunc func(Envelope)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			w.WorkerPool <- w.JobChannel

			select {
			case env := <-w.JobChannel:
				w.Logger.Debug("worker processing notification", "worker_id", w.ID, "event_id", env.ID)
				processFunc(env)
			case <-ctx.Done():
				w.Logger.Debug("worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

type Config struct {
	MaxWorkers      int
	QueueSize       int
	DeliveryTimeout time.Duration
}

// Dispatcher hands queued envelopes to a bounded pool of workers. Each envelope goes
// to every deliverer.
type Dispatcher struct {
	deliverers []Deliverer
	timeout    time.Duration
	logger     *slog.Logger

	jobQueue   chan Envelope
	workerPool chan chan Envelope
	maxWorkers int
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	once       sync.Once
	dropped    atomic.Int64
}

func NewDispatcher(config Config, logger *slog.Logger, deliverers ...Deliverer) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	if logger == nil {
		logger = slog.Default()
	}

	maxWorkers := config.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = 100
	}
	timeout := config.DeliveryTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	d := &Dispatcher{
		deliverers: deliverers,
		timeout:    timeout,
		logger:     logger,
		maxWorkers: maxWorkers,
		jobQueue:   make(chan Envelope, queueSize),
		workerPool: make(chan chan Envelope, maxWorkers),
		ctx:        ctx,
		cancel:     cancel,
	}

	d.start()
	return d
}

func (d *Dispatcher) start() {
	d.once.Do(func() {
		for i := 0; i < d.maxWorkers; i++ {
			worker := NewWorker(i, d.workerPool, d.logger)
			worker.Start(d.ctx, &d.wg, d.process)
		}

		d.wg.Add(1)
		go d.dispatch()

		names := make([]string, 0, len(d.deliverers))
		for _, dl := range d.deliverers {
			names = append(names, dl.Name())
		}
		d.logger.Info("notification worker pool started",
			"max_workers", d.maxWorkers,
			"queue_size", cap(d.jobQueue),
			"deliverers", names)
	})
}

func (d *Dispatcher) dispatch() {
	defer d.wg.Done()

	for {
		select {
		case env := <-d.jobQueue:
			select {
			case jobChannel := <-d.workerPool:
				select {
				case jobChannel <- env:
				case <-d.ctx.Done():
					return
				}
			case <-d.ctx.Done():
				return
			}
		case <-d.ctx.Done():
			d.logger.Info("notification dispatcher shutting down", "pending", len(d.jobQueue))
			return
		}
	}
}

// Enqueue never blocks. A full queue drops the envelope.
func (d *Dispatcher) Enqueue(env Envelope) bool {
	if d.ctx.Err() != nil {
		d.dropped.Add(1)
		return false
	}
	select {
	case d.jobQueue <- env:
		return true
	default:
		d.dropped.Add(1)
		d.logger.Warn("notification queue full, dropping event",
			"event_id", env.ID,
			"event_type", env.Type,
			"queue_capacity", cap(d.jobQueue))
		return false
	}
}

func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

func (d *Dispatcher) process(env Envelope) {
	for _, dl := range d.deliverers {
		ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
		err := dl.Deliver(ctx, env)
		cancel()
		if err != nil {
			d.logger.Warn("notification delivery failed",
				"deliverer", dl.Name(),
				"event_id", env.ID,
				"event_type", env.Type,
				"error", err)
			continue
		}
		d.logger.Debug("notification delivered", "deliverer", dl.Name(), "event_id", env.ID)
	}
}

func (d *Dispatcher) Shutdown() {
	d.logger.Info("shutting down notification dispatcher")
	d.cancel()
	d.wg.Wait()
	d.logger.Info("notification dispatcher shutdown complete", "dropped", d.dropped.Load())
}
