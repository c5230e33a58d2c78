package cram

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ParallelEncoder runs encode jobs on a bounded worker pool and hands the
// results to emit in submission order.
type ParallelEncoder struct {
	group *errgroup.Group
	ctx   context.Context
	order chan chan []byte
	done  chan error
	log   *zap.SugaredLogger

	wait sync.Once
	err  error
}

// NewParallelEncoder starts an encoder with the given number of workers.
func NewParallelEncoder(ctx context.Context, workers int, emit func([]byte) error, logger *zap.Logger) *ParallelEncoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	p := &ParallelEncoder{
		group: g,
		ctx:   ctx,
		order: make(chan chan []byte, 2*workers),
		done:  make(chan error, 1),
		log:   logger.Sugar(),
	}
	go p.emitInOrder(emit)
	return p
}

// Submit queues one job. It blocks while every worker is busy or too many
// results wait for emission. Job errors are returned by Wait.
func (p *ParallelEncoder) Submit(job func(ctx context.Context) ([]byte, error)) error {
	slot := make(chan []byte, 1)
	select {
	case p.order <- slot:
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
	p.group.Go(func() error {
		data, err := job(p.ctx)
		if err != nil {
			close(slot)
			return err
		}
		slot <- data
		return nil
	})
	return nil
}

func (p *ParallelEncoder) emitInOrder(emit func([]byte) error) {
	var err error
	failed := false
	n := 0
	for slot := range p.order {
		data, ok := <-slot
		// nothing after a failed job is emitted
		failed = failed || !ok
		if failed || err != nil {
			continue
		}
		if err = emit(data); err != nil {
			p.log.Warnw("emit failed, draining remaining jobs", "job", n, "error", err)
		}
		n++
	}
	p.done <- err
}

// Wait waits for every submitted job and returns the first job or emit
// error. No job may be submitted after Wait.
func (p *ParallelEncoder) Wait() error {
	p.wait.Do(func() {
		close(p.order)
		jobErr := p.group.Wait()
		emitErr := <-p.done
		p.err = jobErr
		if p.err == nil {
			p.err = emitErr
		}
	})
	return p.err
}
