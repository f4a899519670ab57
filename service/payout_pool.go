package service

import (
	"context"
	"math/big"
	"sync"
)

type payoutJob struct {
	ctx       context.Context
	task      *TaskConfig
	recipient string
	amount    *big.Int
	result    chan DisburseResult
}

// PayoutPool runs disbursements on a bounded set of workers. Each
// submission gets a single-delivery result channel; ordering per
// custodial account is enforced by the account mutex inside the
// disburser, the pool only bounds total concurrency.
type PayoutPool struct {
	disburser *Disburser
	jobs      chan payoutJob
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewPayoutPool(disburser *Disburser, workers int) *PayoutPool {
	if workers <= 0 {
		workers = 4
	}
	p := &PayoutPool{
		disburser: disburser,
		jobs:      make(chan payoutJob, workers*4),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *PayoutPool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		job.result <- p.disburser.Disburse(job.ctx, job.task, job.recipient, job.amount)
	}
}

// Submit queues one payout and returns the channel its result will be
// delivered on.
func (p *PayoutPool) Submit(ctx context.Context, task *TaskConfig, recipient string, amount *big.Int) <-chan DisburseResult {
	result := make(chan DisburseResult, 1)
	p.jobs <- payoutJob{ctx: ctx, task: task, recipient: recipient, amount: amount, result: result}
	return result
}

// Shutdown stops accepting work and waits for in-flight payouts.
func (p *PayoutPool) Shutdown() {
	p.closeOnce.Do(func() { close(p.jobs) })
	p.wg.Wait()
}
