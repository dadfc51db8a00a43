package ingest_test

import (
	"context"
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/pkg/ingest"
)

type recordingProcessor struct {
	mu      sync.Mutex
	jobs    []ingest.Job
	release chan struct{}
	err     error
}

func (r *recordingProcessor) Process(_ context.Context, conversationID, block string) (ingest.Result, error) {
	if r.release != nil {
		<-r.release
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, ingest.Job{ConversationID: conversationID, Block: block})
	return ingest.Result{}, r.err
}

func (r *recordingProcessor) Jobs() []ingest.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ingest.Job(nil), r.jobs...)
}

var _ = Describe("Pool", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("requires a processor", func() {
		_, err := ingest.NewPool(ingest.PoolConfig{})
		Expect(err).To(HaveOccurred())
	})

	It("drains queued jobs on Close", func() {
		proc := &recordingProcessor{}
		pool, err := ingest.NewPool(ingest.PoolConfig{Processor: proc})
		Expect(err).NotTo(HaveOccurred())

		for _, id := range []string{"a", "b", "c"} {
			Expect(pool.Submit(ctx, id, "block "+id)).To(Succeed())
		}
		pool.Close()

		Expect(proc.Jobs()).To(ConsistOf(
			ingest.Job{ConversationID: "a", Block: "block a"},
			ingest.Job{ConversationID: "b", Block: "block b"},
			ingest.Job{ConversationID: "c", Block: "block c"},
		))
	})

	It("reports a full queue", func() {
		proc := &recordingProcessor{release: make(chan struct{})}
		pool, err := ingest.NewPool(ingest.PoolConfig{Processor: proc, NumWorkers: 1, QueueSize: 1})
		Expect(err).NotTo(HaveOccurred())

		// One job occupies the worker, one fills the queue.
		Expect(pool.Submit(ctx, "a", "1")).To(Succeed())
		Eventually(func() error { return pool.Submit(ctx, "b", "2") }).Should(Succeed())
		Eventually(func() error { return pool.Submit(ctx, "c", "3") }).Should(MatchError(ingest.ErrQueueFull))

		close(proc.release)
		pool.Close()
	})

	It("rejects jobs after Close", func() {
		pool, err := ingest.NewPool(ingest.PoolConfig{Processor: &recordingProcessor{}})
		Expect(err).NotTo(HaveOccurred())

		pool.Close()
		pool.Close()
		Expect(pool.Submit(ctx, "a", "1")).To(MatchError(ingest.ErrPoolClosed))
	})

	It("keeps working after a failed job", func() {
		proc := &recordingProcessor{err: errors.New("boom")}
		pool, err := ingest.NewPool(ingest.PoolConfig{Processor: proc, NumWorkers: 1})
		Expect(err).NotTo(HaveOccurred())

		Expect(pool.Submit(ctx, "a", "1")).To(Succeed())
		Expect(pool.Submit(ctx, "b", "2")).To(Succeed())
		pool.Close()

		Expect(proc.Jobs()).To(HaveLen(2))
	})
})
