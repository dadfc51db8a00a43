package query_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/api/query"
	"github.com/papercomputeco/recall/pkg/buffer"
	"github.com/papercomputeco/recall/pkg/embeddings"
	"github.com/papercomputeco/recall/pkg/graph"
	"github.com/papercomputeco/recall/pkg/graph/inmemory"
	"github.com/papercomputeco/recall/pkg/ingest"
	"github.com/papercomputeco/recall/pkg/logger"
	testutils "github.com/papercomputeco/recall/pkg/utils/test"
)

var _ = Describe("Service", func() {
	var (
		ctx      context.Context
		store    *inmemory.Driver
		embedder *testutils.MockEmbedder
		pipeline *ingest.Pipeline
		svc      *query.Service
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = inmemory.NewDriver()
		embedder = testutils.NewMockEmbedder()
		embedder.Embeddings["alice works at acme"] = []float32{1, 0, 0}
		embedder.Embeddings["bob uses vim"] = []float32{0, 1, 0}
		embedder.Embeddings["employer"] = []float32{0.9, 0.1, 0}
		embedder.Embeddings["Alice"] = []float32{1, 0, 0}

		var err error
		pipeline, err = ingest.NewPipeline(ingest.Config{Store: store, Embedder: embedder})
		Expect(err).NotTo(HaveOccurred())

		svc, err = query.NewService(query.Config{
			Store:    store,
			Embedder: embedder,
			Pipeline: pipeline,
			Logger:   logger.Nop(),
		})
		Expect(err).NotTo(HaveOccurred())

		for _, f := range []ingest.ManualFact{
			{Subject: "alice", SubjectType: "person", Relation: "works_at", Object: "acme"},
			{Subject: "bob", Relation: "uses", Object: "vim"},
		} {
			_, err := svc.Add(ctx, f)
			Expect(err).NotTo(HaveOccurred())
		}
	})

	It("requires a store", func() {
		_, err := query.NewService(query.Config{})
		Expect(err).To(HaveOccurred())
	})

	Describe("Search", func() {
		It("ranks facts by mention similarity", func() {
			out, err := svc.Search(ctx, "employer", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Query).To(Equal("employer"))
			Expect(out.Results).NotTo(BeEmpty())
			Expect(out.Results[0].Relation).To(Equal("works_at"))
			Expect(out.Results[0].Similarity).NotTo(BeNil())
			Expect(out.Count).To(Equal(len(out.Results)))
		})

		It("rejects an empty query", func() {
			_, err := svc.Search(ctx, "  ", 5)
			Expect(err).To(MatchError(graph.ErrInvalidInput))
		})

		It("reports a missing embedder", func() {
			bare, err := query.NewService(query.Config{Store: store})
			Expect(err).NotTo(HaveOccurred())

			_, err = bare.Search(ctx, "employer", 5)
			Expect(err).To(MatchError(embeddings.ErrNotConfigured))
			_, err = bare.Similar(ctx, "alice", 5)
			Expect(err).To(MatchError(embeddings.ErrNotConfigured))
		})
	})

	Describe("lookups", func() {
		It("finds facts by entity", func() {
			out, err := svc.Entity(ctx, "ALI", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Entity).To(Equal("ALI"))
			Expect(out.Facts).To(HaveLen(1))
			Expect(out.Facts[0].Object).To(Equal("acme"))
		})

		It("finds facts by relation", func() {
			out, err := svc.Relation(ctx, "uses", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Count).To(Equal(1))
			Expect(out.Facts[0].Subject).To(Equal("bob"))
		})

		It("lists recent facts newest first", func() {
			out, err := svc.Recent(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Facts).To(HaveLen(1))
			Expect(out.Facts[0].Subject).To(Equal("bob"))
		})

		It("rejects blank names", func() {
			_, err := svc.Entity(ctx, "", 0)
			Expect(err).To(MatchError(graph.ErrInvalidInput))
			_, err = svc.Relation(ctx, "", 0)
			Expect(err).To(MatchError(graph.ErrInvalidInput))
			_, err = svc.Mentions(ctx, "", 0)
			Expect(err).To(MatchError(graph.ErrInvalidInput))
		})
	})

	Describe("Similar", func() {
		It("ranks entities by their best mention", func() {
			out, err := svc.Similar(ctx, "Alice", 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Similar).To(HaveLen(2))
			Expect(out.Similar[0].Similarity).To(BeNumerically("~", 1.0, 1e-6))
			Expect([]string{out.Similar[0].Name, out.Similar[1].Name}).To(ConsistOf("alice", "acme"))
		})
	})

	Describe("Merge", func() {
		It("folds one entity into another", func() {
			_, err := svc.Add(ctx, ingest.ManualFact{Subject: "Acme Corp", Relation: "based_in", Object: "berlin"})
			Expect(err).NotTo(HaveOccurred())

			out, err := svc.Merge(ctx, "acme", "Acme Corp")
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Success).To(BeTrue())

			facts, err := svc.Entity(ctx, "acme corp", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(facts.Count).To(Equal(2))
		})

		It("reports unknown entities", func() {
			_, err := svc.Merge(ctx, "nobody", "acme")
			Expect(graph.IsNotFound(err)).To(BeTrue())
		})

		It("requires both names", func() {
			_, err := svc.Merge(ctx, "", "acme")
			Expect(err).To(MatchError(graph.ErrInvalidInput))
		})
	})

	Describe("Add", func() {
		It("returns the stored statement", func() {
			out, err := svc.Add(ctx, ingest.ManualFact{Subject: "carol", Relation: "manages", Object: "bob"})
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Success).To(BeTrue())
			Expect(out.Fact).To(Equal("carol --[manages]--> bob"))
			Expect(out.RelationID).To(BeNumerically(">", 0))
		})

		It("rejects missing fields", func() {
			_, err := svc.Add(ctx, ingest.ManualFact{Subject: "carol"})
			Expect(err).To(MatchError(graph.ErrInvalidInput))
		})

		It("needs a pipeline", func() {
			bare, err := query.NewService(query.Config{Store: store})
			Expect(err).NotTo(HaveOccurred())
			_, err = bare.Add(ctx, ingest.ManualFact{Subject: "a", Relation: "b", Object: "c"})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Mentions", func() {
		It("lists mentions for the best matching entity", func() {
			out, err := svc.Mentions(ctx, "alice", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.EntityID).To(BeNumerically(">", 0))
			Expect(out.Mentions).To(HaveLen(1))
			Expect(out.Mentions[0].MentionText).To(Equal("alice works at acme"))
		})

		It("reports unknown entities", func() {
			_, err := svc.Mentions(ctx, "zed", 0)
			Expect(graph.IsNotFound(err)).To(BeTrue())
		})
	})

	Describe("Stats", func() {
		It("combines store, pipeline and buffer state", func() {
			buf := buffer.New(buffer.Config{SweepInterval: time.Hour}, nil)
			DeferCleanup(buf.Close)
			_, err := buf.Add(ctx, "c1", "alice", "a message long enough")
			Expect(err).NotTo(HaveOccurred())

			svc, err = query.NewService(query.Config{Store: store, Pipeline: pipeline, Buffer: buf})
			Expect(err).NotTo(HaveOccurred())

			out, err := svc.Stats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Entities).To(Equal(int64(4)))
			Expect(out.Relations).To(Equal(int64(2)))
			Expect(out.Mentions).To(Equal(int64(4)))
			Expect(out.TotalStored).To(Equal(int64(2)))
			Expect(out.ActiveBuffers).To(Equal(1))
			Expect(out.Buffers).To(HaveKey("c1"))
		})
	})
})
