package ingest_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/pkg/graph"
	"github.com/papercomputeco/recall/pkg/graph/inmemory"
	"github.com/papercomputeco/recall/pkg/ingest"
	"github.com/papercomputeco/recall/pkg/logger"
	testutils "github.com/papercomputeco/recall/pkg/utils/test"
)

// failingStore rejects entities with one name and passes the rest through.
type failingStore struct {
	graph.Driver
	failName string
}

func (s *failingStore) GetOrCreateEntity(ctx context.Context, name, entityType string, props map[string]any) (int64, error) {
	if name == s.failName {
		return 0, errors.New("disk full")
	}
	return s.Driver.GetOrCreateEntity(ctx, name, entityType, props)
}

const deployBlock = "[alice]: We deployed the new pricing service to production yesterday."

var deployed = graph.CandidateFact{
	Subject:    "alice",
	Relation:   "deployed",
	Object:     "pricing service",
	Confidence: 0.9,
}

var _ = Describe("Pipeline", func() {
	var (
		ctx       context.Context
		store     *inmemory.Driver
		extractor *testutils.MockExtractor
		embedder  *testutils.MockEmbedder
		publisher *testutils.MockPublisher
		pipeline  *ingest.Pipeline
	)

	newPipeline := func(cfg ingest.Config) *ingest.Pipeline {
		p, err := ingest.NewPipeline(cfg)
		Expect(err).NotTo(HaveOccurred())
		return p
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = inmemory.NewDriver()
		extractor = testutils.NewMockExtractor()
		embedder = testutils.NewMockEmbedder()
		publisher = testutils.NewMockPublisher()
		pipeline = newPipeline(ingest.Config{
			Store:     store,
			Extractor: extractor,
			Embedder:  embedder,
			Publisher: publisher,
			Logger:    logger.Nop(),
		})
	})

	It("requires a store", func() {
		_, err := ingest.NewPipeline(ingest.Config{})
		Expect(err).To(HaveOccurred())
	})

	Describe("Process", func() {
		It("stores a fact with two identical mentions", func() {
			want := []float32{0.4, 0.5, 0.6}
			embedder.Embeddings["alice deployed pricing service"] = want
			extractor.Facts = []graph.CandidateFact{deployed}

			res, err := pipeline.Process(ctx, "slack:general", deployBlock)
			Expect(err).NotTo(HaveOccurred())
			Expect(res).To(Equal(ingest.Result{Extracted: 1, Stored: 1}))

			stats, err := store.GetStats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats).To(Equal(graph.Stats{Entities: 2, Relations: 1, Mentions: 2}))

			facts, err := store.SearchByRelation(ctx, "deployed", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(HaveLen(1))
			Expect(facts[0].Subject).To(Equal("alice"))
			Expect(facts[0].Object).To(Equal("pricing service"))
			Expect(facts[0].Source).To(Equal("slack"))
			Expect(facts[0].Context).To(Equal(deployBlock))

			aliceID, err := store.GetEntityID(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			serviceID, err := store.GetEntityID(ctx, "pricing service")
			Expect(err).NotTo(HaveOccurred())

			a, err := store.GetMentions(ctx, aliceID, 10)
			Expect(err).NotTo(HaveOccurred())
			s, err := store.GetMentions(ctx, serviceID, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(a).To(HaveLen(1))
			Expect(s).To(HaveLen(1))
			Expect(a[0].MentionText).To(Equal("alice deployed pricing service"))
			Expect(s[0].MentionText).To(Equal(a[0].MentionText))
			Expect(a[0].SourceID).To(Equal("slack:general"))

			vectors, err := store.AllMentionVectors(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(vectors).To(ConsistOf(
				graph.MentionVector{EntityID: aliceID, Embedding: want},
				graph.MentionVector{EntityID: serviceID, Embedding: want},
			))

			Expect(embedder.Calls).To(HaveLen(1))
		})

		It("skips facts below the confidence threshold", func() {
			low := deployed
			low.Confidence = 0.59
			extractor.Facts = []graph.CandidateFact{low}

			res, err := pipeline.Process(ctx, "c1", deployBlock)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Skipped).To(Equal(1))

			stats, err := store.GetStats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.Relations).To(BeZero())
		})

		It("keeps every fact when the threshold is explicitly zero", func() {
			zero := 0.0
			pipeline = newPipeline(ingest.Config{
				Store:         store,
				Extractor:     extractor,
				MinConfidence: &zero,
				Logger:        logger.Nop(),
			})
			low := deployed
			low.Confidence = 0.3
			extractor.Facts = []graph.CandidateFact{low}

			res, err := pipeline.Process(ctx, "c1", deployBlock)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Stored).To(Equal(1))
			Expect(res.Skipped).To(BeZero())
		})

		It("keeps the relation when embedding fails", func() {
			extractor.Facts = []graph.CandidateFact{deployed}
			embedder.FailOn = "alice deployed pricing service"

			_, err := pipeline.Process(ctx, "c1", deployBlock)
			Expect(err).NotTo(HaveOccurred())

			stats, err := store.GetStats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.Relations).To(Equal(int64(1)))
			Expect(stats.Mentions).To(BeZero())
			Expect(pipeline.Stats().EmbeddingFailures).To(Equal(int64(1)))
		})

		It("stores no mentions without an embedder", func() {
			pipeline = newPipeline(ingest.Config{Store: store, Extractor: extractor})
			extractor.Facts = []graph.CandidateFact{deployed}

			_, err := pipeline.Process(ctx, "c1", deployBlock)
			Expect(err).NotTo(HaveOccurred())

			stats, err := store.GetStats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.Relations).To(Equal(int64(1)))
			Expect(stats.Mentions).To(BeZero())
		})

		It("continues past a failing fact", func() {
			pipeline = newPipeline(ingest.Config{
				Store:     &failingStore{Driver: store, failName: "bob"},
				Extractor: extractor,
			})
			extractor.Facts = []graph.CandidateFact{
				{Subject: "bob", Relation: "uses", Object: "vim", Confidence: 0.9},
				deployed,
			}

			res, err := pipeline.Process(ctx, "c1", deployBlock)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Failed).To(Equal(1))
			Expect(res.Stored).To(Equal(1))
		})

		It("is idempotent for repeated delivery", func() {
			extractor.Facts = []graph.CandidateFact{deployed}

			for range 3 {
				_, err := pipeline.Process(ctx, "c1", deployBlock)
				Expect(err).NotTo(HaveOccurred())
			}

			stats, err := store.GetStats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.Entities).To(Equal(int64(2)))
			Expect(stats.Relations).To(Equal(int64(1)))
		})

		It("truncates the stored context", func() {
			pipeline = newPipeline(ingest.Config{Store: store, Extractor: extractor, ContextChars: 9})
			extractor.Facts = []graph.CandidateFact{deployed}

			_, err := pipeline.Process(ctx, "c1", deployBlock)
			Expect(err).NotTo(HaveOccurred())

			facts, err := store.GetAllFacts(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(facts[0].Context).To(Equal("[alice]: "))
		})

		It("publishes an event per stored fact", func() {
			extractor.Facts = []graph.CandidateFact{deployed}

			_, err := pipeline.Process(ctx, "discord:dev", deployBlock)
			Expect(err).NotTo(HaveOccurred())

			events := publisher.Events()
			Expect(events).To(HaveLen(1))
			Expect(events[0].Source.Channel).To(Equal("discord"))
			Expect(events[0].Fact.Relation).To(Equal("deployed"))
		})

		It("tolerates publish failures", func() {
			publisher.Fail = true
			extractor.Facts = []graph.CandidateFact{deployed}

			res, err := pipeline.Process(ctx, "c1", deployBlock)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Stored).To(Equal(1))
		})

		It("counts across calls", func() {
			low := deployed
			low.Confidence = 0.1
			extractor.Facts = []graph.CandidateFact{deployed, low}

			_, err := pipeline.Process(ctx, "c1", deployBlock)
			Expect(err).NotTo(HaveOccurred())
			_, err = pipeline.Process(ctx, "c1", deployBlock)
			Expect(err).NotTo(HaveOccurred())

			Expect(pipeline.Stats()).To(Equal(ingest.Stats{
				Extracted:      4,
				Stored:         2,
				Skipped:        2,
				MentionsStored: 4,
			}))
		})

		It("fails without an extractor", func() {
			pipeline = newPipeline(ingest.Config{Store: store})
			_, err := pipeline.Process(ctx, "c1", deployBlock)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("AddFact", func() {
		It("stores a manual fact at full confidence", func() {
			stored, err := pipeline.AddFact(ctx, ingest.ManualFact{
				Subject:     "Alice",
				SubjectType: "person",
				Relation:    "works at",
				Object:      "Acme",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Statement).To(Equal("Alice --[works_at]--> Acme"))

			facts, err := store.SearchByEntity(ctx, "alice", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(HaveLen(1))
			Expect(facts[0].Confidence).To(Equal(1.0))
			Expect(facts[0].Source).To(Equal(ingest.ManualSource))
			Expect(facts[0].Context).To(Equal(ingest.ManualContext))
			Expect(facts[0].SubjectType).To(Equal("person"))
			Expect(facts[0].ObjectType).To(Equal(graph.DefaultEntityType))
		})

		DescribeTable("rejects missing fields",
			func(mf ingest.ManualFact) {
				_, err := pipeline.AddFact(ctx, mf)
				Expect(err).To(MatchError(graph.ErrInvalidInput))

				stats, err := store.GetStats(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(stats.Entities).To(BeZero())
			},
			Entry("subject", ingest.ManualFact{Relation: "uses", Object: "go"}),
			Entry("relation", ingest.ManualFact{Subject: "bob", Object: "go"}),
			Entry("object", ingest.ManualFact{Subject: "bob", Relation: "uses", Object: "  "}),
		)
	})

	DescribeTable("Channel",
		func(id, want string) {
			Expect(ingest.Channel(id)).To(Equal(want))
		},
		Entry("prefixed", "slack:general", "slack"),
		Entry("bare", "session-42", "session-42"),
		Entry("empty prefix", ":x", ingest.DefaultChannel),
		Entry("empty", "", ingest.DefaultChannel),
	)
})
