package similarity_test

import (
	"context"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/pkg/graph"
	"github.com/papercomputeco/recall/pkg/graph/inmemory"
	"github.com/papercomputeco/recall/pkg/logger"
	"github.com/papercomputeco/recall/pkg/similarity"
)

var _ = Describe("CosineSimilarity", func() {
	It("is 1 for identical vectors", func() {
		v := []float32{0.3, -1.2, 4.5, 0.01}
		Expect(similarity.CosineSimilarity(v, v)).To(BeNumerically("~", 1.0, 1e-9))
	})

	It("is -1 for opposite vectors", func() {
		v := []float32{0.3, -1.2, 4.5, 0.01}
		neg := make([]float32, len(v))
		for i := range v {
			neg[i] = -v[i]
		}
		Expect(similarity.CosineSimilarity(v, neg)).To(BeNumerically("~", -1.0, 1e-9))
	})

	It("is 0 for orthogonal vectors", func() {
		Expect(similarity.CosineSimilarity([]float32{1, 0}, []float32{0, 1})).To(BeNumerically("~", 0, 1e-9))
	})

	It("scores degenerate input as -1 instead of NaN", func() {
		Expect(similarity.CosineSimilarity([]float32{0, 0}, []float32{1, 1})).To(Equal(-1.0))
		Expect(similarity.CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0})).To(Equal(-1.0))
		Expect(similarity.CosineSimilarity(nil, nil)).To(Equal(-1.0))
	})
})

var _ = Describe("Engine", func() {
	var (
		ctx    context.Context
		store  *inmemory.Driver
		engine *similarity.Engine
	)

	entity := func(name string) int64 {
		id, err := store.GetOrCreateEntity(ctx, name, "unknown", nil)
		Expect(err).NotTo(HaveOccurred())
		return id
	}

	relate := func(s int64, label string, o int64) {
		_, err := store.StoreRelation(ctx, &graph.Relation{SubjectID: s, Relation: label, ObjectID: o, Confidence: 1})
		Expect(err).NotTo(HaveOccurred())
	}

	mention := func(id int64, v ...float32) {
		_, err := store.StoreMention(ctx, &graph.Mention{EntityID: id, MentionText: "m", Embedding: v})
		Expect(err).NotTo(HaveOccurred())
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = inmemory.NewDriver()
		engine = similarity.NewEngine(store, logger.Nop())
	})

	Describe("SearchByVector", func() {
		It("returns nothing for an empty store", func() {
			facts, err := engine.SearchByVector(ctx, []float32{1, 0}, 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(BeEmpty())
		})

		It("ranks facts by the best mention similarity of their entity", func() {
			alice := entity("alice")
			bob := entity("bob")
			acme := entity("acme")
			relate(alice, "works_at", acme)
			relate(bob, "likes", alice)

			mention(alice, 1, 0)
			mention(alice, 0, 1)
			mention(bob, 0.6, 0.8)

			facts, err := engine.SearchByVector(ctx, []float32{1, 0}, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(HaveLen(2))
			for _, f := range facts {
				Expect(f.Similarity).NotTo(BeNil())
				Expect(*f.Similarity).To(BeNumerically("~", 1.0, 1e-6))
			}
		})

		It("never returns a relation twice", func() {
			alice := entity("alice")
			acme := entity("acme")
			relate(alice, "works_at", acme)
			mention(alice, 1, 0)
			mention(acme, 0.9, 0.1)

			facts, err := engine.SearchByVector(ctx, []float32{1, 0}, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(HaveLen(1))
			Expect(*facts[0].Similarity).To(BeNumerically("~", 1.0, 1e-6))
		})

		It("never returns more than limit facts", func() {
			hub := entity("hub")
			mention(hub, 1, 0)
			for i := range 12 {
				spoke := entity(fmt.Sprintf("spoke %d", i))
				relate(hub, "links", spoke)
				mention(spoke, float32(i), 1)
			}

			facts, err := engine.SearchByVector(ctx, []float32{1, 0}, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(HaveLen(3))

			ids := map[int64]bool{}
			for _, f := range facts {
				Expect(ids).NotTo(HaveKey(f.RelationID))
				ids[f.RelationID] = true
			}
		})

		It("sorts facts by similarity descending", func() {
			a, b, c := entity("a"), entity("b"), entity("c")
			x, y := entity("x"), entity("y")
			relate(a, "r", x)
			relate(b, "r", y)
			mention(a, 0.2, 1)
			mention(b, 1, 0.1)
			mention(c, 0, 1)

			facts, err := engine.SearchByVector(ctx, []float32{1, 0}, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(HaveLen(2))
			Expect(facts[0].Subject).To(Equal("b"))
			Expect(facts[1].Subject).To(Equal("a"))
			Expect(*facts[0].Similarity).To(BeNumerically(">", *facts[1].Similarity))
		})

		It("tolerates mentions with a different dimension", func() {
			alice := entity("alice")
			acme := entity("acme")
			relate(alice, "works_at", acme)
			mention(alice, 1, 0, 0)

			facts, err := engine.SearchByVector(ctx, []float32{1, 0}, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(HaveLen(1))
			Expect(*facts[0].Similarity).To(Equal(-1.0))
		})
	})

	Describe("FindSimilarEntities", func() {
		It("ranks entities by their best mention", func() {
			alice := entity("alice")
			bob := entity("bob")
			carol := entity("carol")
			mention(alice, 0, 1)
			mention(alice, 0.8, 0.6)
			mention(bob, 1, 0)
			mention(carol, -1, 0)

			results, err := engine.FindSimilarEntities(ctx, []float32{1, 0}, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			Expect(results[0].Name).To(Equal("bob"))
			Expect(results[0].Similarity).To(BeNumerically("~", 1.0, 1e-6))
			Expect(results[1].Name).To(Equal("alice"))
			Expect(results[1].Similarity).To(BeNumerically("~", 0.8, 1e-6))
		})

		It("defaults the limit", func() {
			for i := range 8 {
				mention(entity(fmt.Sprintf("e%d", i)), 1, float32(i))
			}

			results, err := engine.FindSimilarEntities(ctx, []float32{1, 0}, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(similarity.DefaultSimilarLimit))
		})
	})
})
