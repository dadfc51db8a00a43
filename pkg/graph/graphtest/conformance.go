// Package graphtest holds the behavior every graph.Driver must share. Backend
// test suites call DescribeDriver with their own constructor.
package graphtest

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/pkg/graph"
)

// DescribeDriver registers the shared driver specs. newDriver is invoked once
// per spec and must return an empty store.
func DescribeDriver(newDriver func() graph.Driver) {
	var (
		driver graph.Driver
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		driver = newDriver()
	})

	AfterEach(func() {
		if driver != nil {
			Expect(driver.Close()).To(Succeed())
		}
	})

	mustEntity := func(name, entityType string) int64 {
		id, err := driver.GetOrCreateEntity(ctx, name, entityType, nil)
		Expect(err).NotTo(HaveOccurred())
		return id
	}

	mustRelation := func(subjectID int64, label string, objectID int64, confidence float64) int64 {
		id, err := driver.StoreRelation(ctx, &graph.Relation{
			SubjectID:  subjectID,
			Relation:   label,
			ObjectID:   objectID,
			Confidence: confidence,
			Source:     "chat",
			SourceID:   "conv-1",
			Context:    "ctx",
		})
		Expect(err).NotTo(HaveOccurred())
		return id
	}

	mustMention := func(entityID int64, text string, embedding []float32) int64 {
		id, err := driver.StoreMention(ctx, &graph.Mention{
			EntityID:    entityID,
			MentionText: text,
			Embedding:   embedding,
			Source:      "chat",
			SourceID:    "conv-1",
		})
		Expect(err).NotTo(HaveOccurred())
		return id
	}

	Describe("GetOrCreateEntity", func() {
		It("returns the same id for names differing by case and whitespace", func() {
			a := mustEntity("Alice", "person")
			b := mustEntity("  alice ", "person")
			c := mustEntity("ALICE", "unknown")
			Expect(b).To(Equal(a))
			Expect(c).To(Equal(a))

			stats, err := driver.GetStats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.Entities).To(Equal(int64(1)))
		})

		It("upgrades an unknown type", func() {
			id := mustEntity("pricing service", "")
			e, err := driver.GetEntity(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Type).To(Equal(graph.DefaultEntityType))

			mustEntity("Pricing Service", "project")
			e, err = driver.GetEntity(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Type).To(Equal("project"))
			Expect(e.CanonicalName).To(Equal("pricing service"))
			Expect(e.Name).To(Equal("pricing service"))
		})

		It("never downgrades a specific type to unknown", func() {
			id := mustEntity("Acme", "organization")
			mustEntity("acme", "unknown")

			e, err := driver.GetEntity(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Type).To(Equal("organization"))
		})

		It("rejects an empty name", func() {
			_, err := driver.GetOrCreateEntity(ctx, "   ", "person", nil)
			Expect(err).To(MatchError(graph.ErrInvalidInput))
		})

		It("keeps properties", func() {
			id, err := driver.GetOrCreateEntity(ctx, "Bob", "person", map[string]any{"team": "infra"})
			Expect(err).NotTo(HaveOccurred())

			e, err := driver.GetEntity(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Properties).To(HaveKeyWithValue("team", "infra"))
		})
	})

	Describe("StoreRelation", func() {
		It("keeps one live relation per triple with the max confidence", func() {
			alice := mustEntity("alice", "person")
			svc := mustEntity("pricing service", "project")

			first := mustRelation(alice, "deployed", svc, 0.7)
			second := mustRelation(alice, "deployed", svc, 0.9)
			third := mustRelation(alice, "deployed", svc, 0.5)
			Expect(second).To(Equal(first))
			Expect(third).To(Equal(first))

			facts, err := driver.SearchByRelation(ctx, "deployed", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(HaveLen(1))
			Expect(facts[0].Confidence).To(BeNumerically("~", 0.9, 1e-9))

			stats, err := driver.GetStats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.Relations).To(Equal(int64(1)))
		})

		It("refreshes provenance on a repeated triple", func() {
			alice := mustEntity("alice", "person")
			golang := mustEntity("go", "technology")
			mustRelation(alice, "uses", golang, 0.8)

			_, err := driver.StoreRelation(ctx, &graph.Relation{
				SubjectID: alice, Relation: "uses", ObjectID: golang,
				Confidence: 0.6, Source: "slack", SourceID: "c2", Context: "newer",
			})
			Expect(err).NotTo(HaveOccurred())

			facts, err := driver.SearchByEntity(ctx, "alice", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(HaveLen(1))
			Expect(facts[0].Source).To(Equal("slack"))
			Expect(facts[0].Context).To(Equal("newer"))
			Expect(facts[0].Confidence).To(BeNumerically("~", 0.8, 1e-9))
		})

		It("normalizes relation labels", func() {
			alice := mustEntity("alice", "person")
			acme := mustEntity("acme", "organization")
			a := mustRelation(alice, "Works At", acme, 0.9)
			b := mustRelation(alice, "works_at", acme, 0.9)
			Expect(a).To(Equal(b))

			facts, err := driver.SearchByRelation(ctx, "works at", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(HaveLen(1))
			Expect(facts[0].Relation).To(Equal("works_at"))
		})

		It("treats different directions as different triples", func() {
			alice := mustEntity("alice", "person")
			bob := mustEntity("bob", "person")
			mustRelation(alice, "knows", bob, 0.9)
			mustRelation(bob, "knows", alice, 0.9)

			stats, err := driver.GetStats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.Relations).To(Equal(int64(2)))
		})
	})

	Describe("queries", func() {
		var alice, bob, acme, recall int64

		BeforeEach(func() {
			alice = mustEntity("Alice", "person")
			bob = mustEntity("Bob", "person")
			acme = mustEntity("Acme Corp", "organization")
			recall = mustEntity("Recall", "project")

			mustRelation(alice, "works_at", acme, 0.9)
			mustRelation(bob, "works_at", acme, 0.8)
			mustRelation(alice, "maintains", recall, 0.95)
		})

		It("searches by entity substring on either end, newest first", func() {
			facts, err := driver.SearchByEntity(ctx, "ACME", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(HaveLen(2))
			Expect(facts[0].Subject).To(Equal("Bob"))
			Expect(facts[1].Subject).To(Equal("Alice"))
			Expect(facts[0].ObjectType).To(Equal("organization"))
		})

		It("treats LIKE wildcards in the pattern literally", func() {
			facts, err := driver.SearchByEntity(ctx, "%", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(BeEmpty())
		})

		It("honors the limit", func() {
			facts, err := driver.GetAllFacts(ctx, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(HaveLen(2))
			Expect(facts[0].Relation).To(Equal("maintains"))
		})

		It("returns facts touching an entity on either end", func() {
			facts, err := driver.FactsForEntity(ctx, acme)
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(HaveLen(2))

			facts, err = driver.FactsForEntity(ctx, alice)
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(HaveLen(2))
			for _, f := range facts {
				Expect(f.RelationID).NotTo(BeZero())
			}
		})

		It("resolves entity ids by substring, preferring exact matches", func() {
			id, err := driver.GetEntityID(ctx, "acme")
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal(acme))

			id, err = driver.GetEntityID(ctx, "bob")
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal(bob))

			_, err = driver.GetEntityID(ctx, "nobody")
			Expect(graph.IsNotFound(err)).To(BeTrue())
		})
	})

	Describe("mentions", func() {
		It("lists mentions newest first without embeddings", func() {
			alice := mustEntity("alice", "person")
			mustMention(alice, "first", []float32{1, 0})
			mustMention(alice, "second", []float32{0, 1})
			mustMention(alice, "third", []float32{1, 1})

			mentions, err := driver.GetMentions(ctx, alice, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(mentions).To(HaveLen(2))
			Expect(mentions[0].MentionText).To(Equal("third"))
			Expect(mentions[1].MentionText).To(Equal("second"))
		})

		It("reports not found for a missing entity", func() {
			_, err := driver.GetMentions(ctx, 9999, 10)
			Expect(graph.IsNotFound(err)).To(BeTrue())
		})

		It("loads every mention vector", func() {
			alice := mustEntity("alice", "person")
			bob := mustEntity("bob", "person")
			mustMention(alice, "a", []float32{1, 0, 0})
			mustMention(bob, "b", []float32{0, 1, 0})
			mustMention(bob, "no vector", nil)

			vectors, err := driver.AllMentionVectors(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(vectors).To(ConsistOf(
				graph.MentionVector{EntityID: alice, Embedding: []float32{1, 0, 0}},
				graph.MentionVector{EntityID: bob, Embedding: []float32{0, 1, 0}},
			))

			stats, err := driver.GetStats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.Mentions).To(Equal(int64(3)))
		})
	})

	Describe("DeduplicateEntities", func() {
		It("repoints relations and mentions and deletes the merged entity", func() {
			keep := mustEntity("Acme Corp", "organization")
			merge := mustEntity("acme", "unknown")
			alice := mustEntity("alice", "person")
			mustRelation(alice, "works_at", merge, 0.8)
			mustRelation(merge, "based_in", mustEntity("berlin", "place"), 0.7)
			mustMention(merge, "alice works at acme", []float32{1, 0})

			Expect(driver.DeduplicateEntities(ctx, "Acme Corp", "acme")).To(Succeed())

			_, err := driver.GetEntity(ctx, merge)
			Expect(graph.IsNotFound(err)).To(BeTrue())

			facts, err := driver.FactsForEntity(ctx, keep)
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(HaveLen(2))

			residual, err := driver.FactsForEntity(ctx, merge)
			Expect(err).NotTo(HaveOccurred())
			Expect(residual).To(BeEmpty())

			mentions, err := driver.GetMentions(ctx, keep, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(mentions).To(HaveLen(1))

			vectors, err := driver.AllMentionVectors(ctx)
			Expect(err).NotTo(HaveOccurred())
			for _, v := range vectors {
				Expect(v.EntityID).NotTo(Equal(merge))
			}
		})

		It("folds relations that collide with the keeper's", func() {
			keep := mustEntity("Acme Corp", "organization")
			merge := mustEntity("acme", "organization")
			alice := mustEntity("alice", "person")
			mustRelation(alice, "works_at", keep, 0.6)
			mustRelation(alice, "works_at", merge, 0.9)

			Expect(driver.DeduplicateEntities(ctx, "acme corp", "ACME")).To(Succeed())

			facts, err := driver.SearchByRelation(ctx, "works_at", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(HaveLen(1))
			Expect(facts[0].Object).To(Equal("Acme Corp"))
			Expect(facts[0].Confidence).To(BeNumerically("~", 0.9, 1e-9))
		})

		It("fails with not found when either name is missing", func() {
			mustEntity("acme", "organization")

			err := driver.DeduplicateEntities(ctx, "acme", "ghost")
			Expect(graph.IsNotFound(err)).To(BeTrue())

			err = driver.DeduplicateEntities(ctx, "ghost", "acme")
			Expect(graph.IsNotFound(err)).To(BeTrue())

			stats, err := driver.GetStats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.Entities).To(Equal(int64(1)))
		})

		It("rejects merging an entity into itself", func() {
			mustEntity("acme", "organization")
			err := driver.DeduplicateEntities(ctx, "Acme", "acme ")
			Expect(err).To(MatchError(graph.ErrInvalidInput))
		})
	})
}
