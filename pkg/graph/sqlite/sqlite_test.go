package sqlite_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/pkg/graph"
	"github.com/papercomputeco/recall/pkg/graph/graphtest"
	"github.com/papercomputeco/recall/pkg/graph/sqlite"
	"github.com/papercomputeco/recall/pkg/logger"
)

var _ = Describe("SQLiteDriver", func() {
	Describe("NewSQLiteDriver", func() {
		It("creates a driver with file database", func() {
			tmpDir := GinkgoT().TempDir()
			dbPath := filepath.Join(tmpDir, "recall.db")

			s, err := sqlite.NewSQLiteDriver(context.Background(), dbPath, logger.Nop())
			Expect(err).NotTo(HaveOccurred())
			defer s.Close()

			// Verify file was created
			_, err = os.Stat(dbPath)
			Expect(err).NotTo(HaveOccurred())
		})

		It("reopens an existing database without losing data", func() {
			ctx := context.Background()
			dbPath := filepath.Join(GinkgoT().TempDir(), "recall.db")

			s, err := sqlite.NewSQLiteDriver(ctx, dbPath, logger.Nop())
			Expect(err).NotTo(HaveOccurred())
			id, err := s.GetOrCreateEntity(ctx, "Alice", "person", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Close()).To(Succeed())

			s, err = sqlite.NewSQLiteDriver(ctx, dbPath, logger.Nop())
			Expect(err).NotTo(HaveOccurred())
			defer s.Close()

			again, err := s.GetOrCreateEntity(ctx, "alice", "unknown", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(again).To(Equal(id))
		})

		It("cascades entity deletes to relations and mentions", func() {
			ctx := context.Background()
			s, err := sqlite.NewSQLiteDriver(ctx, ":memory:", logger.Nop())
			Expect(err).NotTo(HaveOccurred())
			defer s.Close()

			alice, _ := s.GetOrCreateEntity(ctx, "alice", "person", nil)
			acme, _ := s.GetOrCreateEntity(ctx, "acme", "organization", nil)
			_, err = s.StoreRelation(ctx, &graph.Relation{SubjectID: alice, Relation: "works_at", ObjectID: acme, Confidence: 1})
			Expect(err).NotTo(HaveOccurred())
			_, err = s.StoreMention(ctx, &graph.Mention{EntityID: acme, MentionText: "alice works at acme", Embedding: []float32{1}})
			Expect(err).NotTo(HaveOccurred())

			_, err = s.DB().ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, acme)
			Expect(err).NotTo(HaveOccurred())

			stats, err := s.GetStats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats).To(Equal(graph.Stats{Entities: 1}))
		})
	})

	graphtest.DescribeDriver(func() graph.Driver {
		d, err := sqlite.NewSQLiteDriver(context.Background(), ":memory:", logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		return d
	})
})
