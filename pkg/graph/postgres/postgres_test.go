package postgres_test

import (
	"context"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/pkg/graph"
	"github.com/papercomputeco/recall/pkg/graph/graphtest"
	"github.com/papercomputeco/recall/pkg/graph/postgres"
	"github.com/papercomputeco/recall/pkg/logger"
)

// connStr returns the PostgreSQL connection string from environment or skips the test.
func connStr() string {
	dsn := os.Getenv("RECALL_TEST_POSTGRES_DSN")
	if dsn == "" {
		Skip("RECALL_TEST_POSTGRES_DSN not set, skipping PostgreSQL tests")
	}
	return dsn
}

var _ = Describe("Driver", func() {
	graphtest.DescribeDriver(func() graph.Driver {
		ctx := context.Background()
		d, err := postgres.NewDriver(ctx, connStr(), logger.Nop())
		Expect(err).NotTo(HaveOccurred())

		// Clean all rows before each test for isolation.
		_, err = d.DB().ExecContext(ctx, `TRUNCATE mentions, relations, entities RESTART IDENTITY CASCADE`)
		Expect(err).NotTo(HaveOccurred())
		return d
	})
})
