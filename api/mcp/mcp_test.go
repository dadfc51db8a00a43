package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/api/query"
	"github.com/papercomputeco/recall/pkg/graph/inmemory"
	"github.com/papercomputeco/recall/pkg/ingest"
	"github.com/papercomputeco/recall/pkg/logger"
	testutils "github.com/papercomputeco/recall/pkg/utils/test"
)

var _ = Describe("MCP Server", func() {
	var (
		ctx     context.Context
		svc     *query.Service
		server  *Server
		session *mcp.ClientSession
	)

	call := func(args map[string]any) *mcp.CallToolResult {
		res, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name:      knowledgeGraphToolName,
			Arguments: args,
		})
		Expect(err).NotTo(HaveOccurred())
		return res
	}

	text := func(res *mcp.CallToolResult) string {
		Expect(res.Content).To(HaveLen(1))
		tc, ok := res.Content[0].(*mcp.TextContent)
		Expect(ok).To(BeTrue())
		return tc.Text
	}

	BeforeEach(func() {
		ctx = context.Background()
		store := inmemory.NewDriver()
		embedder := testutils.NewMockEmbedder()

		pipeline, err := ingest.NewPipeline(ingest.Config{Store: store, Embedder: embedder})
		Expect(err).NotTo(HaveOccurred())

		svc, err = query.NewService(query.Config{Store: store, Embedder: embedder, Pipeline: pipeline})
		Expect(err).NotTo(HaveOccurred())

		server, err = NewServer(Config{Query: svc, Logger: logger.Nop()})
		Expect(err).NotTo(HaveOccurred())

		serverTransport, clientTransport := mcp.NewInMemoryTransports()
		serverSession, err := server.mcpServer.Connect(ctx, serverTransport, nil)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(serverSession.Close)

		client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0"}, nil)
		session, err = client.Connect(ctx, clientTransport, nil)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(session.Close)
	})

	Describe("NewServer", func() {
		It("returns an error when the query service is nil", func() {
			_, err := NewServer(Config{Logger: logger.Nop()})
			Expect(err).To(MatchError(ContainSubstring("query service is required")))
		})

		It("returns an error when logger is nil", func() {
			_, err := NewServer(Config{Query: svc})
			Expect(err).To(MatchError(ContainSubstring("logger is required")))
		})

		It("allows an empty noop server", func() {
			s, err := NewServer(Config{Noop: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Handler()).NotTo(BeNil())
		})

		It("returns an HTTP handler", func() {
			Expect(server.Handler()).NotTo(BeNil())
		})
	})

	It("lists the knowledge_graph tool", func() {
		res, err := session.ListTools(ctx, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Tools).To(HaveLen(1))
		Expect(res.Tools[0].Name).To(Equal("knowledge_graph"))
	})

	It("adds and finds a fact", func() {
		res := call(map[string]any{
			"action":   "add",
			"subject":  "alice",
			"relation": "works_at",
			"object":   "acme",
		})
		Expect(res.IsError).To(BeFalse())
		Expect(text(res)).To(ContainSubstring("alice --[works_at]--> acme"))

		res = call(map[string]any{"action": "entity", "entity": "alice"})
		Expect(res.IsError).To(BeFalse())

		var out query.FactsOutput
		Expect(json.Unmarshal([]byte(text(res)), &out)).To(Succeed())
		Expect(out.Count).To(Equal(1))
		Expect(out.Facts[0].Object).To(Equal("acme"))
	})

	It("runs a semantic search", func() {
		call(map[string]any{"action": "add", "subject": "bob", "relation": "uses", "object": "vim"})

		res := call(map[string]any{"action": "search", "query": "editor", "limit": 5})
		Expect(res.IsError).To(BeFalse())

		var out query.SearchOutput
		Expect(json.Unmarshal([]byte(text(res)), &out)).To(Succeed())
		Expect(out.Results).To(HaveLen(1))
	})

	It("reports stats", func() {
		res := call(map[string]any{"action": "stats"})
		Expect(res.IsError).To(BeFalse())
		Expect(text(res)).To(ContainSubstring(`"entities": 0`))
	})

	It("reports missing arguments as tool errors", func() {
		res := call(map[string]any{"action": "add", "subject": "alice"})
		Expect(res.IsError).To(BeTrue())
		Expect(text(res)).To(ContainSubstring("required"))
	})

	It("reports unknown entities as tool errors", func() {
		res := call(map[string]any{"action": "mentions", "entity": "nobody"})
		Expect(res.IsError).To(BeTrue())
	})

	It("rejects unknown actions", func() {
		res := call(map[string]any{"action": "teleport"})
		Expect(res.IsError).To(BeTrue())
		Expect(text(res)).To(ContainSubstring("Unknown action"))
	})
})
