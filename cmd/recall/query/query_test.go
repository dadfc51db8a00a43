package querycmder_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/recall/api/query"
	"github.com/papercomputeco/recall/pkg/buffer"
	"github.com/papercomputeco/recall/pkg/cliui"
	"github.com/papercomputeco/recall/pkg/graph"
	"github.com/papercomputeco/recall/pkg/ingest"

	querycmder "github.com/papercomputeco/recall/cmd/recall/query"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// execute runs sub under a root carrying the persistent config-dir flag.
func execute(sub *cobra.Command, args ...string) (string, error) {
	root := &cobra.Command{Use: "recall", SilenceUsage: true, SilenceErrors: true}
	root.PersistentFlags().String("config-dir", "", "")
	root.AddCommand(sub)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

var sampleFact = graph.Fact{
	RelationID: 7,
	Subject:    "alice",
	Relation:   "works_on",
	Object:     "pricing service",
	Confidence: 0.9,
	Context:    "alice said she is on the pricing service now",
}

var _ = Describe("Query commands", func() {
	var (
		mux       *http.ServeMux
		server    *httptest.Server
		configDir string
	)

	BeforeEach(func() {
		mux = http.NewServeMux()
		server = httptest.NewServer(mux)
		DeferCleanup(server.Close)
		configDir = GinkgoT().TempDir()
	})

	Describe("search", func() {
		It("prints ranked results", func() {
			mux.HandleFunc("GET /v1/search", func(w http.ResponseWriter, r *http.Request) {
				Expect(r.URL.Query().Get("query")).To(Equal("pricing"))
				Expect(r.URL.Query().Get("limit")).To(Equal("3"))
				writeJSON(w, http.StatusOK, query.SearchOutput{
					Query:   "pricing",
					Results: []graph.Fact{sampleFact},
					Count:   1,
				})
			})

			out, err := execute(querycmder.NewSearchCmd(),
				"search", "pricing", "-k", "3",
				"--config-dir", configDir, "--api-target", server.URL)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("alice"))
			Expect(out).To(ContainSubstring("works_on"))
			Expect(out).To(ContainSubstring("pricing service"))
		})

		It("prints raw JSON with --json", func() {
			mux.HandleFunc("GET /v1/search", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, query.SearchOutput{Query: "x", Results: []graph.Fact{sampleFact}, Count: 1})
			})

			out, err := execute(querycmder.NewSearchCmd(),
				"search", "x", "--json",
				"--config-dir", configDir, "--api-target", server.URL)
			Expect(err).NotTo(HaveOccurred())

			var decoded query.SearchOutput
			Expect(json.Unmarshal([]byte(out), &decoded)).To(Succeed())
			Expect(decoded.Results).To(HaveLen(1))
			Expect(decoded.Results[0].RelationID).To(Equal(int64(7)))
		})

		It("uses the api target from config.toml when the flag is not set", func() {
			mux.HandleFunc("GET /v1/search", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, query.SearchOutput{Query: "x"})
			})
			cfg := fmt.Sprintf("version = 0\n\n[client]\napi_target = %q\n", server.URL)
			Expect(os.WriteFile(filepath.Join(configDir, "config.toml"), []byte(cfg), 0o600)).To(Succeed())

			_, err := execute(querycmder.NewSearchCmd(), "search", "x", "--config-dir", configDir)
			Expect(err).NotTo(HaveOccurred())
		})

		It("surfaces API errors", func() {
			mux.HandleFunc("GET /v1/search", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no embedder configured"})
			})

			_, err := execute(querycmder.NewSearchCmd(),
				"search", "x", "--config-dir", configDir, "--api-target", server.URL)
			Expect(err).To(MatchError(ContainSubstring("no embedder configured")))
		})

		It("requires a query argument", func() {
			_, err := execute(querycmder.NewSearchCmd(), "search", "--config-dir", configDir)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("facts", func() {
		It("lists facts for an entity", func() {
			mux.HandleFunc("GET /v1/entities/{name}/facts", func(w http.ResponseWriter, r *http.Request) {
				Expect(r.PathValue("name")).To(Equal("alice"))
				writeJSON(w, http.StatusOK, query.FactsOutput{Entity: "alice", Facts: []graph.Fact{sampleFact}, Count: 1})
			})

			out, err := execute(querycmder.NewFactsCmd(),
				"facts", "entity", "alice", "--config-dir", configDir, "--api-target", server.URL)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring(`Facts about "alice"`))
			Expect(out).To(ContainSubstring("works_on"))
		})

		It("lists facts for a relation", func() {
			mux.HandleFunc("GET /v1/relations/{relation}/facts", func(w http.ResponseWriter, r *http.Request) {
				Expect(r.PathValue("relation")).To(Equal("works_on"))
				writeJSON(w, http.StatusOK, query.FactsOutput{Relation: "works_on", Facts: []graph.Fact{sampleFact}, Count: 1})
			})

			out, err := execute(querycmder.NewFactsCmd(),
				"facts", "relation", "works_on", "--config-dir", configDir, "--api-target", server.URL)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("alice"))
		})

		It("lists recent facts", func() {
			mux.HandleFunc("GET /v1/facts/recent", func(w http.ResponseWriter, r *http.Request) {
				Expect(r.URL.Query().Get("limit")).To(Equal("20"))
				writeJSON(w, http.StatusOK, query.FactsOutput{Facts: []graph.Fact{sampleFact}, Count: 1})
			})

			out, err := execute(querycmder.NewFactsCmd(),
				"facts", "recent", "--limit", "20", "--config-dir", configDir, "--api-target", server.URL)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("Recent facts"))
		})
	})

	Describe("similar", func() {
		It("prints scored entities", func() {
			mux.HandleFunc("GET /v1/entities/{name}/similar", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, query.SimilarOutput{
					Entity: "postgres",
					Similar: []graph.ScoredEntity{
						{Entity: graph.Entity{ID: 2, Name: "pg", Type: "technology"}, Similarity: 0.93},
					},
					Count: 1,
				})
			})

			out, err := execute(querycmder.NewSimilarCmd(),
				"similar", "postgres", "--config-dir", configDir, "--api-target", server.URL)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("pg"))
		})
	})

	Describe("mentions", func() {
		It("prints mention text", func() {
			mux.HandleFunc("GET /v1/entities/{name}/mentions", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, query.MentionsOutput{
					Entity:   "alice",
					EntityID: 1,
					Mentions: []graph.Mention{{ID: 1, EntityID: 1, MentionText: "alice owns billing", Source: "chat"}},
					Count:    1,
				})
			})

			out, err := execute(querycmder.NewMentionsCmd(),
				"mentions", "alice", "--config-dir", configDir, "--api-target", server.URL)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("alice owns billing"))
		})
	})

	Describe("merge", func() {
		It("posts both names and prints the result", func() {
			mux.HandleFunc("POST /v1/entities/merge", func(w http.ResponseWriter, r *http.Request) {
				var body map[string]string
				Expect(json.NewDecoder(r.Body).Decode(&body)).To(Succeed())
				Expect(body).To(HaveKeyWithValue("merge_from", "pg"))
				Expect(body).To(HaveKeyWithValue("merge_into", "postgres"))
				writeJSON(w, http.StatusOK, query.MergeOutput{Success: true, Message: "Merged 'pg' into 'postgres'"})
			})

			out, err := execute(querycmder.NewMergeCmd(),
				"merge", "pg", "postgres", "--config-dir", configDir, "--api-target", server.URL)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("Merged 'pg' into 'postgres'"))
			Expect(out).To(ContainSubstring(`Merging "pg" into "postgres"`))
			Expect(out).To(MatchRegexp(`\(\d+(ms|\.\ds)\)`))
		})

		It("reports a failed merge on the step line", func() {
			mux.HandleFunc("POST /v1/entities/merge", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "entity not found: pg"})
			})

			out, err := execute(querycmder.NewMergeCmd(),
				"merge", "pg", "postgres", "--config-dir", configDir, "--api-target", server.URL)
			Expect(err).To(MatchError(ContainSubstring("entity not found")))
			Expect(out).To(ContainSubstring(cliui.FailMark))
		})

		It("requires two arguments", func() {
			_, err := execute(querycmder.NewMergeCmd(), "merge", "pg", "--config-dir", configDir)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("add", func() {
		It("sends the fact with entity types", func() {
			mux.HandleFunc("POST /v1/facts", func(w http.ResponseWriter, r *http.Request) {
				var fact ingest.ManualFact
				Expect(json.NewDecoder(r.Body).Decode(&fact)).To(Succeed())
				Expect(fact).To(Equal(ingest.ManualFact{
					Subject:     "alice",
					SubjectType: "person",
					Relation:    "uses",
					Object:      "postgres",
					ObjectType:  "technology",
				}))
				writeJSON(w, http.StatusOK, query.AddOutput{Success: true, Fact: "alice --[uses]--> postgres", RelationID: 3})
			})

			out, err := execute(querycmder.NewAddCmd(),
				"add", "alice", "uses", "postgres",
				"--subject-type", "person", "--object-type", "technology",
				"--config-dir", configDir, "--api-target", server.URL)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("alice --[uses]--> postgres"))
			Expect(out).To(ContainSubstring("relation 3"))
		})
	})

	Describe("stats", func() {
		It("renders counts and buffers", func() {
			mux.HandleFunc("GET /v1/stats", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, query.StatsOutput{
					Entities:       12,
					Relations:      30,
					Mentions:       41,
					TotalExtracted: 35,
					TotalStored:    30,
					Pipeline:       &ingest.Stats{Extracted: 35, Stored: 30, Skipped: 5},
					ActiveBuffers:  1,
					Buffers: map[string]buffer.ConversationStats{
						"slack-general": {MessageCount: 3, LastFlush: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
					},
				})
			})

			out, err := execute(querycmder.NewStatsCmd(),
				"stats", "--config-dir", configDir, "--api-target", server.URL)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(ContainSubstring("entities"))
			Expect(out).To(ContainSubstring("41"))
			Expect(out).To(ContainSubstring("slack-general"))
		})
	})
})
