package watchcmder_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/recall/api"
	watchcmder "github.com/papercomputeco/recall/cmd/recall/watch"
	"github.com/papercomputeco/recall/pkg/dotdir"
)

type recorder struct {
	mu          sync.Mutex
	messages    []api.MessageRequest
	unavailable bool
}

// add records m unless the recorder is marked unavailable.
func (r *recorder) add(m api.MessageRequest) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unavailable {
		return false
	}
	r.messages = append(r.messages, m)
	return true
}

func (r *recorder) setUnavailable(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unavailable = v
}

func (r *recorder) all() []api.MessageRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]api.MessageRequest(nil), r.messages...)
}

var _ = Describe("Watch command", func() {
	var (
		rec           *recorder
		server        *httptest.Server
		configDir     string
		transcriptDir string
	)

	BeforeEach(func() {
		rec = &recorder{}
		mux := http.NewServeMux()
		mux.HandleFunc("GET /ping", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		mux.HandleFunc("POST /v1/messages", func(w http.ResponseWriter, r *http.Request) {
			var req api.MessageRequest
			Expect(json.NewDecoder(r.Body).Decode(&req)).To(Succeed())
			w.Header().Set("Content-Type", "application/json")
			if !rec.add(req) {
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "buffer closed"})
				return
			}
			_ = json.NewEncoder(w).Encode(api.MessageResponse{Buffered: true})
		})
		server = httptest.NewServer(mux)
		DeferCleanup(server.Close)

		configDir = GinkgoT().TempDir()
		transcriptDir = GinkgoT().TempDir()
	})

	newRoot := func(args ...string) *cobra.Command {
		root := &cobra.Command{Use: "recall", SilenceUsage: true}
		root.PersistentFlags().String("config-dir", "", "")
		root.PersistentFlags().Bool("debug", false, "")
		root.AddCommand(watchcmder.NewWatchCmd())
		root.SetOut(GinkgoWriter)
		root.SetErr(GinkgoWriter)
		root.SetArgs(append([]string{"watch", transcriptDir, "--config-dir", configDir, "--api-target", server.URL}, args...))
		return root
	}

	writeTranscript := func(name, content string) string {
		path := filepath.Join(transcriptDir, name)
		Expect(os.WriteFile(path, []byte(content), 0o600)).To(Succeed())
		return path
	}

	It("requires a directory argument", func() {
		cmd := watchcmder.NewWatchCmd()
		Expect(cmd.Args(cmd, []string{})).NotTo(Succeed())
	})

	It("forwards existing lines with --once and saves offsets", func() {
		content := `{"conversation_id":"standup","sender":"alice","content":"I moved billing to postgres"}` + "\n"
		path := writeTranscript("standup.jsonl", content)

		Expect(newRoot("--once").Execute()).To(Succeed())

		Expect(rec.all()).To(ConsistOf(api.MessageRequest{
			ConversationID: "standup",
			Sender:         "alice",
			Content:        "I moved billing to postgres",
		}))

		state, err := dotdir.NewManager().LoadWatchState(configDir)
		Expect(err).NotTo(HaveOccurred())
		abs, err := filepath.Abs(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(state.Offsets).To(HaveKeyWithValue(abs, int64(len(content))))
	})

	It("does not resend lines on a second run", func() {
		writeTranscript("standup.jsonl", `{"sender":"bob","content":"the deploy pipeline is green"}`+"\n")

		Expect(newRoot("--once").Execute()).To(Succeed())
		Expect(newRoot("--once").Execute()).To(Succeed())
		Expect(rec.all()).To(HaveLen(1))
		Expect(rec.all()[0].ConversationID).To(Equal("standup"))
	})

	It("resends everything with --reset", func() {
		writeTranscript("standup.jsonl", `{"sender":"bob","content":"the deploy pipeline is green"}`+"\n")

		Expect(newRoot("--once").Execute()).To(Succeed())
		Expect(newRoot("--once", "--reset").Execute()).To(Succeed())
		Expect(rec.all()).To(HaveLen(2))
	})

	It("keeps a line the server could not take for the next run", func() {
		path := writeTranscript("standup.jsonl", `{"sender":"bob","content":"the deploy pipeline is green"}`+"\n")

		rec.setUnavailable(true)
		Expect(newRoot("--once").Execute()).To(MatchError(ContainSubstring("transcript delivery deferred")))
		Expect(rec.all()).To(BeEmpty())

		state, err := dotdir.NewManager().LoadWatchState(configDir)
		Expect(err).NotTo(HaveOccurred())
		abs, err := filepath.Abs(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(state.Offsets).To(HaveKeyWithValue(abs, int64(0)))

		rec.setUnavailable(false)
		Expect(newRoot("--once").Execute()).To(Succeed())
		Expect(rec.all()).To(HaveLen(1))
	})

	It("fails when the server is unreachable", func() {
		root := newRoot("--once")
		server.Close()
		Expect(root.Execute()).To(MatchError(ContainSubstring("not reachable")))
	})

	It("follows appended lines until cancelled", func() {
		path := writeTranscript("chat.jsonl", "")

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- newRoot("--save-interval", "50ms").ExecuteContext(ctx)
		}()

		Eventually(func() error {
			f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
			if err != nil {
				return err
			}
			defer f.Close()
			if len(rec.all()) > 0 {
				return nil
			}
			_, err = f.WriteString(`{"conversation_id":"c1","sender":"carol","content":"we picked kafka for events"}` + "\n")
			return err
		}, 5*time.Second, 200*time.Millisecond).Should(Succeed())

		Eventually(func() int { return len(rec.all()) }, 5*time.Second).Should(BeNumerically(">=", 1))

		cancel()
		Eventually(done, 5*time.Second).Should(Receive(BeNil()))
		Expect(rec.all()[0].Content).To(Equal("we picked kafka for events"))
	})
})
