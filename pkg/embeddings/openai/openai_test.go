package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/pkg/embeddings"
	"github.com/papercomputeco/recall/pkg/embeddings/openai"
)

var _ = Describe("Embedder", func() {
	var (
		server   *httptest.Server
		received map[string]any
		auth     string
		status   int
	)

	BeforeEach(func() {
		status = http.StatusOK
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			Expect(r.URL.Path).To(Equal("/v1/embeddings"))
			auth = r.Header.Get("Authorization")
			Expect(json.NewDecoder(r.Body).Decode(&received)).To(Succeed())
			w.WriteHeader(status)
			if status == http.StatusOK {
				_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1,0,0.5]}]}`))
				return
			}
			_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	It("requires an API key", func() {
		GinkgoT().Setenv("OPENAI_API_KEY", "")
		_, err := openai.NewEmbedder(openai.EmbedderConfig{BaseURL: server.URL})
		Expect(err).To(HaveOccurred())
	})

	It("falls back to OPENAI_API_KEY", func() {
		GinkgoT().Setenv("OPENAI_API_KEY", "env-key")
		e, err := openai.NewEmbedder(openai.EmbedderConfig{BaseURL: server.URL})
		Expect(err).NotTo(HaveOccurred())

		_, err = e.Embed(context.Background(), "text")
		Expect(err).NotTo(HaveOccurred())
		Expect(auth).To(Equal("Bearer env-key"))
	})

	It("sends model, input and dimensions", func() {
		e, err := openai.NewEmbedder(openai.EmbedderConfig{BaseURL: server.URL, APIKey: "k", Dimensions: 512})
		Expect(err).NotTo(HaveOccurred())

		v, err := e.Embed(context.Background(), "alice works at acme")
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal([]float32{1, 0, 0.5}))
		Expect(received).To(HaveKeyWithValue("model", openai.DefaultEmbeddingModel))
		Expect(received).To(HaveKeyWithValue("input", "alice works at acme"))
		Expect(received).To(HaveKeyWithValue("dimensions", BeNumerically("==", 512)))
	})

	It("wraps errors in ErrEmbedding", func() {
		status = http.StatusUnauthorized
		e, err := openai.NewEmbedder(openai.EmbedderConfig{BaseURL: server.URL, APIKey: "k"})
		Expect(err).NotTo(HaveOccurred())

		_, err = e.Embed(context.Background(), "text")
		Expect(err).To(MatchError(embeddings.ErrEmbedding))
		Expect(err.Error()).To(ContainSubstring("401"))
	})
})
