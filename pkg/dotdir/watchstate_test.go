package dotdir_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/pkg/dotdir"
)

var _ = Describe("dotdir.Manager watch state", func() {
	var tmpDir string
	var m *dotdir.Manager

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "dotdir-watch-*")
		Expect(err).NotTo(HaveOccurred())
		m = dotdir.NewManager()
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("returns an empty state when nothing was saved", func() {
		state, err := m.LoadWatchState(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(state.Offsets).To(BeEmpty())
		Expect(state.Offsets).NotTo(BeNil())
	})

	It("round-trips offsets", func() {
		state := &dotdir.WatchState{Offsets: map[string]int64{"/tmp/a.jsonl": 120}}
		Expect(m.SaveWatchState(state, tmpDir)).To(Succeed())

		loaded, err := m.LoadWatchState(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.Offsets).To(HaveKeyWithValue("/tmp/a.jsonl", int64(120)))
	})

	It("returns error for invalid JSON", func() {
		err := os.WriteFile(filepath.Join(tmpDir, "watch.json"), []byte("{nope"), 0o600)
		Expect(err).NotTo(HaveOccurred())

		_, err = m.LoadWatchState(tmpDir)
		Expect(err).To(MatchError(ContainSubstring("parsing watch state")))
	})

	It("returns error for nil state", func() {
		Expect(m.SaveWatchState(nil, tmpDir)).To(HaveOccurred())
	})

	It("clears saved state and tolerates a missing file", func() {
		Expect(m.SaveWatchState(&dotdir.WatchState{Offsets: map[string]int64{"x": 1}}, tmpDir)).To(Succeed())
		Expect(m.ClearWatchState(tmpDir)).To(Succeed())

		_, err := os.Stat(filepath.Join(tmpDir, "watch.json"))
		Expect(os.IsNotExist(err)).To(BeTrue())

		Expect(m.ClearWatchState(tmpDir)).To(Succeed())
	})
})
