package recallcmder_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	recallcmder "github.com/papercomputeco/recall/cmd/recall"
)

var _ = Describe("NewRecallCmd", func() {
	It("registers every subcommand", func() {
		cmd := recallcmder.NewRecallCmd()

		names := []string{}
		for _, sub := range cmd.Commands() {
			names = append(names, sub.Name())
		}
		Expect(names).To(ContainElements(
			"serve", "watch", "search", "facts", "similar", "mentions",
			"merge", "add", "stats", "init", "status", "config", "version",
		))
	})

	It("has the global debug and config-dir flags", func() {
		cmd := recallcmder.NewRecallCmd()
		Expect(cmd.PersistentFlags().Lookup("debug")).NotTo(BeNil())
		Expect(cmd.PersistentFlags().ShorthandLookup("d")).NotTo(BeNil())
		Expect(cmd.PersistentFlags().Lookup("config-dir")).NotTo(BeNil())
	})

	It("exposes the facts subcommands", func() {
		cmd := recallcmder.NewRecallCmd()
		facts, _, err := cmd.Find([]string{"facts", "recent"})
		Expect(err).NotTo(HaveOccurred())
		Expect(facts.Name()).To(Equal("recent"))
	})
})
