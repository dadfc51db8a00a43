package versioncmder_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	versioncmder "github.com/papercomputeco/recall/cmd/version"
	"github.com/papercomputeco/recall/pkg/utils"
)

var _ = Describe("Version command", func() {
	run := func(args ...string) string {
		cmd := versioncmder.NewVersionCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetArgs(args)
		Expect(cmd.Execute()).To(Succeed())
		return out.String()
	}

	It("prints version, sha, and build time", func() {
		out := run()
		Expect(out).To(ContainSubstring("Version: " + utils.Version))
		Expect(out).To(ContainSubstring("Sha: " + utils.Sha))
		Expect(out).To(ContainSubstring("Built at: " + utils.Buildtime))
	})

	It("prints only the version with --short", func() {
		Expect(run("--short")).To(Equal(utils.Version + "\n"))
	})
})
