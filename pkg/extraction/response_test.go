package extraction_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/pkg/extraction"
	"github.com/papercomputeco/recall/pkg/graph"
)

const oneFact = `{"subject":"alice","subject_type":"person","relation":"deployed","object":"pricing service","object_type":"project","confidence":0.9}`

var alice = graph.CandidateFact{
	Subject:     "alice",
	SubjectType: "person",
	Relation:    "deployed",
	Object:      "pricing service",
	ObjectType:  "project",
	Confidence:  0.9,
}

var _ = Describe("DecodeResponse", func() {
	DescribeTable("classifies envelopes",
		func(raw string, kind extraction.ResponseKind) {
			Expect(extraction.DecodeResponse([]byte(raw)).Kind).To(Equal(kind))
		},
		Entry("bare array", `[`+oneFact+`]`, extraction.KindRawArray),
		Entry("result wrapper", `{"result":[`+oneFact+`]}`, extraction.KindWrappedResult),
		Entry("json wrapper", `{"json":[]}`, extraction.KindWrappedResult),
		Entry("details json", `{"details":{"json":[`+oneFact+`]}}`, extraction.KindWrappedDetails),
		Entry("details text", `{"details":{"text":"[]"}}`, extraction.KindWrappedDetails),
		Entry("text field", `{"text":"[]"}`, extraction.KindText),
		Entry("json string", `"[]"`, extraction.KindText),
		Entry("plain prose", `Here are the facts: []`, extraction.KindText),
		Entry("other object", `{"status":"ok"}`, extraction.KindUnknown),
		Entry("empty", `   `, extraction.KindUnknown),
	)
})

var _ = Describe("Normalize", func() {
	normalize := func(raw string) ([]graph.CandidateFact, error) {
		return extraction.Normalize(extraction.DecodeResponse([]byte(raw)))
	}

	DescribeTable("yields the same facts for every envelope",
		func(raw string) {
			facts, err := normalize(raw)
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(Equal([]graph.CandidateFact{alice}))
		},
		Entry("bare array", `[`+oneFact+`]`),
		Entry("result wrapper", `{"result":[`+oneFact+`]}`),
		Entry("details json", `{"details":{"json":[`+oneFact+`]}}`),
		Entry("details text", `{"details":{"text":"[`+escape(oneFact)+`]"}}`),
		Entry("fenced text", "```json\n["+oneFact+"]\n```"),
		Entry("bare fence", "```\n["+oneFact+"]\n```"),
		Entry("prose around array", "Sure! Here you go:\n["+oneFact+"]\nLet me know."),
	)

	It("returns an empty list for an empty array", func() {
		facts, err := normalize(`[]`)
		Expect(err).NotTo(HaveOccurred())
		Expect(facts).To(BeEmpty())
	})

	It("drops entries without string fields or with empty endpoints", func() {
		facts, err := normalize(`[
			{"subject":"bob","relation":"uses","object":"go","confidence":0.8},
			{"subject":"","relation":"uses","object":"go","confidence":0.8},
			{"subject":"bob","relation":"uses","object":"  ","confidence":0.8},
			{"subject":"bob","relation":7,"object":"go","confidence":0.8},
			{"subject":"bob","object":"go","confidence":0.8},
			"not an object"
		]`)
		Expect(err).NotTo(HaveOccurred())
		Expect(facts).To(HaveLen(1))
		Expect(facts[0].Subject).To(Equal("bob"))
	})

	It("treats a missing confidence as zero and clamps out-of-range values", func() {
		facts, err := normalize(`[
			{"subject":"a","relation":"r","object":"b"},
			{"subject":"a","relation":"r","object":"c","confidence":3}
		]`)
		Expect(err).NotTo(HaveOccurred())
		Expect(facts[0].Confidence).To(BeZero())
		Expect(facts[1].Confidence).To(Equal(1.0))
	})

	It("rejects unknown shapes", func() {
		_, err := normalize(`{"status":"ok"}`)
		Expect(err).To(MatchError(extraction.ErrUnexpectedShape))
	})

	It("rejects text without an array", func() {
		_, err := normalize(`I could not find any facts.`)
		Expect(err).To(MatchError(extraction.ErrUnexpectedShape))
	})
})

func escape(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '"' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
