package problem_test

import (
	"encoding/json"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/JohnPlummer/jp-go-aigen/problem"
)

var _ = Describe("ToProblem", func() {
	var (
		domain  *problem.Domain
		invalid *problem.Kind
	)

	BeforeEach(func() {
		domain = problem.NewRegistry("https://errors.test").MustDefineDomain("deck",
			problem.KindSpec{Name: "InvalidCard", Status: 422, Title: "deck.invalid_card"},
		)
		invalid = domain.Kind("InvalidCard")
	})

	It("builds the document from the kind and error", func() {
		err := invalid.New(
			problem.WithDetail("front is too long"),
			problem.WithField("field", "front"),
			problem.WithCause(errors.New("secret internal state")),
		)

		doc := problem.ToProblem(err, "/api/decks/7")
		Expect(doc).To(Equal(problem.Document{
			Type:     "https://errors.test/deck/invalid-card",
			Title:    "deck.invalid_card",
			Status:   422,
			Detail:   "front is too long",
			Instance: "/api/decks/7",
			Code:     "deck/invalid-card",
			Meta:     map[string]any{"field": "front"},
		}))
		Expect(doc.Code).To(Equal(err.Code()))
	})

	It("never serialises the cause", func() {
		err := invalid.New(problem.WithCause(errors.New("secret internal state")))

		data, marshalErr := json.Marshal(domain.ToProblem(err, ""))
		Expect(marshalErr).NotTo(HaveOccurred())

		var decoded map[string]any
		Expect(json.Unmarshal(data, &decoded)).To(Succeed())
		Expect(decoded).NotTo(HaveKey("cause"))
		Expect(string(data)).NotTo(ContainSubstring("secret internal state"))
		Expect(decoded).NotTo(HaveKey("detail"))
		Expect(decoded).NotTo(HaveKey("instance"))
		Expect(decoded).NotTo(HaveKey("meta"))
	})

	It("is deterministic apart from instance", func() {
		err := invalid.New(problem.WithDetail("d"), problem.WithField("n", 1))

		first := problem.ToProblem(err, "/a")
		second := problem.ToProblem(err, "/b")

		Expect(first.Instance).NotTo(Equal(second.Instance))
		second.Instance = first.Instance
		Expect(second).To(Equal(first))
	})

	It("does not share metadata with the error", func() {
		err := invalid.New(problem.WithField("n", 1))
		doc := problem.ToProblem(err, "")
		doc.Meta["n"] = 2
		Expect(err.Meta()).To(HaveKeyWithValue("n", 1))
	})

	It("maps nil to system/unexpected", func() {
		doc := problem.ToProblem(nil, "")
		Expect(doc.Code).To(Equal("system/unexpected"))
		Expect(doc.Status).To(Equal(500))
		Expect(doc.Type).To(Equal(problem.DefaultBaseURI + "/system/unexpected"))
	})
})
