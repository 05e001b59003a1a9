package enrich

import (
	"reflect"
	"testing"

	"github.com/chakssp/vcia-dhl-sub005/engine/domain"
)

func TestKeywords(t *testing.T) {
	text := "Vector stores store vectors. Vector search needs vector indexes; indexes matter. tiny words only"
	got := Keywords(text)
	want := []string{"vector", "indexes", "stores", "store", "vectors", "search", "needs", "matter", "words"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestKeywordsCapsAtTen(t *testing.T) {
	text := "alpha1 alpha2 alpha3 alpha4 alpha5 alpha6 alpha7 alpha8 alpha9 alpha10 alpha11 alpha11"
	got := Keywords(text)
	if len(got) != 10 || got[0] != "alpha11" {
		t.Fatalf("got %v", got)
	}
}

func TestSentiment(t *testing.T) {
	tests := []struct{ text, want string }{
		{"The rollout was a great success and everything works", "positive"},
		{"Another failure: the build is broken and slow", "negative"},
		{"The meeting is on Tuesday", "neutral"},
		{"Foi um sucesso, resolvido", "positive"},
	}
	for _, tt := range tests {
		if got := Sentiment(tt.text); got != tt.want {
			t.Errorf("Sentiment(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestDecisiveAndBreakthrough(t *testing.T) {
	if !DecisiveMoment("After review we DECIDED to use Qdrant") || DecisiveMoment("just notes") {
		t.Fatal("decisive detection")
	}
	if !Breakthrough("The key insight came late") || Breakthrough("routine update") {
		t.Fatal("breakthrough detection")
	}
}

func TestExpertiseLevel(t *testing.T) {
	tests := []struct{ text, want string }{
		{"distributed consensus and latency budgets", "advanced"},
		{"the api talks to the database", "intermediate"},
		{"one vector", "intermediate"},
		{"a shopping list", "beginner"},
	}
	for _, tt := range tests {
		if got := ExpertiseLevel(tt.text); got != tt.want {
			t.Errorf("ExpertiseLevel(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestQuestionTypes(t *testing.T) {
	if got := QuestionTypes("How do we deploy? Why is it slow?"); !reflect.DeepEqual(got, []string{"how-to", "explanation"}) {
		t.Fatalf("got %v", got)
	}
	if got := QuestionTypes("Ready?"); !reflect.DeepEqual(got, []string{"open"}) {
		t.Fatalf("got %v", got)
	}
	if got := QuestionTypes("no questions here"); got != nil {
		t.Fatalf("got %v", got)
	}
}

func TestCodeAndActionItems(t *testing.T) {
	if !HasCodeExamples("see ```go\nfmt.Println()\n```") || !HasCodeExamples("func main() {}") {
		t.Fatal("code not detected")
	}
	if HasCodeExamples("plain prose") {
		t.Fatal("false code positive")
	}
	if !HasActionItems("Next steps: ship it") || !HasActionItems("- [ ] write tests") || HasActionItems("done") {
		t.Fatal("action items detection")
	}
}

func TestConfidenceComposite(t *testing.T) {
	yes := true
	rel := 80.0
	full := domain.Payload{Analyzed: &yes, Approved: &yes, Categories: []string{"x"}, RelevanceScore: &rel, Preview: "p", AnalysisType: "a"}
	if got := ConfidenceComposite(full); got != 100 {
		t.Fatalf("full = %d", got)
	}
	low := 50.0
	if got := ConfidenceComposite(domain.Payload{RelevanceScore: &low, Preview: "p"}); got != 10 {
		t.Fatalf("partial = %d", got)
	}
	if got := ConfidenceComposite(domain.Payload{}); got != 0 {
		t.Fatalf("empty = %d", got)
	}
}

func TestGenerateOnlyRequestedFields(t *testing.T) {
	p := domain.Payload{Content: "We decided on the architecture. How will it scale?"}
	got := Generate(p, []string{domain.KeyDecisiveMoment, domain.KeyQuestionTypes, domain.KeyRelatedChunks})
	if len(got) != 2 || got[domain.KeyDecisiveMoment] != true {
		t.Fatalf("got %v", got)
	}
	if !reflect.DeepEqual(got[domain.KeyQuestionTypes], []any{"how-to"}) {
		t.Fatalf("questionTypes = %v", got[domain.KeyQuestionTypes])
	}
}
