package enrich

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/chakssp/vcia-dhl-sub005/engine/domain"
)

// maxKeywords is how many keywords are kept.
const maxKeywords = 10

var (
	positiveWords = wordSet("good", "great", "excellent", "success", "successful", "improve", "improved",
		"solved", "works", "clear", "effective", "benefit", "positive", "happy", "win",
		"bom", "ótimo", "excelente", "sucesso", "melhoria", "resolvido", "funciona", "eficaz", "positivo")
	negativeWords = wordSet("bad", "fail", "failed", "failure", "error", "problem", "issue", "broken",
		"bug", "wrong", "slow", "risk", "negative", "confusing", "blocked",
		"ruim", "falha", "erro", "problema", "quebrado", "lento", "risco", "negativo", "bloqueado")

	decisiveTerms = []string{"decided", "decision", "we chose", "concluded", "agreed", "final answer",
		"decidimos", "decisão", "escolhemos", "concluímos", "definimos"}
	breakthroughTerms = []string{"breakthrough", "insight", "discovered", "realized", "eureka", "finally solved",
		"descoberta", "descobrimos", "percebi", "solução encontrada"}

	advancedTerms = []string{"architecture", "algorithm", "optimization", "distributed", "concurrency",
		"latency", "throughput", "scalability", "embedding", "vector", "kubernetes", "consensus",
		"arquitetura", "algoritmo", "otimização", "distribuído", "concorrência"}
	intermediateTerms = []string{"implementation", "configuration", "deploy", "integration", "api",
		"database", "framework", "pipeline", "query", "schema",
		"implementação", "configuração", "integração", "banco de dados"}

	questionMarkers = []struct {
		kind    string
		markers []string
	}{
		{"how-to", []string{"how ", "como "}},
		{"explanation", []string{"why ", "por que", "porque "}},
		{"definition", []string{"what ", "o que "}},
		{"temporal", []string{"when ", "quando "}},
		{"location", []string{"where ", "onde "}},
		{"comparison", []string{"which ", "qual ", "quais "}},
	}

	codeRe   = regexp.MustCompile("```|\\bfunc\\s+\\w+\\(|\\bfunction\\s*\\w*\\(|\\bdef\\s+\\w+\\(|=>|\\bclass\\s+\\w+|\\w+\\([^)]*\\)\\s*\\{")
	actionRe = regexp.MustCompile(`(?i)\bTODO\b|- \[ \]|action items?|next steps|follow[- ]up|próximos passos|a fazer`)
)

func wordSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Keywords returns the ten most frequent words longer than four characters.
// Ties keep first-seen order.
func Keywords(text string) []string {
	counts := make(map[string]int)
	var order []string
	for _, w := range words(text) {
		if utf8.RuneCountInString(w) <= 4 {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > maxKeywords {
		order = order[:maxKeywords]
	}
	return order
}

// Sentiment classifies text as positive, negative or neutral by lexicon hits.
func Sentiment(text string) string {
	pos, neg := 0, 0
	for _, w := range words(text) {
		if _, ok := positiveWords[w]; ok {
			pos++
		}
		if _, ok := negativeWords[w]; ok {
			neg++
		}
	}
	switch {
	case pos > neg:
		return "positive"
	case neg > pos:
		return "negative"
	}
	return "neutral"
}

func containsAny(lower string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

func countAny(lower string, terms []string) int {
	n := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			n++
		}
	}
	return n
}

// DecisiveMoment reports whether text records a decision.
func DecisiveMoment(text string) bool { return containsAny(strings.ToLower(text), decisiveTerms) }

// Breakthrough reports whether text records a discovery.
func Breakthrough(text string) bool { return containsAny(strings.ToLower(text), breakthroughTerms) }

// ExpertiseLevel is advanced, intermediate or beginner by vocabulary tier.
func ExpertiseLevel(text string) string {
	lower := strings.ToLower(text)
	adv := countAny(lower, advancedTerms)
	mid := countAny(lower, intermediateTerms)
	switch {
	case adv >= 2:
		return "advanced"
	case adv == 1 || mid >= 2:
		return "intermediate"
	}
	return "beginner"
}

// QuestionTypes tags the interrogative forms present in text. A bare
// question mark with no known marker is "open".
func QuestionTypes(text string) []string {
	lower := " " + strings.ToLower(text)
	var out []string
	for _, q := range questionMarkers {
		for _, m := range q.markers {
			if strings.Contains(lower, " "+m) {
				out = append(out, q.kind)
				break
			}
		}
	}
	if len(out) == 0 && strings.Contains(text, "?") {
		out = append(out, "open")
	}
	return out
}

// HasCodeExamples reports code-like fragments.
func HasCodeExamples(text string) bool { return codeRe.MatchString(text) }

// HasActionItems reports task markers.
func HasActionItems(text string) bool { return actionRe.MatchString(text) }

// ConfidenceComposite scores 0-100 from analysis markers on the payload:
// analyzed, approved and categories give 20 each, relevance above 70 gives
// 20, preview and analysisType 10 each.
func ConfidenceComposite(p domain.Payload) int {
	score := 0
	if p.Analyzed != nil && *p.Analyzed {
		score += 20
	}
	if p.Approved != nil && *p.Approved {
		score += 20
	}
	if len(p.Categories) > 0 {
		score += 20
	}
	if p.RelevanceScore != nil && *p.RelevanceScore > 70 {
		score += 20
	}
	if strings.TrimSpace(p.Preview) != "" {
		score += 10
	}
	if strings.TrimSpace(p.AnalysisType) != "" {
		score += 10
	}
	return score
}

// Generate computes heuristic values for the listed empty fields. Fields it
// has no heuristic for, relatedChunks included, are left out.
func Generate(p domain.Payload, empty []string) map[string]any {
	text := p.Content
	if text == "" {
		text = p.Preview
	}
	out := make(map[string]any, len(empty))
	for _, f := range empty {
		switch f {
		case domain.KeyKeywords:
			out[f] = toAny(Keywords(text))
		case domain.KeySentiment:
			out[f] = Sentiment(text)
		case domain.KeyDecisiveMoment:
			out[f] = DecisiveMoment(text)
		case domain.KeyBreakthrough:
			out[f] = Breakthrough(text)
		case domain.KeyConfidenceScore:
			out[f] = int64(ConfidenceComposite(p))
		case domain.KeyExpertiseLevel:
			out[f] = ExpertiseLevel(text)
		case domain.KeyQuestionTypes:
			out[f] = toAny(QuestionTypes(text))
		case domain.KeyHasCodeExamples:
			out[f] = HasCodeExamples(text)
		case domain.KeyHasActionItems:
			out[f] = HasActionItems(text)
		}
	}
	return out
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
