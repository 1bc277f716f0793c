package decision

import (
	"encoding/json"
	"strings"
)

// Extractor mines decision statements out of raw agent output. Implementations
// return records with Text populated; the caller fills in the agent id before
// appending them to a log.
type Extractor interface {
	Extract(output string) []Record
}

// indicators are the phrases that mark a line as a likely decision statement.
type keywordSet []string

var defaultIndicators = keywordSet{
	"decided", "chose", "chosen", "using", "created", "implemented",
	"will use", "went with", "selected", "picked", "recommend",
	"should use", "best approach", "opted for", "settled on",
	"design direction", "final design", "winning concept",
}

const (
	// minDecisionLen and maxDecisionLen bound accepted line lengths,
	// exclusive on both ends. Shorter lines carry no substance; longer
	// ones are prose dumps, not statements.
	minDecisionLen = 20
	maxDecisionLen = 300

	// maxDecisions caps how many records one output can produce.
	maxDecisions = 15
)

// KeywordExtractor scans output line by line for indicator phrases. It is
// deliberately dumb: no NLP, just the phrases agents actually use when they
// commit to something. Agent output wrapped in Claude's JSON content-array
// envelope is unwrapped first.
type KeywordExtractor struct {
	indicators keywordSet
}

// NewKeywordExtractor returns an extractor with the default indicator set.
func NewKeywordExtractor() *KeywordExtractor {
	return &KeywordExtractor{indicators: defaultIndicators}
}

// Extract implements Extractor.
func (e *KeywordExtractor) Extract(output string) []Record {
	text := unwrapContent(output)
	if text == "" {
		return nil
	}

	var records []Record
	for _, line := range strings.Split(text, "\n") {
		if len(line) <= minDecisionLen || len(line) >= maxDecisionLen {
			continue
		}
		lower := strings.ToLower(line)
		for _, indicator := range e.indicators {
			if strings.Contains(lower, indicator) {
				records = append(records, Record{
					Text: strings.TrimSpace(line),
					Type: TypeOther,
				})
				break
			}
		}
		if len(records) == maxDecisions {
			break
		}
	}
	return records
}

// unwrapContent pulls plain text out of Claude's response envelope: either a
// content array of {"type":"text","text":...} blocks or a bare {"text":...}
// object. Anything that doesn't parse as JSON is returned as-is.
func unwrapContent(output string) string {
	if output == "" {
		return ""
	}

	var envelope struct {
		Content json.RawMessage `json:"content"`
		Text    string          `json:"text"`
	}
	if err := json.Unmarshal([]byte(output), &envelope); err != nil {
		return output
	}

	if len(envelope.Content) > 0 {
		var blocks []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(envelope.Content, &blocks); err == nil {
			var texts []string
			for _, b := range blocks {
				if b.Type == "text" {
					texts = append(texts, b.Text)
				}
			}
			return strings.Join(texts, "\n")
		}
	}
	if envelope.Text != "" {
		return envelope.Text
	}
	return output
}
