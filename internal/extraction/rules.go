package extraction

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/engramdev/engram/pkg/types"
)

// Cue strength maps pattern classes to extraction confidence. Decisions
// stated outright score higher than soft preferences.
var (
	strongCues = regexp.MustCompile(`(?i)\b(decided|we will|must|always|never)\b`)
	softCues   = regexp.MustCompile(`(?i)\b(should|prefer|better to|works well)\b`)

	questionCue = regexp.MustCompile(`(?i)\b(what if|should we|could we|do we want)\b`)
	rejectCue   = regexp.MustCompile(`(?i)\brejected\s+(.+?)\s+because\s+(.+)$`)
	insteadCue  = regexp.MustCompile(`(?i)\binstead of\s+(.+?)(?:[,.]|$)`)
)

// RuleExtractor is the pattern-based extraction collaborator. It mirrors
// the heuristics the conversation logs were originally mined with: cue
// words mark decisions, questions open hypotheticals, and "rejected ...
// because ..." sentences record ruled-out options.
type RuleExtractor struct{}

// NewRuleExtractor creates a rule-based extractor.
func NewRuleExtractor() *RuleExtractor {
	return &RuleExtractor{}
}

// DeriveCandidates scans each record's text fields sentence by sentence.
// Principles extracted from the same record are linked with "supports"
// edges, preserving that they were stated together.
func (e *RuleExtractor) DeriveCandidates(_ context.Context, records []types.Record) ([]types.Candidate, error) {
	var out []types.Candidate
	now := time.Now().UTC()

	for _, rec := range records {
		sourceID := sectionID(rec.Section)
		var recordCands []types.Candidate

		for _, f := range rec.Fields {
			if !isTextField(f.Key) {
				continue
			}
			for _, sentence := range splitSentences(f.Value) {
				if c, ok := e.candidateFromSentence(sentence, sourceID, now); ok {
					recordCands = append(recordCands, c)
				}
			}
		}

		// Co-stated principles support each other.
		for i := 1; i < len(recordCands); i++ {
			prev := recordCands[i-1].Principle.ID
			cur := recordCands[i].Principle.ID
			if prev != "" && cur != "" {
				recordCands[i].Relationships = append(recordCands[i].Relationships, types.Relationship{
					From:   cur,
					To:     prev,
					Type:   "supports",
					Status: types.EdgeActive,
				})
			}
		}
		out = append(out, recordCands...)
	}
	return out, nil
}

func (e *RuleExtractor) candidateFromSentence(sentence, sourceID string, now time.Time) (types.Candidate, bool) {
	sentence = strings.TrimSpace(sentence)
	if len(sentence) < 8 {
		return types.Candidate{}, false
	}

	if m := rejectCue.FindStringSubmatch(sentence); m != nil {
		return types.Candidate{
			Principle: newPrinciple("avoid "+strings.TrimSpace(m[1]), 0.7, sourceID, now),
			Rejected: []types.RejectedAlternative{{
				ID:      uuid.NewString(),
				Option:  strings.TrimSpace(m[1]),
				Reason:  strings.TrimSpace(m[2]),
				Context: sourceID,
			}},
		}, true
	}

	if questionCue.MatchString(sentence) {
		hyp := types.Hypothetical{
			ID:       uuid.NewString(),
			Question: sentence,
			Status:   types.HypotheticalOpen,
		}
		if m := insteadCue.FindStringSubmatch(sentence); m != nil {
			hyp.Alternatives = append(hyp.Alternatives, types.Alternative{
				Option: strings.TrimSpace(m[1]),
				Status: types.AlternativePending,
			})
		}
		return types.Candidate{
			Principle:     newPrinciple("open question: "+sentence, 0.4, sourceID, now),
			Hypotheticals: []types.Hypothetical{hyp},
		}, true
	}

	if strongCues.MatchString(sentence) {
		return types.Candidate{Principle: newPrinciple(sentence, 0.8, sourceID, now)}, true
	}
	if softCues.MatchString(sentence) {
		return types.Candidate{Principle: newPrinciple(sentence, 0.6, sourceID, now)}, true
	}
	return types.Candidate{}, false
}

func newPrinciple(statement string, confidence float64, sourceID string, now time.Time) types.Principle {
	p := types.Principle{
		ID:         uuid.NewString(),
		Statement:  statement,
		Confidence: confidence,
		Status:     types.PrincipleActive,
		CreatedAt:  now,
	}
	if sourceID != "" {
		p.SourceRecordIDs = []string{sourceID}
	}
	return p
}

func sectionID(section string) string {
	if _, id, found := strings.Cut(section, ":"); found {
		return id
	}
	return ""
}

func isTextField(key string) bool {
	switch key {
	case "payload", "statement", "content", "text", "summary":
		return true
	}
	return false
}

func splitSentences(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
}
