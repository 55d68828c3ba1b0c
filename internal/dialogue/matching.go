// Package dialogue implements the dialogue engine core: keyword and answer
// matching, action-chain construction, schedule time arithmetic and
// proportional bucket selection.
//
// The functions here are pure: they read model documents and produce action
// sequences or times; all persistence happens in the worker.
package dialogue

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/texttochange/vusion-backend-sub000/internal/models"
	"github.com/texttochange/vusion-backend-sub000/internal/util"
)

// MatchResult is the outcome of resolving a reply against an interaction.
type MatchResult struct {
	// Matched reports whether the reply resolved to an accepted answer.
	Matched bool
	// MatchingAnswer is the canonical answer value recorded in history.
	MatchingAnswer string
	// Answer is the matched closed-question answer, when any.
	Answer *models.Answer
	// AnswerKeyword is the matched answer-keyword, when any.
	AnswerKeyword *models.AnswerKeyword
}

// Keywords returns every keyword the interaction answers to, normalized:
// the bare aliases, and for answer-accept-no-space questions every
// keyword+choice and keyword+index concatenation.
func Keywords(i *models.Interaction) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(k string) {
		k = util.NormalizeText(k)
		k = strings.ReplaceAll(k, " ", "")
		if k != "" && !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	switch i.TypeInteraction {
	case models.InteractionQuestionAnswer:
		for _, alias := range i.KeywordAliases() {
			add(alias)
			if i.SetAnswerAcceptNoSpace {
				for idx, answer := range i.Answers {
					add(alias + answer.Choice)
					add(alias + strconv.Itoa(idx+1))
				}
			}
		}
	case models.InteractionQuestionAnswerKeyword:
		for _, ak := range i.AnswerKeywords {
			for _, alias := range models.SplitKeywords(ak.Keyword) {
				add(alias)
			}
		}
	}
	return out
}

// DialogueKeywords returns the keywords of every interaction of an activated
// dialogue, used for dispatcher registration.
func DialogueKeywords(d *models.Dialogue) []string {
	var out []string
	seen := make(map[string]bool)
	for idx := range d.Interactions {
		for _, k := range Keywords(&d.Interactions[idx]) {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}

// GetMatchingInteraction scans a dialogue's interactions for the one that
// answers to the inbound message's first word. Keyword matching is case-
// and diacritic-insensitive and treats newline and space alike.
func GetMatchingInteraction(d *models.Dialogue, message string) *models.Interaction {
	first := util.FirstWord(message)
	if first == "" {
		return nil
	}
	for idx := range d.Interactions {
		i := &d.Interactions[idx]
		if !i.IsQuestion() {
			continue
		}
		for _, k := range Keywords(i) {
			if k == first {
				return i
			}
		}
	}
	return nil
}

// GetMatchingAnswer resolves a reply against an interaction's answers.
//
// For closed questions the resolution order is: no-space concatenations when
// the interaction allows them, then a prefix match of the reply remainder
// against each choice, then the remainder's first token as a 1-based index.
// For open questions the answer is everything after the keyword; an empty
// remainder counts as unmatched.
func GetMatchingAnswer(i *models.Interaction, message string) MatchResult {
	switch i.TypeInteraction {
	case models.InteractionQuestionAnswerKeyword:
		return matchAnswerKeyword(i, message)
	case models.InteractionQuestionAnswer:
		if len(i.Answers) == 0 {
			return matchOpenQuestion(message)
		}
		return matchClosedQuestion(i, message)
	}
	return MatchResult{}
}

func matchAnswerKeyword(i *models.Interaction, message string) MatchResult {
	first := util.FirstWord(message)
	for idx := range i.AnswerKeywords {
		ak := &i.AnswerKeywords[idx]
		for _, alias := range models.SplitKeywords(ak.Keyword) {
			if util.NormalizeText(alias) == first {
				return MatchResult{Matched: true, MatchingAnswer: first, AnswerKeyword: ak}
			}
		}
	}
	return MatchResult{}
}

func matchOpenQuestion(message string) MatchResult {
	rest := util.AfterFirstWord(message)
	if rest == "" {
		return MatchResult{}
	}
	return MatchResult{Matched: true, MatchingAnswer: rest}
}

func matchClosedQuestion(i *models.Interaction, message string) MatchResult {
	if i.SetAnswerAcceptNoSpace {
		if res, ok := matchNoSpace(i, message); ok {
			return res
		}
	}
	rest := util.AfterFirstWord(message)
	if rest == "" {
		return MatchResult{}
	}
	// Prefix match of the remainder against each choice, word boundary
	// after the choice so "ok" does not swallow "okay".
	for idx := range i.Answers {
		a := &i.Answers[idx]
		choice := util.NormalizeText(a.Choice)
		if choice == "" {
			continue
		}
		pattern := "^" + regexp.QuoteMeta(choice) + `(\s|$)`
		if matched, err := regexp.MatchString(pattern, rest); err == nil && matched {
			return MatchResult{Matched: true, MatchingAnswer: a.Choice, Answer: a}
		}
	}
	// 1-based index fallback; out-of-range or non-numeric means no match.
	token := strings.Fields(rest)[0]
	if n, err := strconv.Atoi(token); err == nil {
		if n >= 1 && n <= len(i.Answers) {
			a := &i.Answers[n-1]
			return MatchResult{Matched: true, MatchingAnswer: a.Choice, Answer: a}
		}
	}
	return MatchResult{}
}

// matchNoSpace tries the concatenated forms: keyword+choice with internal
// spaces removed, and keyword+index.
func matchNoSpace(i *models.Interaction, message string) (MatchResult, bool) {
	compact := strings.ReplaceAll(util.NormalizeText(message), " ", "")
	for _, alias := range i.KeywordAliases() {
		prefix := strings.ReplaceAll(util.NormalizeText(alias), " ", "")
		for idx := range i.Answers {
			a := &i.Answers[idx]
			choice := strings.ReplaceAll(util.NormalizeText(a.Choice), " ", "")
			if compact == prefix+choice || compact == prefix+strconv.Itoa(idx+1) {
				return MatchResult{Matched: true, MatchingAnswer: a.Choice, Answer: a}, true
			}
		}
	}
	return MatchResult{}, false
}

// MatchesRequest reports whether an inbound message matches a request's
// keywords. Keyword-only requests refuse messages carrying content after
// the keyword.
func MatchesRequest(r *models.Request, message string) bool {
	first := util.FirstWord(message)
	if first == "" {
		return false
	}
	for _, alias := range r.KeywordAliases() {
		if util.NormalizeText(alias) != first {
			continue
		}
		if r.SetNoRequestMatchingTryKeywordOnly && util.AfterFirstWord(message) != "" {
			return false
		}
		return true
	}
	return false
}

// RequestID returns the identity used in request-history back-references.
func RequestID(r *models.Request) string {
	if !r.ID.IsZero() {
		return r.ID.Hex()
	}
	return fmt.Sprintf("keyword:%s", util.NormalizeText(r.Keyword))
}
