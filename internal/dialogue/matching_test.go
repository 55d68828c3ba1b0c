package dialogue

import (
	"testing"

	"github.com/texttochange/vusion-backend-sub000/internal/models"
)

func feelInteraction() *models.Interaction {
	return &models.Interaction{
		InteractionID:   "i1",
		TypeInteraction: models.InteractionQuestionAnswer,
		Content:         "How do you feel?",
		TypeSchedule:    models.ScheduleTypeOffsetTime,
		OffsetTime:      "10",
		Keyword:         "FEEL, FEL",
		Answers: []models.Answer{
			{Choice: "Fine"},
			{Choice: "Ok"},
		},
		SetAnswerAcceptNoSpace: true,
	}
}

func feelDialogue() *models.Dialogue {
	return &models.Dialogue{
		Meta:         models.Meta{ObjectType: models.ObjectTypeDialogue, ModelVersion: models.DialogueModelVersion},
		DialogueID:   "d1",
		Name:         "mood",
		Activated:    true,
		Interactions: []models.Interaction{*feelInteraction()},
	}
}

func TestKeywordsExpandNoSpaceForms(t *testing.T) {
	keywords := Keywords(feelInteraction())
	want := map[string]bool{
		"feel": false, "fel": false,
		"feelfine": false, "feel1": false,
		"feelok": false, "feel2": false,
		"felfine": false, "fel1": false,
		"felok": false, "fel2": false,
	}
	for _, k := range keywords {
		if _, ok := want[k]; !ok {
			t.Errorf("Unexpected keyword %q", k)
			continue
		}
		want[k] = true
	}
	for k, seen := range want {
		if !seen {
			t.Errorf("Expected keyword %q to be generated", k)
		}
	}
}

func TestGetMatchingInteractionIsCaseAndDiacriticInsensitive(t *testing.T) {
	d := feelDialogue()
	for _, message := range []string{"FEEL fine", "feel fine", "Féél fine", "feel\nfine"} {
		if i := GetMatchingInteraction(d, message); i == nil {
			t.Errorf("Expected %q to match the feel interaction", message)
		}
	}
	if i := GetMatchingInteraction(d, "other fine"); i != nil {
		t.Error("Expected unrelated keyword not to match")
	}
}

func TestClosedQuestionMatching(t *testing.T) {
	i := feelInteraction()
	cases := []struct {
		message string
		matched bool
		answer  string
	}{
		{"feel fine", true, "Fine"},
		{"feel ok", true, "Ok"},
		{"feel 1", true, "Fine"},
		{"feel 2", true, "Ok"},
		{"feel1", true, "Fine"},
		{"feelok", true, "Ok"},
		{"FEEL FINE", true, "Fine"},
		{"feel 0", false, ""},
		{"feel 3", false, ""},
		{"feel something", false, ""},
		{"feel", false, ""},
	}
	for _, tc := range cases {
		res := GetMatchingAnswer(i, tc.message)
		if res.Matched != tc.matched {
			t.Errorf("%q: expected matched=%v, got %v", tc.message, tc.matched, res.Matched)
			continue
		}
		if res.Matched && res.MatchingAnswer != tc.answer {
			t.Errorf("%q: expected answer %q, got %q", tc.message, tc.answer, res.MatchingAnswer)
		}
	}
}

func TestClosedQuestionIndexOnlyAfterChoicePrefixFails(t *testing.T) {
	// "1" is not a choice prefix, so the index fallback resolves it.
	i := feelInteraction()
	res := GetMatchingAnswer(i, "feel 1")
	if !res.Matched || res.Answer == nil || res.Answer.Choice != "Fine" {
		t.Errorf("Expected index 1 to resolve to Fine, got %+v", res)
	}
}

func TestOpenQuestionTakesRemainder(t *testing.T) {
	i := &models.Interaction{
		InteractionID:   "i2",
		TypeInteraction: models.InteractionQuestionAnswer,
		TypeSchedule:    models.ScheduleTypeOffsetTime,
		OffsetTime:      "10",
		Keyword:         "name",
	}
	res := GetMatchingAnswer(i, "name john doe")
	if !res.Matched || res.MatchingAnswer != "john doe" {
		t.Errorf("Expected open answer 'john doe', got %+v", res)
	}
	if res := GetMatchingAnswer(i, "name"); res.Matched {
		t.Error("Expected bare keyword on open question to be unmatched")
	}
}

func TestAnswerKeywordMatching(t *testing.T) {
	i := &models.Interaction{
		InteractionID:   "i3",
		TypeInteraction: models.InteractionQuestionAnswerKeyword,
		TypeSchedule:    models.ScheduleTypeOffsetTime,
		OffsetTime:      "10",
		AnswerKeywords: []models.AnswerKeyword{
			{Keyword: "good, bien"},
			{Keyword: "bad"},
		},
	}
	res := GetMatchingAnswer(i, "BIEN merci")
	if !res.Matched || res.AnswerKeyword == nil || res.AnswerKeyword.Keyword != "good, bien" {
		t.Errorf("Expected alias bien to match first answer keyword, got %+v", res)
	}
	if res := GetMatchingAnswer(i, "meh"); res.Matched {
		t.Error("Expected unknown keyword to be unmatched")
	}
}

func TestMatchesRequestKeywordOnly(t *testing.T) {
	r := &models.Request{Keyword: "JOIN, START", SetNoRequestMatchingTryKeywordOnly: true}
	if !MatchesRequest(r, "join") {
		t.Error("Expected bare keyword to match")
	}
	if !MatchesRequest(r, "START") {
		t.Error("Expected alias to match case-insensitively")
	}
	if MatchesRequest(r, "join now") {
		t.Error("Expected keyword-only request to refuse trailing content")
	}
	r.SetNoRequestMatchingTryKeywordOnly = false
	if !MatchesRequest(r, "join now") {
		t.Error("Expected lazy request to accept trailing content")
	}
}
