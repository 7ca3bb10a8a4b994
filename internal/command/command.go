// Package command classifies spoken utterances into the fixed action
// vocabulary used by the guided checklist and inventory walks.
package command

import (
	"strings"
	"unicode"
)

// Action is the classified intent of one utterance
type Action string

const (
	AnswerYes       Action = "answer_yes"
	AnswerNo        Action = "answer_no"
	AnswerSkip      Action = "answer_skip"
	AnswerNA        Action = "answer_na"
	AnswerAttention Action = "answer_attention"
	Next            Action = "next"
	Previous        Action = "previous"
	Repeat          Action = "repeat"
	Stop            Action = "stop"
	AddNote         Action = "add_note"
	TakePhoto       Action = "take_photo"
	Quantity        Action = "quantity"
	Unknown         Action = "unknown"
)

// Command is one interpreted utterance
type Command struct {
	Text     string  `json:"text"`
	Action   Action  `json:"action"`
	Quantity float64 `json:"quantity,omitempty"` // set only for Quantity
}

// rule maps a set of keyword phrases to an action
type rule struct {
	action  Action
	phrases []string
}

// Checked top to bottom: answers, then navigation, then meta-actions.
var auditRules = []rule{
	{AnswerYes, []string{"yes", "yeah", "yep", "pass", "passed", "confirmed", "check", "checked", "correct", "ok", "okay"}},
	{AnswerNo, []string{"no", "nope", "fail", "failed", "bad", "issue"}},
	{AnswerAttention, []string{"attention", "warning", "flag"}},
	{AnswerSkip, []string{"skip"}},
	{AnswerNA, []string{"na", "n a", "not applicable"}},
	{Next, []string{"next", "next question", "continue", "go on"}},
	{Previous, []string{"previous", "back", "go back", "last question"}},
	{Repeat, []string{"repeat", "say again", "what"}},
	{Stop, []string{"stop", "pause", "quit", "exit", "cancel"}},
	{AddNote, []string{"note", "add note", "comment"}},
	{TakePhoto, []string{"photo", "camera", "picture", "image"}},
}

var inventoryRules = []rule{
	{Stop, []string{"stop", "pause", "quit", "exit"}},
	{Next, []string{"next", "skip", "pass"}},
	{Previous, []string{"previous", "back"}},
	{Repeat, []string{"repeat", "again", "what"}},
	{TakePhoto, []string{"scan", "photo", "camera", "picture"}},
}

// Parse classifies a checklist answer. It never fails: anything that
// matches no keyword is Unknown.
func Parse(transcript string) Command {
	text := normalize(transcript)
	words := strings.Fields(text)

	if action, ok := match(auditRules, words); ok {
		return Command{Text: text, Action: action}
	}
	return Command{Text: text, Action: Unknown}
}

// ParseInventory classifies an utterance made while counting stock.
// Navigation words win over numbers so "skip two" skips.
func ParseInventory(transcript string) Command {
	text := normalize(transcript)
	words := strings.Fields(text)

	if action, ok := match(inventoryRules, words); ok {
		return Command{Text: text, Action: action}
	}
	if qty, ok := ParseQuantity(text); ok {
		return Command{Text: text, Action: Quantity, Quantity: qty}
	}
	return Command{Text: text, Action: Unknown}
}

func match(rules []rule, words []string) (Action, bool) {
	for _, r := range rules {
		for _, phrase := range r.phrases {
			if containsPhrase(words, strings.Fields(phrase)) {
				return r.action, true
			}
		}
	}
	return "", false
}

// containsPhrase reports whether phrase occurs as a contiguous run of whole words
func containsPhrase(words, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(words) {
		return false
	}
outer:
	for i := 0; i+len(phrase) <= len(words); i++ {
		for j, p := range phrase {
			if words[i+j] != p {
				continue outer
			}
		}
		return true
	}
	return false
}

// normalize lower-cases and trims the transcript and turns punctuation into
// spaces, keeping decimal points between digits.
func normalize(transcript string) string {
	text := strings.ToLower(strings.TrimSpace(transcript))
	runes := []rune(text)

	var b strings.Builder
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '.' && i > 0 && i+1 < len(runes) && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]):
			b.WriteRune(r)
		case r == '\'':
			// "don't" stays one word
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
