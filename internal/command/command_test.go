package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		transcript string
		want       Action
	}{
		{"Yes", AnswerYes},
		{"  OK, looks fine  ", AnswerYes},
		{"no", AnswerNo},
		{"no thanks, next", AnswerNo},
		{"that one failed", AnswerNo},
		{"flag it", AnswerAttention},
		{"skip", AnswerSkip},
		{"not applicable", AnswerNA},
		{"N/A", AnswerNA},
		{"next question", Next},
		{"go back", Previous},
		{"say again", Repeat},
		{"what?", Repeat},
		{"stop", Stop},
		{"pause for a second", Stop},
		{"add a note", AddNote},
		{"take a photo", TakePhoto},
		{"", Unknown},
		{"banana", Unknown},
		// whole words only
		{"nothing here", Unknown},
		{"knowledge", Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.transcript, func(t *testing.T) {
			got := Parse(tt.transcript)
			assert.Equal(t, tt.want, got.Action)
		})
	}
}

func TestParsePriority(t *testing.T) {
	// answers beat navigation, navigation beats meta-actions
	assert.Equal(t, AnswerYes, Parse("yes, next").Action)
	assert.Equal(t, AnswerSkip, Parse("skip and take a photo").Action)
	assert.Equal(t, Next, Parse("next, stop").Action)
	assert.Equal(t, Repeat, Parse("repeat the note").Action)
	// "pass" is always an answer, never a skip
	assert.Equal(t, AnswerYes, Parse("pass item").Action)
	assert.Equal(t, AnswerSkip, Parse("skip this item").Action)
}

func TestParseIsDeterministic(t *testing.T) {
	inputs := []string{"yes", "no thanks, next", "hmm", "ADD NOTE", "¿qué?", "3 bottles"}
	for _, in := range inputs {
		first := Parse(in)
		second := Parse(in)
		assert.Equal(t, first, second, in)
	}
}

func TestParseNormalizesText(t *testing.T) {
	cmd := Parse("  Yes!  Confirmed. ")
	assert.Equal(t, "yes confirmed", cmd.Text)
}

func TestParseInventory(t *testing.T) {
	tests := []struct {
		transcript string
		want       Action
		qty        float64
	}{
		{"stop", Stop, 0},
		{"skip two", Next, 0},
		{"pass", Next, 0},
		{"back", Previous, 0},
		{"say that again", Repeat, 0},
		{"scan the shelf", TakePhoto, 0},
		{"six", Quantity, 6},
		{"3 and a half", Quantity, 3.5},
		{"three and a half", Quantity, 3.5},
		{"hmm", Unknown, 0},
	}

	for _, tt := range tests {
		t.Run(tt.transcript, func(t *testing.T) {
			got := ParseInventory(tt.transcript)
			assert.Equal(t, tt.want, got.Action)
			assert.Equal(t, tt.qty, got.Quantity)
		})
	}
}
