package guide

import (
	"fmt"
	"strconv"
)

// Script holds everything the loop says out loud for one mode
type Script struct {
	Complete      string
	Stopped       string
	NoInput       string
	Unknown       string
	Repeating     string
	Skipping      string
	NotePrompt    string
	NoteSaved     string
	OpeningCamera string
	PhotoDone     string
	PhotoMissing  string
	Answers       map[Status]string
}

// AuditScript is used for checklists and audits
var AuditScript = Script{
	Complete:      "You have completed the audit. Finishing session now.",
	Stopped:       "Audit paused.",
	NoInput:       "I'm not hearing anything. Pausing the audit.",
	Unknown:       "I didn't catch that. Please say Yes, No, or Skip.",
	Repeating:     "Repeating.",
	Skipping:      "Skipping.",
	NotePrompt:    "Please dictate your note now.",
	NoteSaved:     "Note saved.",
	OpeningCamera: "Opening camera.",
	PhotoDone:     "Photo processed. Any issues were logged.",
	PhotoMissing:  "Photos are not available right now.",
	Answers: map[Status]string{
		StatusPass:           "Recorded pass. Next.",
		StatusFail:           "Recorded fail.",
		StatusSkipped:        "Skipping.",
		StatusNeedsAttention: "Flagged for attention.",
		StatusNA:             "Marked not applicable.",
	},
}

// InventoryScript is used for stock counts
var InventoryScript = Script{
	Complete:      "That was the last item. Inventory complete.",
	Stopped:       "Pausing inventory.",
	NoInput:       "I'm not hearing anything. Pausing inventory.",
	Unknown:       "I didn't catch a number. Say a quantity, skip, or scan.",
	Repeating:     "Repeating.",
	Skipping:      "Skipping.",
	NotePrompt:    "Please dictate your note now.",
	NoteSaved:     "Note saved.",
	OpeningCamera: "Opening camera.",
	PhotoDone:     "Photo processed.",
	PhotoMissing:  "Scanning is not available right now.",
	Answers:       map[Status]string{},
}

func scriptFor(mode Mode) Script {
	if mode == ModeInventory {
		return InventoryScript
	}
	return AuditScript
}

// prompt is spoken when an item comes up
func prompt(mode Mode, position int, item Item) string {
	var text string
	if mode == ModeInventory {
		text = fmt.Sprintf("Item %d: %s.", position+1, item.Text)
		if item.SizeML > 0 {
			text += fmt.Sprintf(" %d mil.", item.SizeML)
		}
		text += " How many?"
	} else {
		text = fmt.Sprintf("Item %d: %s. Say Yes, No, or Add Photo.", position+1, item.Text)
	}
	if item.Critical {
		text = "Critical item. " + text
	}
	return text
}

// quantityConfirmation is spoken after a count is recorded
func quantityConfirmation(item Item, qty float64) string {
	text := "Recorded " + formatQuantity(qty) + "."
	if item.ParLevel > 0 && qty < item.ParLevel {
		text += " Below par of " + formatQuantity(item.ParLevel) + "."
	}
	return text + " Next."
}

func formatQuantity(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
