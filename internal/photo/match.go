package photo

import (
	"strings"

	"github.com/yegors/shiftcheck/internal/guide"
)

// MatchDetections counts detections against the session's items. Each
// detection adds one unit to the first item whose text contains the brand,
// whose size agrees when both sizes are known, and whose confidence clears
// minConfidence. Detections that match nothing are returned separately.
func MatchDetections(detections []Detection, items []guide.Item, minConfidence float64) (map[string]guide.Delta, []Detection) {
	counts := make(map[string]float64)
	var unmatched []Detection

	for _, det := range detections {
		id, ok := matchItem(det, items, minConfidence)
		if !ok {
			unmatched = append(unmatched, det)
			continue
		}
		counts[id]++
	}

	updates := make(map[string]guide.Delta, len(counts))
	for id, n := range counts {
		n := n
		updates[id] = guide.Delta{Quantity: &n}
	}
	return updates, unmatched
}

func matchItem(det Detection, items []guide.Item, minConfidence float64) (string, bool) {
	if det.Confidence < minConfidence {
		return "", false
	}
	brand := fold(det.Brand)
	if brand == "" || brand == "unknown" {
		return "", false
	}

	for _, item := range items {
		if !strings.Contains(fold(item.Text), brand) {
			continue
		}
		if det.SizeML > 0 && item.SizeML > 0 && det.SizeML != item.SizeML {
			continue
		}
		return item.ID, true
	}
	return "", false
}

// fold lower-cases and drops apostrophes so "Tito's" matches "titos"
func fold(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("'", "", "’", "").Replace(s)
}

// AuditDeltas turns the issues found on an audit item into an update for
// that item. No issues means no update.
func AuditDeltas(analysis *Analysis, item guide.Item) map[string]guide.Delta {
	updates := make(map[string]guide.Delta)
	if analysis == nil || len(analysis.Issues) == 0 {
		return updates
	}

	status := guide.StatusNeedsAttention
	if item.Critical {
		status = guide.StatusFail
	}
	for _, issue := range analysis.Issues {
		switch strings.ToLower(issue.Severity) {
		case "high", "critical":
			status = guide.StatusFail
		}
	}

	note := analysis.Summary
	if note == "" {
		note = analysis.Issues[0].Description
	}

	updates[item.ID] = guide.Delta{Status: status, Note: note}
	return updates
}
