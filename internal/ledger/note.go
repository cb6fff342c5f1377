package ledger

import "encoding/json"

type categoryNote struct {
	Cat string `json:"cat"`
}

// CategoryNote encodes the note attached to every spend, e.g. {"cat":"food"}.
func CategoryNote(category string) []byte {
	b, _ := json.Marshal(categoryNote{Cat: category})
	return b
}

// NoteCategory extracts the "cat" field of a note. ok is false for notes
// that are empty, not JSON objects, or carry no string "cat" field.
func NoteCategory(note []byte) (string, bool) {
	if len(note) == 0 {
		return "", false
	}
	var n categoryNote
	if err := json.Unmarshal(note, &n); err != nil || n.Cat == "" {
		return "", false
	}
	return n.Cat, true
}
