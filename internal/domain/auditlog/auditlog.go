// Package auditlog models the append-only history kept on every trip request.
//
// Entries are never rewritten. The "latest value" of a facet (admin comment,
// clarification question, ...) is derived by scanning for the most recent entry
// of the matching type.
package auditlog

import (
	"encoding/json"
	"strings"
	"time"
)

// EntryType classifies a log entry
type EntryType string

const (
	TypeRequestCreated        EntryType = "request-created"
	TypeComment               EntryType = "comment"
	TypeClarificationQuestion EntryType = "clarification-question"
	TypeClarificationAnswer   EntryType = "clarification-answer"
	TypeDecision              EntryType = "decision"
	TypeEditSummary           EntryType = "edit-summary"
	TypeAdminComment          EntryType = "admin-comment"
	TypeCompleted             EntryType = "completed"
	TypeNotificationError     EntryType = "notification-error"
)

var validTypes = map[EntryType]bool{
	TypeRequestCreated:        true,
	TypeComment:               true,
	TypeClarificationQuestion: true,
	TypeClarificationAnswer:   true,
	TypeDecision:              true,
	TypeEditSummary:           true,
	TypeAdminComment:          true,
	TypeCompleted:             true,
	TypeNotificationError:     true,
}

// IsValid returns true if the type is one of the defined constants
func (t EntryType) IsValid() bool {
	return validTypes[t]
}

func (t EntryType) String() string {
	return string(t)
}

// Entry is a single immutable log record
type Entry struct {
	Type      EntryType `json:"type"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Timestamp time.Time `json:"date"`
	Text      string    `json:"text"`
}

// NewEntry builds an entry with trimmed text
func NewEntry(entryType EntryType, userID, userName, text string, at time.Time) Entry {
	return Entry{
		Type:      entryType,
		UserID:    userID,
		UserName:  userName,
		Timestamp: at,
		Text:      strings.TrimSpace(text),
	}
}

// Log is an ordered, append-only sequence of entries
type Log []Entry

// Append returns a new log with the entries added at the end.
// The receiver's backing array is never shared with the result.
func (l Log) Append(entries ...Entry) Log {
	out := make(Log, 0, len(l)+len(entries))
	out = append(out, l...)
	return append(out, entries...)
}

// Last returns the most recent entry of the given type
func (l Log) Last(entryType EntryType) (Entry, bool) {
	for i := len(l) - 1; i >= 0; i-- {
		if l[i].Type == entryType {
			return l[i], true
		}
	}
	return Entry{}, false
}

// LastText returns the text of the most recent entry of the given type, or ""
func (l Log) LastText(entryType EntryType) string {
	if e, ok := l.Last(entryType); ok {
		return e.Text
	}
	return ""
}

// OpenQuestion returns the latest clarification question that has not been
// answered yet.
func (l Log) OpenQuestion() (Entry, bool) {
	for i := len(l) - 1; i >= 0; i-- {
		switch l[i].Type {
		case TypeClarificationAnswer:
			return Entry{}, false
		case TypeClarificationQuestion:
			return l[i], true
		}
	}
	return Entry{}, false
}

// Facets holds the latest value of each derived projection
type Facets struct {
	EditSummary     string `json:"editSummary"`
	AdminComment    string `json:"adminComment"`
	UserComment     string `json:"userComment"`
	ClarifyQuestion string `json:"clarifyQuestion"`
	ClarifyAnswer   string `json:"clarifyAnswer"`
}

// Facets derives the latest-value projections in a single pass
func (l Log) Facets() Facets {
	return Facets{
		EditSummary:     l.LastText(TypeEditSummary),
		AdminComment:    l.LastText(TypeAdminComment),
		UserComment:     l.LastText(TypeComment),
		ClarifyQuestion: l.LastText(TypeClarificationQuestion),
		ClarifyAnswer:   l.LastText(TypeClarificationAnswer),
	}
}

// Marshal encodes the log as a JSON array
func (l Log) Marshal() (string, error) {
	if l == nil {
		l = Log{}
	}
	data, err := json.Marshal(l)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Parse decodes a JSON array of entries. Malformed input yields an empty log.
func Parse(raw string) Log {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Log{}
	}
	var l Log
	if err := json.Unmarshal([]byte(raw), &l); err != nil {
		return Log{}
	}
	return l
}
