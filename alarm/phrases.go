package alarm

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

//go:embed phrases.json
var phrasesJSON []byte

var defaultPhrases = mustParsePhrases(phrasesJSON)

// PhraseSet holds the vendor messages that signal one alarm class.
type PhraseSet struct {
	Alarm []string `json:"alarm"`
}

// PhraseTable maps the panel's free-text status messages to alarm
// classes. The embedded default covers the known phrases; load a
// replacement with ParsePhrases and WithPhrases when the vendor wording
// drifts.
type PhraseTable struct {
	Internal struct {
		Day   PhraseSet `json:"day"`
		Night PhraseSet `json:"night"`
		Total PhraseSet `json:"total"`
	} `json:"internal"`
	External PhraseSet `json:"external"`
}

// ParsePhrases loads a phrase table from its JSON form.
func ParsePhrases(data []byte) (*PhraseTable, error) {
	var t PhraseTable
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("alarm: parse phrase table: %w", err)
	}
	return &t, nil
}

func mustParsePhrases(data []byte) *PhraseTable {
	t, err := ParsePhrases(data)
	if err != nil {
		panic(err)
	}
	return t
}

// Match reports which alarm classes a panel message names. Matching is
// exact but case-insensitive; an empty or unknown message reads as no
// active alarm.
func (t *PhraseTable) Match(message string) Status {
	s := Status{Message: message, Timestamp: time.Now()}
	if message == "" {
		return s
	}

	s.Internal.Day = matchPhrase(t.Internal.Day.Alarm, message)
	s.Internal.Night = matchPhrase(t.Internal.Night.Alarm, message)
	s.Internal.Total = matchPhrase(t.Internal.Total.Alarm, message)
	s.External = matchPhrase(t.External.Alarm, message)
	return s
}

func matchPhrase(phrases []string, message string) bool {
	for _, p := range phrases {
		if strings.EqualFold(p, message) {
			return true
		}
	}
	return false
}
