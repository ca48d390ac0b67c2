package conversation

import (
	"strings"
	"time"
	"unicode"

	"github.com/square-key-labs/strawgo-screener/src/services"
)

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerCaller Speaker = "Caller"
	SpeakerBot    Speaker = "Bot"
)

// Turn is one entry of a call transcript. Transcripts are append-only.
type Turn struct {
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// Messages maps a transcript onto chat roles.
func Messages(history []Turn) []services.Message {
	msgs := make([]services.Message, 0, len(history))
	for _, t := range history {
		role := services.RoleUser
		if t.Speaker == SpeakerBot {
			role = services.RoleAssistant
		}
		msgs = append(msgs, services.Message{Role: role, Content: t.Text})
	}
	return msgs
}

var nameLeadIns = map[string]bool{"thank": true, "thanks": true, "hi": true, "hello": true}

var notNames = map[string]bool{
	"you": true, "for": true, "there": true, "again": true, "so": true,
	"this": true, "that": true, "it's": true, "i'm": true, "we": true,
	"my": true, "and": true, "sir": true, "ma'am": true,
}

// ExtractCallerName looks for the caller's name in the agent's own
// replies ("Thank you Jordan", "Hi Sam"). It returns "" if none is found.
func ExtractCallerName(history []Turn) string {
	for _, t := range history {
		if t.Speaker != SpeakerBot {
			continue
		}
		words := strings.Fields(t.Text)
		for i, w := range words {
			if !nameLeadIns[strings.ToLower(strings.Trim(w, ".,!?"))] || i+1 >= len(words) {
				continue
			}
			next := words[i+1]
			// "Thank you Jordan" puts the name after "you"
			if strings.EqualFold(strings.Trim(next, ".,!?"), "you") && i+2 < len(words) {
				next = words[i+2]
			}
			candidate := strings.Trim(next, ".,!?")
			if isName(candidate) {
				return candidate
			}
		}
	}
	return ""
}

func isName(s string) bool {
	if len(s) < 2 {
		return false
	}
	r := []rune(s)
	if !unicode.IsUpper(r[0]) {
		return false
	}
	for _, c := range r[1:] {
		if !unicode.IsLetter(c) && c != '-' && c != '\'' {
			return false
		}
	}
	return !notNames[strings.ToLower(s)]
}
