package storage

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/square-key-labs/strawgo-screener/src/conversation"
)

const (
	unknownCaller = "Unknown Caller"
	unknownNumber = "Unknown Number"
	maxTopicLen   = 60
)

type keywordRule struct {
	re          *regexp.Regexp
	description string
}

func keywords(pairs ...string) []keywordRule {
	rules := make([]keywordRule, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		rules = append(rules, keywordRule{
			re:          regexp.MustCompile(`\b` + regexp.QuoteMeta(pairs[i]) + `\b`),
			description: pairs[i+1],
		})
	}
	return rules
}

func match(rules []keywordRule, text string) (string, bool) {
	for _, r := range rules {
		if r.re.MatchString(text) {
			return r.description, true
		}
	}
	return "", false
}

// keyword tables are checked in order; the first hit wins.
var spamTypes = keywords(
	"warranty", "Car warranty scam",
	"irs", "IRS scam call",
	"microsoft", "Tech support scam",
	"computer", "Tech support scam",
	"student loan", "Student loan scam",
	"credit card", "Credit card offer",
	"vacation", "Vacation scam",
	"prize", "Prize scam",
	"social security", "Social Security scam",
)

var topics = keywords(
	"hackathon", "Hackathon related inquiry",
	"project", "Project discussion",
	"meeting", "Meeting request",
	"interview", "Interview scheduled",
)

// CallSummary is what a finished session knows about its call.
type CallSummary struct {
	CallSID   string
	From      string
	History   []conversation.Turn
	Recording string
	Outcome   Outcome
	StartedAt time.Time
}

// Summarize builds the stored record for a finished call.
func Summarize(s CallSummary) *CallRecord {
	rec := &CallRecord{
		ID:         uuid.NewString(),
		CallSID:    s.CallSID,
		Number:     s.From,
		Name:       conversation.ExtractCallerName(s.History),
		Date:       s.StartedAt.UTC(),
		Unread:     true,
		Recording:  s.Recording,
		Outcome:    s.Outcome,
		Transcript: s.History,
	}
	if rec.Number == "" || strings.EqualFold(rec.Number, "unknown") {
		rec.Number = unknownNumber
	}
	if rec.Name == "" {
		rec.Name = unknownCaller
	}
	if rec.Date.IsZero() {
		rec.Date = time.Now().UTC()
	}

	after := afterGreeting(s.History)
	rec.Spam = isSpam(s.Outcome, after)
	rec.Description = describe(rec.Spam, after)
	return rec
}

// afterGreeting drops the agent's greeting that precedes the caller's
// first turn.
func afterGreeting(history []conversation.Turn) []conversation.Turn {
	for i, t := range history {
		if t.Speaker == conversation.SpeakerCaller {
			return history[i:]
		}
	}
	return nil
}

func firstReply(turns []conversation.Turn) string {
	for _, t := range turns {
		if t.Speaker == conversation.SpeakerBot {
			return t.Text
		}
	}
	return ""
}

func joined(turns []conversation.Turn) string {
	parts := make([]string, len(turns))
	for i, t := range turns {
		parts[i] = t.Text
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// isSpam trusts the agent's judgement: an ended call, or a reply that
// names spam or a scam.
func isSpam(outcome Outcome, turns []conversation.Turn) bool {
	if outcome == OutcomeEnded {
		return true
	}
	for _, t := range turns {
		if t.Speaker != conversation.SpeakerBot {
			continue
		}
		lower := strings.ToLower(t.Text)
		if strings.Contains(lower, "spam") || strings.Contains(lower, "scam") {
			return true
		}
	}
	return false
}

func describe(spam bool, turns []conversation.Turn) string {
	if spam {
		if d, ok := match(spamTypes, joined(turns)); ok {
			return d
		}
		return "Spam call"
	}

	// topic keywords come from the first exchange only
	first := strings.TrimSpace(conversation.StripCommands(firstReply(turns)))
	opening := strings.ToLower(first)
	if len(turns) > 0 {
		opening = strings.ToLower(turns[0].Text) + " " + opening
	}
	if d, ok := match(topics, opening); ok {
		return d
	}

	sentence, _, _ := strings.Cut(first, ".")
	sentence = strings.TrimSpace(sentence)
	if sentence == "" {
		return "No conversation"
	}
	if r := []rune(sentence); len(r) > maxTopicLen {
		sentence = string(r[:maxTopicLen]) + "..."
	}
	return sentence
}
