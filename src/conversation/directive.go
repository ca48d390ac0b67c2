package conversation

import (
	"regexp"
	"strings"
)

// Action is the routing decision attached to a reply.
type Action int

const (
	ActionNone Action = iota
	ActionForward
	ActionEnd
	ActionBook
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionForward:
		return "forward"
	case ActionEnd:
		return "end"
	case ActionBook:
		return "book"
	default:
		return "unknown"
	}
}

// Source records how a directive was found.
type Source int

const (
	SourceNone Source = iota
	SourceToken
	SourceKeyword
)

func (s Source) String() string {
	switch s {
	case SourceToken:
		return "token"
	case SourceKeyword:
		return "keyword"
	default:
		return "none"
	}
}

// Directive is the parsed routing command of one reply.
type Directive struct {
	Action Action
	Source Source
	// Match is the token or keyword that selected Action.
	Match string
	// Suppressed is set when a FORWARD or END was found but dropped
	// because too few exchanges have completed.
	Suppressed bool
	// Requested is the action before suppression.
	Requested Action
}

// Explicit command tokens, in precedence order.
var commandTokens = []struct {
	token  string
	action Action
}{
	{"FORWARD_CALL", ActionForward},
	{"END_CALL", ActionEnd},
	{"BOOK_MEETING", ActionBook},
}

// Rule maps reply keywords to an action. Rules are evaluated in order and
// the first rule with a matching keyword wins.
type Rule struct {
	Action   Action
	Keywords []string
}

// DefaultRules returns the keyword fallback table. The end/spam rule is
// listed before the forward rule, so a reply matching both ends the call.
func DefaultRules(ownerName string) []Rule {
	forward := []string{
		"connect you", "forward", "transfer you", "put you through", "patch you through",
	}
	if first := strings.Fields(ownerName); len(first) > 0 {
		forward = append(forward, "let me get "+strings.ToLower(first[0]))
	}
	return []Rule{
		{
			Action: ActionEnd,
			Keywords: []string{
				"spam call", "spam", "scam", "end this call", "end the call",
				"cannot assist", "can't assist", "not legitimate", "suspicious",
				"telemarketer", "robocall", "goodbye",
			},
		},
		{Action: ActionForward, Keywords: forward},
	}
}

// DirectiveParser extracts routing commands from generated replies.
type DirectiveParser struct {
	Rules        []Rule
	MinExchanges int
}

var (
	bracketed       = regexp.MustCompile(`\[[^\]]*\]`)
	stageDirections = regexp.MustCompile(`\*[^*]*\*`)
	whitespace      = regexp.MustCompile(`\s+`)
)

// Parse returns the directive in reply and the text to speak.
// exchangeCount is the number of exchanges completed before this reply.
func (p *DirectiveParser) Parse(reply string, exchangeCount int) (Directive, string) {
	d := p.find(reply)
	d.Requested = d.Action

	if (d.Action == ActionForward || d.Action == ActionEnd) && exchangeCount < p.MinExchanges {
		d.Action = ActionNone
		d.Suppressed = true
	}

	return d, SpokenText(reply)
}

func (p *DirectiveParser) find(reply string) Directive {
	for _, ct := range commandTokens {
		if strings.Contains(reply, ct.token) {
			return Directive{Action: ct.action, Source: SourceToken, Match: ct.token}
		}
	}

	lower := strings.ToLower(StripCommands(reply))
	for _, rule := range p.Rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, kw) {
				return Directive{Action: rule.Action, Source: SourceKeyword, Match: kw}
			}
		}
	}
	return Directive{}
}

// StripCommands removes every command token from text.
func StripCommands(text string) string {
	for _, ct := range commandTokens {
		text = strings.ReplaceAll(text, ct.token, "")
	}
	return strings.TrimSpace(text)
}

// SpokenText removes command tokens, bracketed asides and *stage
// directions*, and collapses whitespace.
func SpokenText(text string) string {
	text = StripCommands(text)
	text = bracketed.ReplaceAllString(text, " ")
	text = stageDirections.ReplaceAllString(text, " ")
	return strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
}
