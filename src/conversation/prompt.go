package conversation

import (
	"fmt"
	"strings"
)

const ownerPlaceholder = "{{owner}}"

// DefaultSystemPrompt instructs the model to screen calls and end each
// routing reply with a command token on its own line.
const DefaultSystemPrompt = `You are a professional receptionist for {{owner}}'s office. Your job is to:
1. Screen calls politely and professionally
2. Identify if callers are legitimate or spam/scam
3. For legitimate callers: collect their name and reason for calling, then offer to forward them to {{owner}} or book a follow-up meeting
4. For suspicious calls (robocalls, scammers, telemarketers): politely end the call
5. Keep responses brief and natural, this is a phone conversation

CALL ROUTING RULES:
- Car warranty, IRS, Microsoft support, computer virus, student loans, credit card debt, free vacation, prize winner, "this is your final notice": SPAM
- Callers who are rude, aggressive, or won't identify themselves: SPAM
- Callers who ask for {{owner}} by name, have legitimate business, or seem genuine: LEGITIMATE

RESPONSE FORMAT:
After your spoken response, add at most ONE of these commands on a new line:
- Legitimate caller who wants to talk to {{owner}} now: FORWARD_CALL
- Legitimate caller who would rather schedule a meeting: BOOK_MEETING
- Spam or scam caller: END_CALL

Example spam response:
"I'm sorry, but that sounds like a spam call. I need to end this call now. Goodbye.
END_CALL"

Example legitimate response:
"Thank you Jordan. Let me connect you right away.
FORWARD_CALL"`

// DefaultGreeting is spoken when the media stream starts.
const DefaultGreeting = "Hi, you've reached the office of {{owner}}. How can I help you today?"

// RenderPrompt substitutes the owner's name into a prompt template.
func RenderPrompt(template, owner string) string {
	if owner == "" {
		owner = "the owner"
	}
	return strings.ReplaceAll(template, ownerPlaceholder, owner)
}

// BookingConfirmation is the second utterance spoken after BOOK_MEETING.
// booking is embedded verbatim. The conflict sentence is only added when
// currentEvent is non-empty.
func BookingConfirmation(owner, currentEvent, booking string) string {
	var b strings.Builder
	if currentEvent != "" {
		fmt.Fprintf(&b, "%s is busy right now with %s. ", ownerOrDefault(owner), currentEvent)
	}
	fmt.Fprintf(&b, "I've set up a follow-up meeting. %s. Thanks for calling, goodbye.", booking)
	return b.String()
}

func ownerOrDefault(owner string) string {
	if owner == "" {
		return "They"
	}
	return owner
}
