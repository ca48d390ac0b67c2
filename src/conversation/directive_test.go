package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseExplicitToken(t *testing.T) {
	p := &DirectiveParser{Rules: DefaultRules("Kevin Peng")}

	d, spoken := p.Parse("Thank you.\nFORWARD_CALL", 1)
	assert.Equal(t, ActionForward, d.Action)
	assert.Equal(t, SourceToken, d.Source)
	assert.Equal(t, "Thank you.", spoken)
}

func TestParseTokenPrecedence(t *testing.T) {
	p := &DirectiveParser{Rules: DefaultRules("")}

	d, spoken := p.Parse("Sorry. END_CALL FORWARD_CALL", 3)
	assert.Equal(t, ActionForward, d.Action, "FORWARD_CALL is checked first")
	assert.Equal(t, "Sorry.", spoken)

	d, _ = p.Parse("Let me book that. BOOK_MEETING END_CALL", 3)
	assert.Equal(t, ActionEnd, d.Action)
}

func TestParseKeywordFallbackOrder(t *testing.T) {
	p := &DirectiveParser{Rules: DefaultRules("Kevin")}

	cases := []struct {
		reply string
		want  Action
		match string
	}{
		{"That sounds like a scam. I'll connect you to nobody.", ActionEnd, "scam"},
		{"Great, let me put you through.", ActionForward, "put you through"},
		{"Sure, let me get Kevin for you.", ActionForward, "let me get kevin"},
		{"Thanks for calling, goodbye!", ActionEnd, "goodbye"},
		{"Could you tell me your name?", ActionNone, ""},
	}
	for _, tc := range cases {
		d, _ := p.Parse(tc.reply, 5)
		assert.Equal(t, tc.want, d.Action, tc.reply)
		assert.Equal(t, tc.match, d.Match, tc.reply)
		if tc.want != ActionNone {
			assert.Equal(t, SourceKeyword, d.Source)
		}
	}
}

func TestParseSuppressesEarlyRouting(t *testing.T) {
	p := &DirectiveParser{Rules: DefaultRules(""), MinExchanges: 2}

	d, _ := p.Parse("Connecting you.\nFORWARD_CALL", 1)
	assert.Equal(t, ActionNone, d.Action)
	assert.True(t, d.Suppressed)
	assert.Equal(t, ActionForward, d.Requested)

	d, _ = p.Parse("Goodbye.", 0)
	assert.Equal(t, ActionNone, d.Action)
	assert.True(t, d.Suppressed)

	d, _ = p.Parse("Booking now.\nBOOK_MEETING", 0)
	assert.Equal(t, ActionBook, d.Action, "booking is never suppressed")
	assert.False(t, d.Suppressed)

	d, _ = p.Parse("Connecting you.\nFORWARD_CALL", 2)
	assert.Equal(t, ActionForward, d.Action)
}

func TestSpokenTextStripsStageDirections(t *testing.T) {
	assert.Equal(t, "Hello there. How can I help?",
		SpokenText("[warmly] Hello there. *pauses*\n How can I help?\nEND_CALL"))
	assert.Equal(t, "", SpokenText("FORWARD_CALL"))
}

func TestExtractCallerName(t *testing.T) {
	history := []Turn{
		{Speaker: SpeakerBot, Text: "Hello! This is the office of Kevin."},
		{Speaker: SpeakerCaller, Text: "Thank you Robert, I'm Jordan."},
		{Speaker: SpeakerBot, Text: "Thank you Jordan. Let me connect you."},
	}
	assert.Equal(t, "Jordan", ExtractCallerName(history))
	assert.Equal(t, "Sam", ExtractCallerName([]Turn{{Speaker: SpeakerBot, Text: "Hi Sam, what is this about?"}}))
	assert.Equal(t, "", ExtractCallerName([]Turn{{Speaker: SpeakerBot, Text: "Thanks for calling."}}))
}

func TestBookingConfirmationEmbedsResult(t *testing.T) {
	got := BookingConfirmation("Kevin", "", "Booked for Tomorrow at 2:00 PM")
	assert.Contains(t, got, "Booked for Tomorrow at 2:00 PM")
	assert.NotContains(t, got, "busy")

	got = BookingConfirmation("Kevin", "Team Meeting (until 3:30 PM)", "Booked for Monday at 9:00 AM")
	assert.Contains(t, got, "Kevin is busy right now with Team Meeting (until 3:30 PM).")
	assert.Contains(t, got, "Booked for Monday at 9:00 AM")
}

func TestRenderPrompt(t *testing.T) {
	assert.Equal(t, "Hi, you've reached the office of Ada. How can I help you today?", RenderPrompt(DefaultGreeting, "Ada"))
	assert.NotContains(t, RenderPrompt(DefaultSystemPrompt, "Ada"), "{{owner}}")
}
