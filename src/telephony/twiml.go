package telephony

import (
	"encoding/xml"
	"errors"
	"maps"
	"slices"
)

// ForwardTarget describes where a screened call is sent.
type ForwardTarget struct {
	Number         string
	CallerID       string // defaults to Number
	HoldMessage    string
	NoAnswer       string
	TimeoutSeconds int
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

type say struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type dial struct {
	XMLName  xml.Name `xml:"Dial"`
	Timeout  int      `xml:"timeout,attr,omitempty"`
	CallerID string   `xml:"callerId,attr,omitempty"`
	Number   string   `xml:"Number"`
}

type connect struct {
	XMLName xml.Name `xml:"Connect"`
	Stream  stream
}

type stream struct {
	XMLName    xml.Name    `xml:"Stream"`
	URL        string      `xml:"url,attr"`
	Parameters []parameter `xml:"Parameter"`
}

type parameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

func render(verbs ...any) (string, error) {
	out, err := xml.Marshal(twimlResponse{Verbs: verbs})
	if err != nil {
		return "", err
	}
	return xml.Header + string(out), nil
}

// TwiML renders the forward instructions: an optional hold message, the
// dial, and a message if nobody answers.
func (t ForwardTarget) TwiML() (string, error) {
	if t.Number == "" {
		return "", errors.New("telephony: forward number is required")
	}
	callerID := t.CallerID
	if callerID == "" {
		callerID = t.Number
	}
	timeout := t.TimeoutSeconds
	if timeout <= 0 {
		timeout = 30
	}

	var verbs []any
	if t.HoldMessage != "" {
		verbs = append(verbs, say{Text: t.HoldMessage})
	}
	verbs = append(verbs, dial{Timeout: timeout, CallerID: callerID, Number: t.Number})
	if t.NoAnswer != "" {
		verbs = append(verbs, say{Text: t.NoAnswer})
	}
	return render(verbs...)
}

// ConnectStreamTwiML answers an incoming call by opening a bidirectional
// media stream to streamURL. params are delivered in the start event's
// customParameters.
func ConnectStreamTwiML(streamURL string, params map[string]string) (string, error) {
	s := stream{URL: streamURL}
	for _, name := range slices.Sorted(maps.Keys(params)) {
		s.Parameters = append(s.Parameters, parameter{Name: name, Value: params[name]})
	}
	return render(connect{Stream: s})
}
