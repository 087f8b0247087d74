package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// TwiML verbs used by the voice, bridge and status webhooks.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlReject struct {
	XMLName xml.Name `xml:"Reject"`
	Reason  string   `xml:"reason,attr,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlDial struct {
	XMLName xml.Name `xml:"Dial"`
	// Timeout is how long the dialed party rings, in seconds.
	Timeout int `xml:"timeout,attr,omitempty"`
	// AnswerOnBridge keeps the caller hearing ringback until the SIP leg answers.
	AnswerOnBridge bool      `xml:"answerOnBridge,attr,omitempty"`
	Number         string    `xml:"Number,omitempty"`
	Sip            *twimlSip `xml:"Sip,omitempty"`
}

type twimlSip struct {
	URI string `xml:",chardata"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type twimlRecord struct {
	XMLName   xml.Name `xml:"Record"`
	MaxLength int      `xml:"maxLength,attr,omitempty"`
	PlayBeep  bool     `xml:"playBeep,attr"`
}

const (
	voicemailPrompt    = "The person you are calling is unavailable. Please leave a message after the tone."
	voicemailMaxLength = 120
	dialTimeoutSeconds = 30
)

var (
	errConnectTarget = errors.New("telephony: connect_to required for connect action")
	errUnknownAction = errors.New("telephony: unknown inbound action")
)

func dialVerb(target string) (twimlDial, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return twimlDial{}, errConnectTarget
	}
	d := twimlDial{Timeout: dialTimeoutSeconds}
	if strings.HasPrefix(strings.ToLower(target), "sip:") {
		d.Sip = &twimlSip{URI: target}
		d.AnswerOnBridge = true
		return d, nil
	}
	d.Number = target
	return d, nil
}

func verbsFor(res InboundCallResult) ([]any, error) {
	switch res.Action {
	case InboundCallActionReject:
		return []any{twimlReject{Reason: "busy"}}, nil
	case InboundCallActionHangup:
		return []any{twimlHangup{}}, nil
	case InboundCallActionVoicemail:
		return []any{
			twimlSay{Text: voicemailPrompt},
			twimlRecord{MaxLength: voicemailMaxLength, PlayBeep: true},
		}, nil
	case InboundCallActionConnect:
		d, err := dialVerb(res.ConnectTo)
		if err != nil {
			return nil, err
		}
		return []any{d}, nil
	default:
		return nil, errUnknownAction
	}
}

// RenderTwiML renders the response document for a routing result.
func RenderTwiML(res InboundCallResult) (string, error) {
	verbs, err := verbsFor(res)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(twimlResponse{Verbs: verbs}); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
