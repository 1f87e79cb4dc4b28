package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"sort"
	"strings"
)

// TwiML is a minimal Twilio Markup Language response builder.
// It intentionally avoids any provider SDK dependency.
//
// Only include primitives we need at the adapter boundary.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlConnect struct {
	XMLName xml.Name    `xml:"Connect"`
	Stream  twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// RenderStreamTwiML answers a voice webhook with a bidirectional
// media-stream connection back to this process. Custom parameters are
// delivered inside the stream's start event.
func RenderStreamTwiML(streamURL string, params map[string]string) (string, error) {
	if strings.TrimSpace(streamURL) == "" {
		return "", errors.New("telephony: stream url required")
	}

	stream := twimlStream{URL: streamURL}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		stream.Parameters = append(stream.Parameters, twimlParameter{Name: k, Value: params[k]})
	}

	return render(twimlResponse{Verbs: []any{twimlConnect{Stream: stream}}})
}

// RenderHangupTwiML ends the call immediately.
func RenderHangupTwiML() (string, error) {
	return render(twimlResponse{Verbs: []any{twimlHangup{}}})
}

func render(r twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
