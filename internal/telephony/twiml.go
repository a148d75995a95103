package telephony

import (
	"encoding/xml"
	"fmt"
	"strings"
)

const xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>`

// voiceStreamTwiML tells the carrier to connect the call's audio to the
// given WebSocket endpoint.
func voiceStreamTwiML(streamURL string) string {
	return fmt.Sprintf(`%s<Response><Connect><Stream url="%s"/></Connect></Response>`,
		xmlHeader, escapeXML(streamURL))
}

// smsTwiML wraps a reply body for the carrier to deliver.
func smsTwiML(body string) string {
	return fmt.Sprintf(`%s<Response><Message>%s</Message></Response>`,
		xmlHeader, escapeXML(body))
}

// escapeXML escapes s for use as XML character data or an attribute value.
func escapeXML(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
