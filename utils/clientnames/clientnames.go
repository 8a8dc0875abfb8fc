package clientnames

import "strings"

// FromUserAgent extracts a short client name from a user-agent string,
// keeping only the first token and bounding its length so the value is
// safe to use as a log field or metric label.
func FromUserAgent(userAgent string) string {
	clientName, _, _ := strings.Cut(userAgent, " ")
	if len(clientName) > 32 {
		clientName = clientName[:32]
	}
	return clientName
}
