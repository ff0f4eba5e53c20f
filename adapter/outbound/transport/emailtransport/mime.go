package emailtransport

import (
	"encoding/base64"
	"fmt"
	"strings"
)

const protocolHeader = "X-Synapse-Protocol"

// buildMIME wraps payload as a minimal RFC 5322 message: the
// X-Synapse-Protocol marker header plus a base64 body.
func buildMIME(from, to string, payload []byte) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: synapse message\r\n")
	fmt.Fprintf(&b, "%s: 1\r\n", protocolHeader)
	fmt.Fprintf(&b, "Content-Type: text/plain; charset=utf-8\r\n")
	fmt.Fprintf(&b, "Content-Transfer-Encoding: base64\r\n")
	b.WriteString("\r\n")
	b.WriteString(base64.StdEncoding.EncodeToString(payload))
	b.WriteString("\r\n")
	return []byte(b.String())
}

// extractPayload finds the header/body split of a raw RFC 5322 message
// and base64-decodes the body, returning ok=false if the message does
// not carry the X-Synapse-Protocol header this transport looks for.
func extractPayload(raw string) (payload []byte, ok bool) {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	headerEnd := strings.Index(normalized, "\n\n")
	if headerEnd < 0 {
		return nil, false
	}
	headers := normalized[:headerEnd]
	body := normalized[headerEnd+2:]

	found := false
	for _, line := range strings.Split(headers, "\n") {
		if strings.HasPrefix(strings.ToLower(line), strings.ToLower(protocolHeader)+":") {
			found = true
			break
		}
	}
	if !found {
		return nil, false
	}

	body = strings.TrimSpace(body)
	body = strings.ReplaceAll(body, "\n", "")
	decoded, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, false
	}
	return decoded, true
}
