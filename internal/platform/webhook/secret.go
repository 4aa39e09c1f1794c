package webhook

import "crypto/subtle"

// SecretQueryParam is the query parameter consulted when the header is absent.
const SecretQueryParam = "secret"

// PresentedSecret returns the first non-empty secret among the header value,
// the query value and the body's secret field.
func PresentedSecret(header, query string, p *Payload) string {
	if header != "" {
		return header
	}
	if query != "" {
		return query
	}
	if p != nil {
		return p.Secret
	}
	return ""
}

// SecretMatches compares presented against expected in constant time. An
// empty expected secret disables the check.
func SecretMatches(expected, presented string) bool {
	if expected == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}
