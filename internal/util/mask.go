// Package util agrupa helpers chicos sin dependencias propias.
package util

import "strings"

// MaskEmail reduce un email a una forma apta para logs: conserva la primera
// letra del usuario y del dominio y enmascara el resto. Lo que no parece un
// email se trunca entero.
func MaskEmail(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	at := strings.IndexByte(s, '@')
	if at <= 0 {
		if len(s) <= 3 {
			return "***"
		}
		return s[:1] + "***" + s[len(s)-1:]
	}
	user, domain := s[:at], s[at+1:]
	if len(user) > 1 {
		user = user[:1] + "***"
	}
	if dot := strings.IndexByte(domain, '.'); dot > 1 {
		domain = domain[:1] + "***" + domain[dot:]
	}
	return user + "@" + domain
}
