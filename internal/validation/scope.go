// Package validation valida valores que entran por configuración.
package validation

// ValidScopeToken reporta si s es un scope token OAuth válido según
// RFC 6749 §3.3: uno o más caracteres ASCII imprimibles, excluyendo
// espacio, comilla doble y backslash. Cubre formas como "offline_access",
// "User.Read" o "chat:write".
func ValidScopeToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c <= 0x20 || c > 0x7e || c == '"' || c == '\\' {
			return false
		}
	}
	return true
}
