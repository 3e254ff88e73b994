package oauth

import (
	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// IDHint son los claims de identidad extraídos de un id_token SIN verificar
// firma. Sirven únicamente para enriquecer logs y auditoría; jamás para
// decisiones de autenticación.
type IDHint struct {
	Subject string
	Email   string
}

// PeekIDClaims decodifica los claims de un id_token sin validar la firma.
// Retorna zero value si el token no parsea.
func PeekIDClaims(idToken string) IDHint {
	if idToken == "" {
		return IDHint{}
	}
	parser := jwtv5.NewParser()
	claims := jwtv5.MapClaims{}
	if _, _, err := parser.ParseUnverified(idToken, claims); err != nil {
		return IDHint{}
	}
	var h IDHint
	if s, ok := claims["sub"].(string); ok {
		h.Subject = s
	}
	if s, ok := claims["email"].(string); ok {
		h.Email = s
	}
	return h
}
