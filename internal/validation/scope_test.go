package validation

import "testing"

func TestValidScopeToken(t *testing.T) {
	valid := []string{
		"openid",
		"offline_access",
		"User.Read",
		"chat:write",
		"https://graph.microsoft.com/.default",
	}
	for _, s := range valid {
		if !ValidScopeToken(s) {
			t.Errorf("ValidScopeToken(%q) = false, want true", s)
		}
	}

	invalid := []string{
		"",
		"openid email",
		"con\"comilla",
		"back\\slash",
		"acento-é",
		"tab\tscope",
	}
	for _, s := range invalid {
		if ValidScopeToken(s) {
			t.Errorf("ValidScopeToken(%q) = true, want false", s)
		}
	}
}
