package config

import zxcvbn "github.com/ccojocar/zxcvbn-go"

// Tokens scoring below this on the zxcvbn 0-4 scale get a startup warning.
const minTokenScore = 3

// IsWeakToken reports whether the admin token is easy to guess. An empty
// token means auth is disabled, which is warned about separately, so it
// does not count as weak here.
func IsWeakToken(token string) bool {
	if token == "" {
		return false
	}
	return zxcvbn.PasswordStrength(token, nil).Score < minTokenScore
}
