package config

import "strings"

const redacted = "[REDACTED]"

// Secret holds a credential (API key, webhook URL, bot token). Every
// printing or marshaling path redacts it; Reveal is the only way to read it.
type Secret string

// Reveal returns the raw credential
func (s Secret) Reveal() string {
	return string(s)
}

// IsSet reports whether a non-blank credential is configured
func (s Secret) IsSet() bool {
	return strings.TrimSpace(string(s)) != ""
}

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) GoString() string {
	return `"` + s.String() + `"`
}

// MarshalYAML keeps credentials out of dumped configs
func (s Secret) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}
