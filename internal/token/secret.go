package token

import "log/slog"

const redacted = "[REDACTED]"

type secretProvider interface {
	Get() []byte
}

// SecretString is a static signing secret. It prints and logs as a placeholder.
type SecretString struct {
	secret []byte
}

func NewSecretString(secret string) *SecretString {
	return &SecretString{secret: []byte(secret)}
}

func (s *SecretString) Get() []byte {
	return s.secret
}

func (s *SecretString) String() string   { return redacted }
func (s *SecretString) GoString() string { return redacted }

func (s *SecretString) LogValue() slog.Value {
	return slog.StringValue(redacted)
}
