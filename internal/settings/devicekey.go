package settings

import "github.com/google/uuid"

// KeyDeviceKey is the settings key for the generated device serial sent in
// login payloads. Providers tie device registrations to it, so it must stay
// stable once issued.
const KeyDeviceKey = "_devicekey"

// EnsureDeviceKey returns the stored device key, generating and persisting a
// new one on first run.
func EnsureDeviceKey(s *Store) (string, error) {
	if key := s.Get(KeyDeviceKey); key != "" {
		return key, nil
	}
	key := uuid.NewString()
	if err := s.Set(KeyDeviceKey, key); err != nil {
		return "", err
	}
	return key, nil
}
