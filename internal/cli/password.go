package cli

import (
	"fmt"

	"SecureUSB/internal/secret"
	"SecureUSB/internal/volume"
)

var strengthLabels = [...]string{"very weak", "weak", "fair", "strong", "very strong"}

// strengthHint describes the zxcvbn score of s. Only the score is shown.
func strengthHint(s *secret.Secret) string {
	score := 0
	_ = s.Use(func(b []byte) error {
		score = volume.Strength(b)
		return nil
	})
	return fmt.Sprintf("%s (%d/4)", strengthLabels[score], score)
}

// readRotation asks for the current and the new passphrase. The new one is
// confirmed, and its strength is reported before anything runs.
func (e *env) readRotation() (old, newPass *secret.Secret, err error) {
	old, err = e.passphrase("Current passphrase: ")
	if err != nil {
		return nil, nil, err
	}
	newPass, err = e.newPassphrase("New passphrase: ")
	if err != nil {
		old.Destroy()
		return nil, nil, err
	}
	e.out.PrintSuccess("New passphrase strength: %s", strengthHint(newPass))
	return old, newPass, nil
}
