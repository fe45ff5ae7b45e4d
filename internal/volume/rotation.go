package volume

import (
	"context"
	"crypto/subtle"
	"fmt"

	"SecureUSB/internal/errors"
	"SecureUSB/internal/log"

	"github.com/Picocrypt/zxcvbn-go"
)

// Strength returns the zxcvbn score (0-4) of passphrase.
func Strength(passphrase []byte) int {
	return zxcvbn.PasswordStrength(string(passphrase), nil).Score
}

// CheckPassphrase rejects a new passphrase that is empty, equal to old, or
// scores below minScore. old may be nil to skip the reuse check.
func CheckPassphrase(old, newPass []byte, minScore int) error {
	if len(newPass) == 0 {
		return errors.ErrPasswordEmpty
	}
	if old != nil && subtle.ConstantTimeCompare(old, newPass) == 1 {
		return errors.ErrPasswordReused
	}
	if minScore > 0 {
		if score := Strength(newPass); score < minScore {
			return fmt.Errorf("score %d below %d: %w", score, minScore, errors.ErrPasswordWeak)
		}
	}
	return nil
}

// VerifyPassphrase checks passphrase against the key slots without changing
// the state, so it can run while the volume is mounted. A rejected
// passphrase is an authentication error.
func (c *Controller) VerifyPassphrase(ctx context.Context, passphrase []byte) error {
	const op = "verify"
	if len(passphrase) == 0 {
		return c.fail(op, errors.ErrPasswordEmpty)
	}
	if err := c.backend.TestKey(ctx, c.cfg.Device, passphrase); err != nil {
		return c.fail(op, err)
	}
	return nil
}

// ChangePassphrase replaces the LUKS key slot opened by old with newPass.
// The volume must be Locked. The pre-check runs first so no other process
// holds the device; if it fails the result is a ConcurrentAccess error
// wrapping the cause. A rejected old passphrase is an authentication error.
// There is no rollback: once cryptsetup succeeds only newPass opens the slot.
func (c *Controller) ChangePassphrase(ctx context.Context, old, newPass []byte) error {
	const op = "rotate"
	if len(old) == 0 {
		return c.fail(op, errors.ErrPasswordEmpty)
	}
	if err := CheckPassphrase(old, newPass, c.minScore); err != nil {
		return c.fail(op, err)
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	if c.State() != Locked {
		return c.stateError(op)
	}

	if err := c.preCheck(ctx); err != nil {
		c.setState(Locked)
		c.logger.Warn("exclusive access not guaranteed", log.Op(op), log.Err(err))
		return errors.NewVolumeError(op, c.cfg.Device, errors.ErrConcurrentAccess, err)
	}

	err := c.backend.ChangeKey(ctx, c.cfg.Device, old, newPass)
	c.setState(Locked)
	if err != nil {
		return c.fail(op, err)
	}
	c.logger.Info("passphrase changed", log.Op(op))
	return nil
}
