package vault

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

func (v *Vault) loadLockState() (*LockState, error) {
	data, err := os.ReadFile(filepath.Join(v.path, LockFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return &LockState{}, nil
		}
		return nil, fmt.Errorf("vault: failed to read lock state: %w", err)
	}

	var state LockState
	if err := json.Unmarshal(data, &state); err != nil {
		// Corrupted lock file resets the ladder.
		return &LockState{}, nil
	}
	return &state, nil
}

func (v *Vault) saveLockState(state *LockState) error {
	if err := v.checkDiskSpaceForWrite(1024); err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("vault: failed to marshal lock state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(v.path, LockFileName), data, FileMode); err != nil {
		return fmt.Errorf("vault: failed to write lock state: %w", err)
	}
	return nil
}

func (v *Vault) clearLockState() error {
	err := os.Remove(filepath.Join(v.path, LockFileName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("vault: failed to clear lock state: %w", err)
	}
	return nil
}

// checkCooldown returns the remaining wait and ErrCooldownActive while a
// cooldown is in effect.
func (v *Vault) checkCooldown() (time.Duration, error) {
	state, err := v.loadLockState()
	if err != nil {
		return 0, err
	}
	now := v.now()
	if !state.CooldownUntil.IsZero() && now.Before(state.CooldownUntil) {
		return state.CooldownUntil.Sub(now), ErrCooldownActive
	}
	return 0, nil
}

// recordFailedAttempt bumps the failure count and returns the cooldown it
// triggered, if any.
func (v *Vault) recordFailedAttempt() (time.Duration, error) {
	state, err := v.loadLockState()
	if err != nil {
		return 0, err
	}

	now := v.now()
	state.FailedAttempts++
	state.LastAttempt = now

	cooldown := cooldownFor(state.FailedAttempts)
	if cooldown > 0 {
		state.CooldownUntil = now.Add(cooldown)
	}

	if err := v.saveLockState(state); err != nil {
		return 0, err
	}
	return cooldown, nil
}

func cooldownFor(attempts int) time.Duration {
	switch {
	case attempts >= CooldownThreshold3:
		return CooldownDuration3
	case attempts >= CooldownThreshold2:
		return CooldownDuration2
	case attempts >= CooldownThreshold1:
		return CooldownDuration1
	}
	return 0
}

// RemainingCooldown returns how long until the next attempt is accepted.
func (v *Vault) RemainingCooldown() time.Duration {
	remaining, err := v.checkCooldown()
	if err != nil && remaining > 0 {
		return remaining
	}
	return 0
}
