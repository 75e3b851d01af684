package session

import (
	"time"
)

// touchLocked records activity and re-arms the idle timer while unlocked.
// c.mu must be held.
func (c *Controller) touchLocked() {
	c.lastActivity = time.Now()
	if c.autoLock <= 0 || c.state != StateUnlocked {
		return
	}
	c.stopTimerLocked()
	c.timerSeq++
	seq := c.timerSeq
	c.timer = time.AfterFunc(c.autoLock, func() { c.idleExpired(seq) })
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// idleExpired locks the session unless activity or a lock superseded seq.
// An intent in flight postpones the lock by another full period.
func (c *Controller) idleExpired(seq uint64) {
	c.mu.Lock()
	if seq != c.timerSeq || c.state != StateUnlocked {
		c.mu.Unlock()
		return
	}
	if c.busy {
		c.touchLocked()
		c.mu.Unlock()
		return
	}
	idle := time.Since(c.lastActivity)
	c.gen++
	c.lockLocked()
	c.unlockAndEmit()
	c.log.Info("session auto-locked", "idle", idle.Round(time.Second).String())
	c.record(IntentLock, nil)
}
