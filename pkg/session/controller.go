// Package session is the vault session controller: the state machine that
// decides whether a vault exists, whether it is unlocked, which cached list of
// services and which selected secret are authoritative, and how intents are
// sequenced against the engine bridge.
//
// One intent runs at a time. An intent issued while another is waiting on
// the bridge is rejected with a KindBusy error, except Lock and Filter which
// never touch the bridge and are always accepted. Lock invalidates the
// in-flight intent: its result is discarded when the call returns and the
// caller receives a KindValidation error with RuleSessionChanged. The slot
// stays taken until that call returns. Existence is the exception: what the
// engine reports about the vault existing is kept even when the rest of the
// result is dropped.
//
// State changes only after a bridge call succeeds. Nothing is retried.
package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/cyfer/pkg/bridge"
	"github.com/forest6511/cyfer/pkg/security"
)

// Intent names, used in errors, logs and metrics.
const (
	IntentCheckExistence  = "checkExistence"
	IntentCreateVault     = "createVault"
	IntentUnlock          = "unlock"
	IntentRefreshServices = "refreshServices"
	IntentSelectService   = "selectService"
	IntentAddService      = "addService"
	IntentDeleteService   = "deleteService"
	IntentToggleReveal    = "toggleReveal"
	IntentLock            = "lock"
	IntentFilter          = "filter"
)

// Master password length bounds for createVault, counted in characters.
const (
	MinCredentialLength = security.MinPasswordLength
	MaxCredentialLength = security.MaxPasswordLength
)

// Options configures a Controller. The zero value is usable.
type Options struct {
	Logger logr.Logger
	// Registerer receives the controller metrics when set.
	Registerer prometheus.Registerer
	// AutoLock locks an unlocked session after this much inactivity.
	// Zero disables it.
	AutoLock time.Duration
}

// Controller owns one vault session. It is safe for concurrent use.
type Controller struct {
	bridge   bridge.Bridge
	log      logr.Logger
	metrics  *metrics
	autoLock time.Duration

	mu        sync.Mutex
	existence Existence
	state     State
	cred      *credential
	services  map[string]struct{}
	selection *heldBundle
	filter    string
	lastErr   *Error
	busy      bool
	pending   string
	// gen advances on every lock; results from an older gen are discarded.
	gen uint64

	lastActivity time.Time
	timer        *time.Timer
	timerSeq     uint64

	subs   []*subscriber
	nextID int
	// viewSeq numbers emitted views so subscribers can drop older ones.
	viewSeq uint64
}

// New returns a locked controller with unknown vault existence.
func New(b bridge.Bridge, opts Options) *Controller {
	log := opts.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	return &Controller{
		bridge:   b,
		log:      log,
		metrics:  newMetrics(opts.Registerer),
		autoLock: opts.AutoLock,
		services: map[string]struct{}{},
	}
}

// PasswordStrength estimates a candidate master password for the create
// screen. It does not affect createVault validation.
func PasswordStrength(candidate string) *security.Assessment {
	return security.Assess(candidate)
}

// View returns a snapshot of the current state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers fn to receive a View after every committed change.
// fn runs outside the controller lock and is never called concurrently with
// itself. Views arrive in commit order; a view superseded before fn could
// take it is skipped, so the last view fn sees is the current state.
func (c *Controller) Subscribe(fn func(View)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.subs = append(c.subs, &subscriber{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.subs {
			if s.id == id {
				c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

// CheckExistence asks the engine whether a vault exists. A failed check sets
// existence to absent while locked so the create path stays reachable.
func (c *Controller) CheckExistence(ctx context.Context) error {
	const intent = IntentCheckExistence
	gen, err := c.admit(intent, nil)
	if err != nil {
		return err
	}

	var exists bool
	callErr := c.timed(bridge.CallVaultExists, func() (e error) {
		exists, e = c.bridge.VaultExists(ctx)
		return e
	})

	return c.settleWith(intent, gen, true, func() {
		if callErr != nil {
			return
		}
		c.existence = ExistenceAbsent
		if exists {
			c.existence = ExistencePresent
		}
	}, func() *Error {
		if callErr != nil {
			if c.state == StateLocked {
				c.existence = ExistenceAbsent
			}
			return backendError(intent, callErr)
		}
		if !exists {
			c.lockLocked()
		}
		return nil
	})
}

// CreateVault creates a vault protected by candidate and unlocks it.
// Validation runs locally in order: empty, mismatch, too-short, too-long.
func (c *Controller) CreateVault(ctx context.Context, candidate, confirmation string) error {
	const intent = IntentCreateVault
	if verr := validateNewCredential(candidate, confirmation); verr != nil {
		return c.reject(intent, verr)
	}

	gen, err := c.admit(intent, func() *Error {
		if c.state != StateLocked {
			return validationError(intent, RuleUnlocked, "session is already unlocked")
		}
		c.state = StateUnlocking
		return nil
	})
	if err != nil {
		return err
	}

	callErr := c.timed(bridge.CallCreateVault, func() error {
		return c.bridge.CreateVault(ctx, candidate)
	})
	if callErr != nil {
		return c.settle(intent, gen, true, func() *Error {
			c.state = StateLocked
			return backendError(intent, callErr)
		})
	}

	// The vault exists now even if a lock superseded the intent; only the
	// session is dropped then.
	if err := c.settleWith(intent, gen, false, c.markPresentLocked, func() *Error {
		c.openSessionLocked(candidate)
		return nil
	}); err != nil {
		return err
	}
	return c.refresh(ctx, intent, gen)
}

func validateNewCredential(candidate, confirmation string) *Error {
	const intent = IntentCreateVault
	switch n := utf8.RuneCountInString(candidate); {
	case strings.TrimSpace(candidate) == "":
		return validationError(intent, RuleEmpty, "master password is required")
	case candidate != confirmation:
		return validationError(intent, RuleMismatch, "passwords do not match")
	case n < MinCredentialLength:
		return validationError(intent, RuleTooShort, "master password must be at least 8 characters")
	case n > MaxCredentialLength:
		return validationError(intent, RuleTooLong, "master password must be at most 128 characters")
	}
	return nil
}

// Unlock verifies candidate and, on success, unlocks and lists services.
// A wrong password is a KindInvalidCredential error, never KindBackend.
func (c *Controller) Unlock(ctx context.Context, candidate string) error {
	const intent = IntentUnlock
	if strings.TrimSpace(candidate) == "" {
		return c.reject(intent, validationError(intent, RuleEmpty, "master password is required"))
	}

	gen, err := c.admit(intent, func() *Error {
		if c.state != StateLocked {
			return validationError(intent, RuleUnlocked, "session is already unlocked")
		}
		c.state = StateUnlocking
		return nil
	})
	if err != nil {
		return err
	}

	var ok bool
	callErr := c.timed(bridge.CallVerifyCredential, func() (e error) {
		ok, e = c.bridge.VerifyCredential(ctx, candidate)
		return e
	})
	if callErr != nil || !ok {
		return c.settle(intent, gen, true, func() *Error {
			c.state = StateLocked
			if callErr != nil {
				return backendError(intent, callErr)
			}
			return invalidCredentialError(intent)
		})
	}

	if err := c.settleWith(intent, gen, false, c.markPresentLocked, func() *Error {
		c.openSessionLocked(candidate)
		return nil
	}); err != nil {
		return err
	}
	return c.refresh(ctx, intent, gen)
}

// RefreshServices replaces the cached service set with the engine's. On
// failure the previous set is kept.
func (c *Controller) RefreshServices(ctx context.Context) error {
	const intent = IntentRefreshServices
	gen, err := c.admit(intent, c.requireUnlocked(intent))
	if err != nil {
		return err
	}
	return c.refresh(ctx, intent, gen)
}

// refresh lists services as the final step of intent. The set is swapped
// whole or not at all.
func (c *Controller) refresh(ctx context.Context, intent string, gen uint64) error {
	cred := c.credentialFor(gen)
	if cred == nil {
		return c.settle(intent, gen, true, func() *Error {
			return validationError(intent, RuleLocked, "session is locked")
		})
	}

	var names []string
	callErr := c.timed(bridge.CallListEntries, func() error {
		return cred.use(func(pw string) (e error) {
			names, e = c.bridge.ListEntries(ctx, pw)
			return e
		})
	})

	return c.settle(intent, gen, true, func() *Error {
		if callErr != nil {
			return backendError(intent, callErr)
		}
		set := make(map[string]struct{}, len(names))
		for _, n := range names {
			set[n] = struct{}{}
		}
		c.services = set
		if c.selection != nil {
			if _, ok := set[c.selection.service]; !ok {
				c.clearSelectionLocked()
			}
		}
		return nil
	})
}

// SelectService fetches name's bundle and makes it the selection, masked.
// A failed fetch leaves the previous selection in place.
func (c *Controller) SelectService(ctx context.Context, name string) error {
	const intent = IntentSelectService
	gen, err := c.admit(intent, func() *Error {
		if c.state != StateUnlocked {
			return validationError(intent, RuleLocked, "session is locked")
		}
		if _, ok := c.services[name]; !ok {
			return validationError(intent, RuleUnknownService, "service is not in the vault")
		}
		return nil
	})
	if err != nil {
		return err
	}

	cred := c.credentialFor(gen)
	if cred == nil {
		return c.settle(intent, gen, true, nil)
	}

	var b bridge.SecretBundle
	callErr := c.timed(bridge.CallFetchEntry, func() error {
		return cred.use(func(pw string) (e error) {
			b, e = c.bridge.FetchEntry(ctx, pw, name)
			return e
		})
	})

	return c.settle(intent, gen, true, func() *Error {
		if callErr != nil {
			return backendError(intent, callErr)
		}
		c.clearSelectionLocked()
		c.selection = newHeldBundle(name, b)
		return nil
	})
}

// AddService stores a new entry, clears the selection and refreshes the set.
// Service and username are trimmed; notes are trimmed and dropped when empty.
func (c *Controller) AddService(ctx context.Context, name, username, secret string, notes *string) error {
	const intent = IntentAddService
	name = strings.TrimSpace(name)
	username = strings.TrimSpace(username)

	var trimmedNotes *string
	if notes != nil {
		if n := strings.TrimSpace(*notes); n != "" {
			trimmedNotes = &n
		}
	}

	gen, err := c.admit(intent, func() *Error {
		switch {
		case c.state != StateUnlocked:
			return validationError(intent, RuleLocked, "session is locked")
		case name == "":
			return validationError(intent, RuleService, "service name is required")
		case username == "":
			return validationError(intent, RuleUsername, "username is required")
		case strings.TrimSpace(secret) == "":
			return validationError(intent, RuleSecret, "secret is required")
		}
		if c.hasServiceLocked(name) {
			return validationError(intent, RuleDuplicate, "service already exists")
		}
		return nil
	})
	if err != nil {
		return err
	}

	cred := c.credentialFor(gen)
	if cred == nil {
		return c.settle(intent, gen, true, nil)
	}

	callErr := c.timed(bridge.CallAddEntry, func() error {
		return cred.use(func(pw string) error {
			return c.bridge.AddEntry(ctx, pw, name, bridge.SecretBundle{
				Username: username,
				Secret:   secret,
				Notes:    trimmedNotes,
			})
		})
	})
	if callErr != nil {
		return c.settle(intent, gen, true, func() *Error {
			return backendError(intent, callErr)
		})
	}

	if err := c.settle(intent, gen, false, func() *Error {
		c.clearSelectionLocked()
		return nil
	}); err != nil {
		return err
	}
	return c.refresh(ctx, intent, gen)
}

// DeleteService removes name. The caller is responsible for confirmation.
// On success the name is dropped from the cached set without a refresh.
func (c *Controller) DeleteService(ctx context.Context, name string) error {
	const intent = IntentDeleteService
	gen, err := c.admit(intent, func() *Error {
		if c.state != StateUnlocked {
			return validationError(intent, RuleLocked, "session is locked")
		}
		if _, ok := c.services[name]; !ok {
			return validationError(intent, RuleUnknownService, "service is not in the vault")
		}
		return nil
	})
	if err != nil {
		return err
	}

	cred := c.credentialFor(gen)
	if cred == nil {
		return c.settle(intent, gen, true, nil)
	}

	callErr := c.timed(bridge.CallDeleteEntry, func() error {
		return cred.use(func(pw string) error {
			return c.bridge.DeleteEntry(ctx, pw, name)
		})
	})

	return c.settle(intent, gen, true, func() *Error {
		if callErr != nil {
			return backendError(intent, callErr)
		}
		delete(c.services, name)
		if c.selection != nil && c.selection.service == name {
			c.clearSelectionLocked()
		}
		return nil
	})
}

// ToggleReveal flips whether the selected secret appears in views. It is a
// no-op without a selection and is rejected while an intent is in flight.
func (c *Controller) ToggleReveal() error {
	const intent = IntentToggleReveal
	c.mu.Lock()
	if c.busy {
		err := busyError(intent, c.pending)
		c.lastErr = err
		c.unlockAndEmit()
		c.record(intent, err)
		return err
	}
	if c.selection != nil {
		c.selection.revealed = !c.selection.revealed
	}
	c.touchLocked()
	c.unlockAndEmit()
	c.record(intent, nil)
	return nil
}

// Lock discards the credential, the cached services, the selection and the
// filter. It always succeeds and never calls the bridge.
func (c *Controller) Lock() {
	c.mu.Lock()
	c.gen++
	c.lockLocked()
	c.unlockAndEmit()
	c.record(IntentLock, nil)
}

// Filter sets the search query and returns the matching cached services.
// The cached set itself is not modified.
func (c *Controller) Filter(query string) []string {
	c.mu.Lock()
	c.filter = query
	result := FilterServices(c.serviceNamesLocked(), query)
	c.touchLocked()
	c.unlockAndEmit()
	c.record(IntentFilter, nil)
	return result
}

// admit reserves the in-flight slot for intent. guard runs under the lock
// and may reject the intent or adjust state before the bridge call.
func (c *Controller) admit(intent string, guard func() *Error) (uint64, error) {
	c.mu.Lock()
	if c.busy {
		err := busyError(intent, c.pending)
		c.lastErr = err
		c.unlockAndEmit()
		c.record(intent, err)
		return 0, err
	}
	if guard != nil {
		if err := guard(); err != nil {
			c.lastErr = err
			c.unlockAndEmit()
			c.record(intent, err)
			return 0, err
		}
	}
	c.busy = true
	c.pending = intent
	c.lastErr = nil
	c.touchLocked()
	gen := c.gen
	c.unlockAndEmit()
	return gen, nil
}

// settle applies fn if the session has not been locked since gen. The
// in-flight slot is released when last is set or the intent ends early.
func (c *Controller) settle(intent string, gen uint64, last bool, fn func() *Error) error {
	return c.settleWith(intent, gen, last, nil, fn)
}

// settleWith is settle with an extra step, durable, that runs even when gen
// is stale. It records facts about the engine that a lock does not undo.
func (c *Controller) settleWith(intent string, gen uint64, last bool, durable func(), fn func() *Error) error {
	c.mu.Lock()
	if durable != nil {
		durable()
	}
	var err *Error
	switch {
	case c.gen != gen:
		err = staleError(intent)
	case fn != nil:
		err = fn()
	}
	done := last || err != nil
	if done {
		c.busy = false
		c.pending = ""
	}
	if err != nil {
		c.lastErr = err
	} else {
		if done {
			// Busy rejections raised while the call was pending are stale now.
			c.lastErr = nil
		}
		c.touchLocked()
	}
	c.unlockAndEmit()

	if done {
		c.record(intent, err)
	}
	if err != nil {
		return err
	}
	return nil
}

// reject reports a failure detected before admission.
func (c *Controller) reject(intent string, err *Error) error {
	c.mu.Lock()
	c.lastErr = err
	c.unlockAndEmit()
	c.record(intent, err)
	return err
}

func (c *Controller) requireUnlocked(intent string) func() *Error {
	return func() *Error {
		if c.state != StateUnlocked {
			return validationError(intent, RuleLocked, "session is locked")
		}
		return nil
	}
}

// credentialFor returns the credential if the session is still gen.
func (c *Controller) credentialFor(gen uint64) *credential {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return nil
	}
	return c.cred
}

func (c *Controller) markPresentLocked() {
	c.existence = ExistencePresent
}

func (c *Controller) openSessionLocked(candidate string) {
	c.cred = newCredential(candidate)
	c.state = StateUnlocked
	c.services = map[string]struct{}{}
}

// lockLocked tears the session down. c.mu must be held.
func (c *Controller) lockLocked() {
	c.cred.wipe()
	c.cred = nil
	c.clearSelectionLocked()
	c.services = map[string]struct{}{}
	c.filter = ""
	c.lastErr = nil
	c.state = StateLocked
	c.stopTimerLocked()
}

func (c *Controller) clearSelectionLocked() {
	c.selection.wipe()
	c.selection = nil
}

// hasServiceLocked compares under NFC, matching how the engine stores names.
func (c *Controller) hasServiceLocked(name string) bool {
	if _, ok := c.services[name]; ok {
		return true
	}
	_, ok := c.services[norm.NFC.String(name)]
	return ok
}

func (c *Controller) serviceNamesLocked() []string {
	names := make([]string, 0, len(c.services))
	for n := range c.services {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (c *Controller) snapshotLocked() View {
	v := View{
		Existence: c.existence,
		State:     c.state,
		Services:  FilterServices(c.serviceNamesLocked(), c.filter),
		Total:     len(c.services),
		Filter:    c.filter,
		Busy:      c.busy,
		Pending:   c.pending,
		LastError: c.lastErr,
	}
	if c.selection != nil {
		v.Selection = c.selection.view(c.secretReader(c.selection))
	}
	return v
}

// secretReader returns the accessor behind SelectionView.Secret. It reads h
// only while h is still the selection and is revealed.
func (c *Controller) secretReader(h *heldBundle) func() (string, bool) {
	return func() (string, bool) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.selection != h {
			return "", false
		}
		return h.revealedSecret()
	}
}

// unlockAndEmit releases c.mu and delivers the new view to subscribers.
func (c *Controller) unlockAndEmit() {
	c.viewSeq++
	seq := c.viewSeq
	v := c.snapshotLocked()
	subs := append([]*subscriber(nil), c.subs...)
	c.mu.Unlock()
	for _, s := range subs {
		s.deliver(v, seq)
	}
}

func (c *Controller) timed(call string, fn func() error) error {
	start := time.Now()
	err := fn()
	c.metrics.call(call, start)
	return err
}

// record logs and counts a finished intent. Credentials and bundle fields
// are never logged.
func (c *Controller) record(intent string, err *Error) {
	if err == nil {
		c.metrics.intent(intent, nil)
		c.log.V(1).Info("intent", "intent", intent, "result", resultOK)
		return
	}
	c.metrics.intent(intent, err)
	c.log.V(1).Info("intent rejected", "intent", intent, "kind", err.Kind.String(), "rule", err.Rule, "code", err.Code)
}
