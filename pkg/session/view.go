package session

// Existence is whether a vault is known to exist.
type Existence int

const (
	ExistenceUnknown Existence = iota
	ExistenceAbsent
	ExistencePresent
)

func (e Existence) String() string {
	switch e {
	case ExistenceAbsent:
		return "absent"
	case ExistencePresent:
		return "present"
	default:
		return "unknown"
	}
}

// State is the lock state of the session.
type State int

const (
	StateLocked State = iota
	StateUnlocking
	StateUnlocked
)

func (s State) String() string {
	switch s {
	case StateUnlocking:
		return "unlocking"
	case StateUnlocked:
		return "unlocked"
	default:
		return "locked"
	}
}

// SelectionView is the presentation copy of the selected entry. It does not
// hold the secret; Secret reads it from the controller.
type SelectionView struct {
	Service  string
	Username string
	Notes    *string
	Revealed bool

	secret func() (string, bool)
}

// Secret returns the selected secret while this entry is still the
// selection and is revealed. It reports false once the selection changes,
// the secret is masked again or the session locks, even for views kept from
// before. The returned string should not be retained.
func (s *SelectionView) Secret() (string, bool) {
	if s == nil || s.secret == nil {
		return "", false
	}
	return s.secret()
}

// View is an immutable snapshot of the controller. It never carries the
// master credential.
type View struct {
	Existence Existence
	State     State
	// Services is the cached set after Filter, sorted case-insensitively.
	Services []string
	// Total is the size of the cached set before filtering.
	Total     int
	Filter    string
	Selection *SelectionView
	Busy      bool
	// Pending names the in-flight intent while Busy.
	Pending   string
	LastError *Error
}
