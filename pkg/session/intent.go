package session

import (
	"context"
	"fmt"
)

// Intent is one of the closed set of requests a presentation layer may send
// to a Controller. Each has a direct method; Dispatch routes the value form.
type Intent interface {
	intentName() string
}

type (
	// CheckExistence asks the engine whether a vault exists.
	CheckExistence struct{}

	// CreateVault creates and unlocks a vault.
	CreateVault struct {
		Candidate    string
		Confirmation string
	}

	// Unlock verifies a master password and unlocks the session.
	Unlock struct {
		Candidate string
	}

	// RefreshServices reloads the cached service set.
	RefreshServices struct{}

	// SelectService fetches one entry and makes it the selection.
	SelectService struct {
		Name string
	}

	// AddService stores a new entry. Notes may be nil.
	AddService struct {
		Name     string
		Username string
		Secret   string
		Notes    *string
	}

	// DeleteService removes an entry the user has already confirmed.
	DeleteService struct {
		Name string
	}

	// ToggleReveal masks or unmasks the selected secret.
	ToggleReveal struct{}

	// Lock ends the session.
	Lock struct{}

	// Filter sets the search query.
	Filter struct {
		Query string
	}
)

func (CheckExistence) intentName() string  { return IntentCheckExistence }
func (CreateVault) intentName() string     { return IntentCreateVault }
func (Unlock) intentName() string          { return IntentUnlock }
func (RefreshServices) intentName() string { return IntentRefreshServices }
func (SelectService) intentName() string   { return IntentSelectService }
func (AddService) intentName() string      { return IntentAddService }
func (DeleteService) intentName() string   { return IntentDeleteService }
func (ToggleReveal) intentName() string    { return IntentToggleReveal }
func (Lock) intentName() string            { return IntentLock }
func (Filter) intentName() string          { return IntentFilter }

// IntentName returns the name used for in in errors, logs and metrics.
func IntentName(in Intent) string {
	return in.intentName()
}

// Dispatch applies in and returns the resulting view. The error is the same
// one the direct method would return and is also the view's LastError.
func (c *Controller) Dispatch(ctx context.Context, in Intent) (View, error) {
	var err error
	switch in := in.(type) {
	case CheckExistence:
		err = c.CheckExistence(ctx)
	case CreateVault:
		err = c.CreateVault(ctx, in.Candidate, in.Confirmation)
	case Unlock:
		err = c.Unlock(ctx, in.Candidate)
	case RefreshServices:
		err = c.RefreshServices(ctx)
	case SelectService:
		err = c.SelectService(ctx, in.Name)
	case AddService:
		err = c.AddService(ctx, in.Name, in.Username, in.Secret, in.Notes)
	case DeleteService:
		err = c.DeleteService(ctx, in.Name)
	case ToggleReveal:
		err = c.ToggleReveal()
	case Lock:
		c.Lock()
	case Filter:
		c.Filter(in.Query)
	default:
		panic(fmt.Sprintf("session: unhandled intent %T", in))
	}
	return c.View(), err
}
