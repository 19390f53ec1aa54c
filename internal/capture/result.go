package capture

import "fmt"

// Result is the outcome of one capture attempt.
type Result int

const (
	// ResultSuccess comes with a valid frame.
	ResultSuccess Result = iota
	// ResultErrorTemporary means this attempt failed but later ones may
	// succeed, e.g. during a display mode change.
	ResultErrorTemporary
	// ResultErrorPermanent means the backend cannot continue.
	ResultErrorPermanent
	// ResultErrorUserStopped means the user ended the capture through the
	// platform's own UI.
	ResultErrorUserStopped
)

// normalize maps codes a backend should never produce to
// ResultErrorPermanent.
func (r Result) normalize() Result {
	if r < ResultSuccess || r > ResultErrorUserStopped {
		return ResultErrorPermanent
	}
	return r
}

// Terminal reports whether the result ends the capture run.
func (r Result) Terminal() bool {
	return r == ResultErrorPermanent || r == ResultErrorUserStopped
}

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultErrorTemporary:
		return "error-temporary"
	case ResultErrorPermanent:
		return "error-permanent"
	case ResultErrorUserStopped:
		return "error-user-stopped"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}
