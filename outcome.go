package indieauth

// An Outcome is the single result of a call to Authenticate. It is one of
// Success, Fail, Error or Redirect.
type Outcome interface {
	Kind() string
}

// Success means the verify callback accepted the identity.
type Success struct {
	Me   string
	User any
	Info any
}

func (Success) Kind() string { return "success" }

// Fail means the request was refused, either because it was incomplete or
// because the verify callback returned no user.
type Fail struct {
	Message string
	Status  int
	Info    any
}

func (Fail) Kind() string { return "fail" }

// Error means a remote party, or the verify callback, failed.
type Error struct {
	Err error
}

func (Error) Kind() string { return "error" }

func (e Error) Error() string { return e.Err.Error() }

func (e Error) Unwrap() error { return e.Err }

// Redirect sends the user to their authorization endpoint.
type Redirect struct {
	URL    string
	Status int
}

func (Redirect) Kind() string { return "redirect" }
