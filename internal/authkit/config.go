package authkit

// Redirects holds the application paths the auth flows navigate between.
// Snapshot once at construction; never mutated afterward.
type Redirects struct {
	SignIn      string
	SignUp      string
	SignOut     string
	AfterSignIn string
	AfterSignUp string
}

// DefaultRedirects returns the conventional path set.
func DefaultRedirects() Redirects {
	return Redirects{
		SignIn:      "/auth/sign-in",
		SignUp:      "/auth/sign-up",
		SignOut:     "/",
		AfterSignIn: "/dashboard",
		AfterSignUp: "/dashboard",
	}
}

// Merge fills empty fields from the defaults.
func (redirects Redirects) Merge() Redirects {
	defaults := DefaultRedirects()
	if redirects.SignIn == "" {
		redirects.SignIn = defaults.SignIn
	}
	if redirects.SignUp == "" {
		redirects.SignUp = defaults.SignUp
	}
	if redirects.SignOut == "" {
		redirects.SignOut = defaults.SignOut
	}
	if redirects.AfterSignIn == "" {
		redirects.AfterSignIn = defaults.AfterSignIn
	}
	if redirects.AfterSignUp == "" {
		redirects.AfterSignUp = defaults.AfterSignUp
	}
	return redirects
}
