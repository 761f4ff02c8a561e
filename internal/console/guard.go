package console

// Decision is the outcome of the navigation guard.
type Decision struct {
	Allow    bool
	Redirect string
}

// Guard decides whether a navigation to route may proceed given the current
// session identity. It is a pure function of its inputs.
func Guard(route Route, username string, authenticated bool) Decision {
	if route.RequireAuth && (!authenticated || username == "") {
		return Decision{Redirect: LoginPath}
	}
	return Decision{Allow: true}
}
