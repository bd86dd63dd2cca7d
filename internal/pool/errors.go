package pool

// unknownProfileError signals a request for an engine profile that is not
// configured. Never synthesizes a default.
type unknownProfileError struct{ name string }

func (e unknownProfileError) Error() string { return "unknown engine profile: " + e.name }

// IsUnknownProfile reports whether err indicates an unconfigured profile.
func IsUnknownProfile(err error) bool {
	_, ok := err.(unknownProfileError)
	return ok
}

// atCapacityError signals that the live-instance limit has been reached.
// Callers report a pending count to the client in this case.
type atCapacityError struct{}

func (atCapacityError) Error() string { return "engine pool at capacity" }

// IsAtCapacity reports whether err indicates admission denial by capacity.
func IsAtCapacity(err error) bool {
	_, ok := err.(atCapacityError)
	return ok
}
