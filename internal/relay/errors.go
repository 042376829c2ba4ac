package relay

import "fmt"

// MessageURLRequired is returned to callers that submit a blank URL.
const MessageURLRequired = "URL is required"

// ValidationError indicates the caller supplied unusable input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// FetchError indicates the upstream page could not be retrieved.
type FetchError struct {
	URL string
	Err error
}

// Error renders the message shown to clients.
func (e *FetchError) Error() string {
	return fmt.Sprintf("Failed to fetch content: %v", e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
