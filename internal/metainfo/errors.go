package metainfo

import "fmt"

// InvalidContentError is returned when a link or payload does not describe a torrent.
type InvalidContentError struct {
	Source string // The link or "metainfo" for raw payloads
	Reason string // Human-readable explanation of why the content is invalid
	Err    error  // Underlying error, if any
}

func (e *InvalidContentError) Error() string {
	return fmt.Sprintf("invalid torrent content in %s: %s", e.Source, e.Reason)
}

func (e *InvalidContentError) Unwrap() error {
	return e.Err
}

// FetchError represents failures retrieving a .torrent file over HTTP.
type FetchError struct {
	URL        string
	StatusCode int // 0 for non-HTTP errors
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("failed to fetch %s (HTTP %d)", e.URL, e.StatusCode)
	}

	return fmt.Sprintf("failed to fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
