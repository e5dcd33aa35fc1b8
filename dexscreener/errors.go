package dexscreener

import (
	"fmt"

	"dexwatch/models"
)

// Reason classifies why a fetch failed
type Reason int

const (
	Unreachable Reason = iota
	Timeout
	BadResponse
	ParseFailure
)

func (r Reason) String() string {
	switch r {
	case Unreachable:
		return "unreachable"
	case Timeout:
		return "timeout"
	case BadResponse:
		return "bad_response"
	case ParseFailure:
		return "parse_failure"
	default:
		return "unknown"
	}
}

// maxBodyExcerpt caps how much of an error response body is kept
const maxBodyExcerpt = 256

// FetchError is returned for any failure talking to the DexScreener API
type FetchError struct {
	Kind     models.FeedKind
	Endpoint string
	Reason   Reason
	Status   int
	Body     string
	Err      error
}

func (e *FetchError) Error() string {
	switch e.Reason {
	case BadResponse:
		return fmt.Sprintf("fetch %s: %s: status %d: %s", e.Kind, e.Reason, e.Status, e.Body)
	default:
		if e.Err != nil {
			return fmt.Sprintf("fetch %s: %s: %v", e.Kind, e.Reason, e.Err)
		}
		return fmt.Sprintf("fetch %s: %s", e.Kind, e.Reason)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func excerpt(body []byte) string {
	if len(body) > maxBodyExcerpt {
		return string(body[:maxBodyExcerpt])
	}
	return string(body)
}
