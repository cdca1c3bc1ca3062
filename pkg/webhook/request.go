// Package webhook validates and parses push notifications sent by source
// control providers. Validation messages are part of the HTTP contract and
// are returned to the caller verbatim.
package webhook

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

// BadRequestError rejects a webhook request.
type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string { return e.Message }

func badRequest(format string, args ...any) error {
	return &BadRequestError{Message: fmt.Sprintf(format, args...)}
}

// Payload is what a push notification says about the repository.
type Payload struct {
	// Event is the provider's event name.
	Event string

	// FullName is the owner/name of the repository, when present.
	FullName string

	// Branch is the pushed branch, without refs/heads/.
	Branch string

	// URLs are every URL the provider lists for the repository.
	URLs []string
}

// Request is one provider's webhook call.
type Request interface {
	// Event returns the provider's event name.
	Event() string

	// IsPing reports whether the call only checks the hook is reachable.
	IsPing() bool

	// Validate checks the event and the credentials against secret.
	Validate(secret string) error

	// Payload parses the body.
	Payload() (*Payload, error)
}

func checkEvent(event string, allowed []string) error {
	for _, a := range allowed {
		if event == a {
			return nil
		}
	}
	return badRequest("Invalid event type '%s'. Allowed events are [%s].", event, strings.Join(allowed, ", "))
}

// readBody keeps the raw body for signature checks.
func readBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, limit))
}

func branchOf(ref string) string {
	return strings.TrimPrefix(ref, "refs/heads/")
}

// MaxBodyBytes bounds the size of a webhook body.
const MaxBodyBytes = 5 << 20

// Provider names.
const (
	ProviderGitHub    = "github"
	ProviderGitLab    = "gitlab"
	ProviderBitbucket = "bitbucket"
)

// Parse builds the Request of provider from r.
func Parse(provider string, r *http.Request) (Request, error) {
	body, err := readBody(r, MaxBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook body: %w", err)
	}
	switch provider {
	case ProviderGitHub:
		return &GitHubRequest{header: r.Header, body: body}, nil
	case ProviderGitLab:
		return &GitLabRequest{header: r.Header, body: body}, nil
	case ProviderBitbucket:
		username, _, _ := r.BasicAuth()
		return &BitbucketRequest{header: r.Header, body: body, username: username}, nil
	default:
		return nil, fmt.Errorf("unknown webhook provider %q", provider)
	}
}
