package webhook

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// BitbucketEventHeader names the Bitbucket event.
const BitbucketEventHeader = "X-Event-Key"

var bitbucketEvents = []string{"repo:push"}

// BitbucketRequest is a Bitbucket webhook call. Bitbucket cannot sign
// requests, so the shared token travels as the basic auth username.
type BitbucketRequest struct {
	header   http.Header
	body     []byte
	username string
}

// Event implements Request.
func (r *BitbucketRequest) Event() string { return r.header.Get(BitbucketEventHeader) }

// IsPing implements Request.
func (r *BitbucketRequest) IsPing() bool { return false }

// Validate implements Request.
func (r *BitbucketRequest) Validate(secret string) error {
	if err := checkEvent(r.Event(), bitbucketEvents); err != nil {
		return err
	}
	if r.username == "" {
		return badRequest("No token specified via basic authentication!")
	}
	if subtle.ConstantTimeCompare([]byte(r.username), []byte(secret)) != 1 {
		return badRequest("Token specified via basic authentication did not match!")
	}
	return nil
}

// Payload implements Request. The branch is the first pushed branch.
func (r *BitbucketRequest) Payload() (*Payload, error) {
	if !gjson.ValidBytes(r.body) {
		return nil, badRequest("Could not parse the webhook payload!")
	}
	root := gjson.ParseBytes(r.body)
	repo := root.Get("repository")
	p := &Payload{
		Event:    r.Event(),
		FullName: repo.Get("full_name").String(),
	}
	for _, change := range root.Get("push.changes").Array() {
		if change.Get("new.type").String() == "branch" {
			p.Branch = change.Get("new.name").String()
			break
		}
	}
	if u := strings.TrimSpace(repo.Get("links.html.href").String()); u != "" {
		p.URLs = append(p.URLs, u)
	}
	for _, clone := range repo.Get("links.clone").Array() {
		if u := strings.TrimSpace(clone.Get("href").String()); u != "" {
			p.URLs = append(p.URLs, u)
		}
	}
	return p, nil
}
