package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// GitHub headers and events.
const (
	GitHubEventHeader     = "X-GitHub-Event"
	GitHubSignatureHeader = "X-Hub-Signature"
)

var gitHubEvents = []string{"ping", "push"}

// GitHubRequest is a GitHub webhook call, signed with HMAC-SHA1 of the raw
// body.
type GitHubRequest struct {
	header http.Header
	body   []byte
}

// Event implements Request.
func (r *GitHubRequest) Event() string { return r.header.Get(GitHubEventHeader) }

// IsPing implements Request.
func (r *GitHubRequest) IsPing() bool { return r.Event() == "ping" }

func (r *GitHubRequest) contentType() string {
	ct := r.header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	return ct
}

// Validate implements Request.
func (r *GitHubRequest) Validate(secret string) error {
	if err := checkEvent(r.Event(), gitHubEvents); err != nil {
		return err
	}
	switch ct := r.contentType(); ct {
	case "application/json", "application/x-www-form-urlencoded":
	default:
		return badRequest("Could not understand the content type '%s'!", r.header.Get("Content-Type"))
	}

	signature := r.header.Get(GitHubSignatureHeader)
	if signature == "" {
		return badRequest("No HMAC signature specified via '%s' header!", GitHubSignatureHeader)
	}
	if !hmac.Equal([]byte(signature), []byte(Sign(secret, r.body))) {
		return badRequest("HMAC signature specified via '%s' did not match!", GitHubSignatureHeader)
	}
	return nil
}

// Sign returns the X-Hub-Signature value of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return "sha1=" + hex.EncodeToString(mac.Sum(nil))
}

func (r *GitHubRequest) document() (string, error) {
	if r.contentType() != "application/x-www-form-urlencoded" {
		return string(r.body), nil
	}
	form, err := url.ParseQuery(string(r.body))
	if err != nil {
		return "", badRequest("Could not parse the form encoded payload!")
	}
	return form.Get("payload"), nil
}

// Payload implements Request.
func (r *GitHubRequest) Payload() (*Payload, error) {
	doc, err := r.document()
	if err != nil {
		return nil, err
	}
	if !gjson.Valid(doc) {
		return nil, badRequest("Could not parse the webhook payload!")
	}
	root := gjson.Parse(doc)
	repo := root.Get("repository")
	p := &Payload{
		Event:    r.Event(),
		FullName: repo.Get("full_name").String(),
		Branch:   branchOf(root.Get("ref").String()),
	}
	for _, field := range []string{"html_url", "clone_url", "git_url", "ssh_url", "svn_url"} {
		if u := strings.TrimSpace(repo.Get(field).String()); u != "" {
			p.URLs = append(p.URLs, u)
		}
	}
	return p, nil
}
