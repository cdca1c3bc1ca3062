package webhook

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// GitLab headers.
const (
	GitLabEventHeader = "X-Gitlab-Event"
	GitLabTokenHeader = "X-Gitlab-Token"
)

var gitLabEvents = []string{"Push Hook"}

// GitLabRequest is a GitLab webhook call carrying a shared token header.
type GitLabRequest struct {
	header http.Header
	body   []byte
}

// Event implements Request.
func (r *GitLabRequest) Event() string { return r.header.Get(GitLabEventHeader) }

// IsPing implements Request. GitLab has no ping event.
func (r *GitLabRequest) IsPing() bool { return false }

// Validate implements Request.
func (r *GitLabRequest) Validate(secret string) error {
	if err := checkEvent(r.Event(), gitLabEvents); err != nil {
		return err
	}
	token := r.header.Get(GitLabTokenHeader)
	if token == "" {
		return badRequest("No token specified in the '%s' header!", GitLabTokenHeader)
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
		return badRequest("Token specified in the '%s' header did not match!", GitLabTokenHeader)
	}
	return nil
}

// Payload implements Request.
func (r *GitLabRequest) Payload() (*Payload, error) {
	if !gjson.ValidBytes(r.body) {
		return nil, badRequest("Could not parse the webhook payload!")
	}
	root := gjson.ParseBytes(r.body)
	project := root.Get("project")
	p := &Payload{
		Event:    r.Event(),
		FullName: project.Get("path_with_namespace").String(),
		Branch:   branchOf(root.Get("ref").String()),
	}
	for _, field := range []string{"web_url", "git_http_url", "git_ssh_url"} {
		if u := strings.TrimSpace(project.Get(field).String()); u != "" {
			p.URLs = append(p.URLs, u)
		}
	}
	return p, nil
}
