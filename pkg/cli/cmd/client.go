package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rzbill/cruise/pkg/version"
	"github.com/spf13/viper"
)

const defaultServer = "http://localhost:8153"

// apiClient talks to the admin endpoints of a Cruise server.
type apiClient struct {
	baseURL string
	rest    *resty.Client
}

// newAPIClient builds a client from the --server and --api-key flags, the
// CRUISE_SERVER and CRUISE_API_KEY variables or the CLI config file.
func newAPIClient() *apiClient {
	server := viper.GetString("server")
	if server == "" {
		server = defaultServer
	}
	return newClient(server, viper.GetString("api_key"))
}

func newClient(baseURL, apiKey string) *apiClient {
	baseURL = strings.TrimRight(baseURL, "/")
	rest := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", version.UserAgent()).
		SetRetryCount(2).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetDisableWarn(true)
	if apiKey != "" {
		rest.SetAuthToken(apiKey)
	}
	return &apiClient{baseURL: baseURL, rest: rest}
}

// do sends a request and decodes a 2xx JSON response into out. Other
// statuses are returned as errors carrying the server's message.
func (c *apiClient) do(ctx context.Context, method, path string, out interface{}) error {
	resp, err := c.rest.R().SetContext(ctx).Execute(method, path)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", c.baseURL, err)
	}
	body := resp.Body()
	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		var msg struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &msg) == nil && msg.Message != "" {
			return fmt.Errorf("%s (%d)", msg.Message, resp.StatusCode())
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode())
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

type repoStatus struct {
	ID                string `json:"id"`
	URL               string `json:"url"`
	Branch            string `json:"branch"`
	PluginID          string `json:"plugin_id"`
	LastKnownRevision string `json:"last_known_revision"`
	LastValidRevision string `json:"last_valid_revision"`
	Error             string `json:"error"`
}

func (c *apiClient) configRepos(ctx context.Context) ([]repoStatus, error) {
	var repos []repoStatus
	err := c.do(ctx, http.MethodGet, "/api/admin/config_repos", &repos)
	return repos, err
}

func (c *apiClient) configRepo(ctx context.Context, id string) (*repoStatus, error) {
	var repo repoStatus
	if err := c.do(ctx, http.MethodGet, "/api/admin/config_repos/"+url.PathEscape(id), &repo); err != nil {
		return nil, err
	}
	return &repo, nil
}

func (c *apiClient) refresh(ctx context.Context, id string) (string, error) {
	var msg struct {
		Message string `json:"message"`
	}
	err := c.do(ctx, http.MethodPost, "/api/admin/config_repos/"+url.PathEscape(id)+"/refresh", &msg)
	return msg.Message, err
}

type configSummary struct {
	LoadedAt time.Time `json:"loaded_at"`
	Fallback bool      `json:"fallback"`
	Failures []struct {
		Entity string `json:"entity"`
		Origin string `json:"origin"`
	} `json:"failures"`
}

func (c *apiClient) config(ctx context.Context) (*configSummary, error) {
	var cfg configSummary
	if err := c.do(ctx, http.MethodGet, "/api/admin/config", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
