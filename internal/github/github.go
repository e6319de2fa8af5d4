package github

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v72/github"
	"golang.org/x/oauth2"

	"github.com/kevinmichaelchen/star-catalog/internal/models"
)

const (
	defaultGraphQLURL = "https://api.github.com/graphql"
	perPage           = 100
)

// Client lists the authenticated user's starred repositories through the
// REST API and star lists through the GraphQL API.
type Client struct {
	gh         *gh.Client
	httpClient *http.Client
	graphqlURL string
}

type Option func(*Client) error

// WithBaseURL points both APIs at base, which must end in a slash. Used by
// tests and GitHub Enterprise installs.
func WithBaseURL(base string) Option {
	return func(c *Client) error {
		u, err := url.Parse(base)
		if err != nil {
			return fmt.Errorf("parsing base URL: %w", err)
		}
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		c.gh.BaseURL = u
		c.graphqlURL = u.String() + "graphql"
		return nil
	}
}

func NewClient(ctx context.Context, token string, opts ...Option) (*Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)

	c := &Client{
		gh:         gh.NewClient(tc),
		httpClient: tc,
		graphqlURL: defaultGraphQLURL,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Listing yields the repositories to catalog: the members of the star list
// listID, or every starred repository when listID is empty.
func (c *Client) Listing(ctx context.Context, listID string) iter.Seq2[models.Descriptor, error] {
	if listID != "" {
		return c.StarList(ctx, listID)
	}
	return c.Starred(ctx)
}

// Starred yields the authenticated user's starred repositories, fetching
// one page at a time as the caller consumes them. A page failure is
// yielded once and ends the sequence.
func (c *Client) Starred(ctx context.Context) iter.Seq2[models.Descriptor, error] {
	return func(yield func(models.Descriptor, error) bool) {
		opt := &gh.ActivityListStarredOptions{
			ListOptions: gh.ListOptions{PerPage: perPage},
		}
		for {
			starred, resp, err := c.gh.Activity.ListStarred(ctx, "", opt)
			if err != nil {
				yield(models.Descriptor{}, fmt.Errorf("listing starred repositories (page %d): %w", max(opt.Page, 1), err))
				return
			}
			for _, s := range starred {
				if s.Repository == nil {
					continue
				}
				if !yield(c.describe(s.Repository), nil) {
					return
				}
			}
			if resp.NextPage == 0 {
				return
			}
			opt.Page = resp.NextPage
		}
	}
}

func (c *Client) describe(repo *gh.Repository) models.Descriptor {
	owner, name := repo.GetOwner().GetLogin(), repo.GetName()

	topics := make([]string, len(repo.Topics))
	copy(topics, repo.Topics)

	return models.Descriptor{
		Name:        repo.GetFullName(),
		Description: repo.GetDescription(),
		Language:    repo.GetLanguage(),
		Topics:      topics,
		URL:         repo.GetHTMLURL(),
		Readme: func(ctx context.Context) (string, error) {
			return c.Readme(ctx, owner, name)
		},
	}
}

// ErrNoReadme is returned when a repository has no README.
var ErrNoReadme = errors.New("no readme")

// Readme returns the decoded README of owner/name.
func (c *Client) Readme(ctx context.Context, owner, name string) (string, error) {
	content, resp, err := c.gh.Repositories.GetReadme(ctx, owner, name, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return "", fmt.Errorf("%s/%s: %w", owner, name, ErrNoReadme)
		}
		return "", fmt.Errorf("fetching readme of %s/%s: %w", owner, name, err)
	}

	text, err := content.GetContent()
	if err != nil {
		return "", fmt.Errorf("decoding readme of %s/%s: %w", owner, name, err)
	}
	return text, nil
}
