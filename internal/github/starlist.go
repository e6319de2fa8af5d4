package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"

	"github.com/kevinmichaelchen/star-catalog/internal/models"
)

// The UserList.items connection is undocumented and its order is not
// guaranteed, so star lists are always walked forward in full.
const starListQuery = `
query($listId: ID!, $first: Int!, $after: String) {
  node(id: $listId) {
    ... on UserList {
      items(first: $first, after: $after) {
        totalCount
        pageInfo {
          hasNextPage
          endCursor
        }
        nodes {
          ... on Repository {
            nameWithOwner
            description
            url
            primaryLanguage { name }
            repositoryTopics(first: 20) {
              nodes { topic { name } }
            }
            object(expression: "HEAD:README.md") {
              ... on Blob { text }
            }
          }
        }
      }
    }
  }
}
`

type pageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type starListData struct {
	Node *struct {
		Items struct {
			TotalCount int        `json:"totalCount"`
			PageInfo   pageInfo   `json:"pageInfo"`
			Nodes      []repoNode `json:"nodes"`
		} `json:"items"`
	} `json:"node"`
}

type repoNode struct {
	NameWithOwner   string  `json:"nameWithOwner"`
	Description     *string `json:"description"`
	URL             string  `json:"url"`
	PrimaryLanguage *struct {
		Name string `json:"name"`
	} `json:"primaryLanguage"`
	RepositoryTopics struct {
		Nodes []struct {
			Topic struct {
				Name string `json:"name"`
			} `json:"topic"`
		} `json:"nodes"`
	} `json:"repositoryTopics"`
	Object *struct {
		Text string `json:"text"`
	} `json:"object"`
}

// StarList yields the members of a star list, one GraphQL page at a time.
func (c *Client) StarList(ctx context.Context, listID string) iter.Seq2[models.Descriptor, error] {
	return func(yield func(models.Descriptor, error) bool) {
		vars := map[string]any{"listId": listID, "first": perPage}
		for {
			data, err := c.fetchStarListPage(ctx, vars)
			if err != nil {
				yield(models.Descriptor{}, fmt.Errorf("listing star list %s: %w", listID, err))
				return
			}
			for _, n := range data.Node.Items.Nodes {
				if n.NameWithOwner == "" {
					continue
				}
				if !yield(nodeToDescriptor(n), nil) {
					return
				}
			}
			if !data.Node.Items.PageInfo.HasNextPage {
				return
			}
			vars["after"] = data.Node.Items.PageInfo.EndCursor
		}
	}
}

func (c *Client) fetchStarListPage(ctx context.Context, vars map[string]any) (*starListData, error) {
	body, err := c.doGraphQL(ctx, starListQuery, vars)
	if err != nil {
		return nil, err
	}

	var data starListData
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if data.Node == nil {
		return nil, fmt.Errorf("star list not found")
	}
	return &data, nil
}

func (c *Client) doGraphQL(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	reqBody, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var gqlResp graphqlResponse
	if err := json.Unmarshal(respBody, &gqlResp); err != nil {
		return nil, fmt.Errorf("parsing GraphQL response: %w", err)
	}
	if len(gqlResp.Errors) > 0 {
		return nil, fmt.Errorf("GraphQL error: %s", gqlResp.Errors[0].Message)
	}

	return gqlResp.Data, nil
}

func nodeToDescriptor(n repoNode) models.Descriptor {
	d := models.Descriptor{
		Name: n.NameWithOwner,
		URL:  n.URL,
	}
	if n.Description != nil {
		d.Description = *n.Description
	}
	if n.PrimaryLanguage != nil {
		d.Language = n.PrimaryLanguage.Name
	}

	topics := []string{}
	for _, t := range n.RepositoryTopics.Nodes {
		topics = append(topics, t.Topic.Name)
	}
	d.Topics = topics

	// The README arrives with the page; no second request is needed.
	var text string
	if n.Object != nil {
		text = n.Object.Text
	}
	name := n.NameWithOwner
	d.Readme = func(context.Context) (string, error) {
		if text == "" {
			return "", fmt.Errorf("%s: %w", name, ErrNoReadme)
		}
		return text, nil
	}
	return d
}
