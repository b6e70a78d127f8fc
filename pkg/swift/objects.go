package swift

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
)

// objectPageLimit is the page size requested per listing call.
const objectPageLimit = 1000

// Object is a server-side object listing entry.
type Object struct {
	Name         string `json:"name"`
	Bytes        int64  `json:"bytes"`
	LastModified string `json:"last_modified"`
}

// ListObjects lists the objects of a container, optionally under a prefix.
// Pages are fetched with marker-based pagination until a short page is
// returned.
func (c *Client) ListObjects(ctx context.Context, container, prefix string) ([]Object, error) {
	var all []Object
	marker := ""

	for {
		page, err := c.listObjectPage(ctx, container, prefix, marker)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)

		if len(page) < objectPageLimit {
			break
		}
		marker = page[len(page)-1].Name
	}

	if all == nil {
		all = []Object{}
	}
	return all, nil
}

func (c *Client) listObjectPage(ctx context.Context, container, prefix, marker string) ([]Object, error) {
	resp, err := c.doAuthed(ctx, func(token, storageURL string) (*http.Request, error) {
		q := url.Values{}
		q.Set("format", "json")
		q.Set("limit", strconv.Itoa(objectPageLimit))
		if prefix != "" {
			q.Set("prefix", prefix)
		}
		if marker != "" {
			q.Set("marker", marker)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			storageURL+"/"+url.PathEscape(container)+"?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Auth-Token", token)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, httpError(resp)
	}

	var page []Object
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
			return nil, err
		}
	}
	return page, nil
}
