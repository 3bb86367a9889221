package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// StatusError reports a non-success response from the catalog.
type StatusError struct {
	Body string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog returned status %d: %s", e.Code, e.Body)
}

// app mirrors the sidecar's JSON. Depending on the upstream scraper the id
// arrives as appId, id or packageName.
type app struct {
	Title       string  `json:"title"`
	AppID       string  `json:"appId"`
	ID          string  `json:"id"`
	PackageName string  `json:"packageName"`
	Developer   string  `json:"developer"`
	Icon        string  `json:"icon"`
	Installs    string  `json:"installs"`
	Score       float64 `json:"score"`
}

func (a app) id() string {
	switch {
	case a.AppID != "":
		return a.AppID
	case a.ID != "":
		return a.ID
	default:
		return a.PackageName
	}
}

// HTTPClient implements Source against the catalog sidecar.
type HTTPClient struct {
	client  *http.Client
	baseURL string
	country string
	lang    string
}

// NewHTTPClient creates a catalog client. A nil client uses http.DefaultClient.
func NewHTTPClient(baseURL string, client *http.Client) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		country: "us",
		lang:    "en",
	}
}

// Search runs a free-text search and returns at most n entries.
func (c *HTTPClient) Search(ctx context.Context, term string, n int) ([]Entry, error) {
	if n <= 0 {
		n = DefaultResults
	}
	q := url.Values{}
	q.Set("term", term)
	q.Set("num", strconv.Itoa(n))
	q.Set("country", c.country)
	q.Set("lang", c.lang)

	var apps []app
	if err := c.get(ctx, "/search?"+q.Encode(), &apps); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, min(len(apps), n))
	for _, a := range apps {
		if len(entries) == n {
			break
		}
		entries = append(entries, Entry{
			Title:     a.Title,
			AppID:     a.id(),
			Developer: a.Developer,
			Icon:      a.Icon,
			Score:     a.Score,
			Index:     len(entries) + 1,
		})
	}
	return entries, nil
}

// Details fetches one app by package id.
func (c *HTTPClient) Details(ctx context.Context, appID string) (Details, error) {
	var a app
	if err := c.get(ctx, "/apps/"+url.PathEscape(appID), &a); err != nil {
		return Details{}, err
	}
	id := a.id()
	if id == "" {
		id = appID
	}
	return Details{
		AppID:     id,
		Title:     a.Title,
		Developer: a.Developer,
		Icon:      a.Icon,
		Installs:  a.Installs,
		Score:     a.Score,
	}, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("catalog request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode catalog response: %w", err)
	}
	return nil
}
