package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const defaultTimeout = 15 * time.Second

// APIError is the decoded error envelope the API answers with.
type APIError struct {
	Status  int             `json:"-"`
	Code    string          `json:"code"`
	Message string          `json:"error"`
	Details json.RawMessage `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("readinglog api %d %s: %s", e.Status, e.Code, e.Message)
}

type Book struct {
	ID            int64   `json:"id"`
	Title         string  `json:"title"`
	Author        *string `json:"author"`
	ISBN          *string `json:"isbn"`
	CoverImageURL *string `json:"coverImageUrl"`
}

type Log struct {
	ID         int64     `json:"id"`
	BookID     int64     `json:"bookId"`
	Rating     *int      `json:"rating"`
	Review     *string   `json:"review"`
	ReadStatus string    `json:"readStatus"`
	UpdatedAt  time.Time `json:"updatedAt"`
	Book       *Book     `json:"book"`
}

type Note struct {
	ID      int64   `json:"id"`
	LogID   int64   `json:"logId"`
	Chapter *string `json:"chapter"`
	Text    string  `json:"text"`
}

type Chapter struct {
	ID            int64   `json:"id"`
	LogID         int64   `json:"logId"`
	ChapterNumber *int    `json:"chapterNumber"`
	Title         *string `json:"title"`
}

type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type SearchResult struct {
	Results    []Book `json:"results"`
	Superseded bool   `json:"superseded"`
	Seq        *int64 `json:"seq"`
}

type LogDetail struct {
	Log      Log       `json:"log"`
	Notes    []Note    `json:"notes"`
	Chapters []Chapter `json:"chapters"`
	Tags     []Tag     `json:"tags"`
}

type UpsertLogRequest struct {
	BookID  int64   `json:"bookId"`
	Rating  *int    `json:"rating"`
	Review  *string `json:"review,omitempty"`
	Note    *string `json:"note,omitempty"`
	Chapter *string `json:"chapter,omitempty"`
}

type UpsertLogResult struct {
	Log      Log      `json:"log"`
	Created  bool     `json:"created"`
	Message  string   `json:"message"`
	Warnings []string `json:"warnings"`
}

type TagsResult struct {
	Tag  *Tag  `json:"tag"`
	Tags []Tag `json:"tags"`
}

// Client talks to the reading log API on behalf of one signed-in user.
type Client struct {
	http    *http.Client
	baseURL string

	mu    sync.RWMutex
	token string
}

func New(baseURL, token string) *Client {
	return &Client{
		http:    &http.Client{Timeout: defaultTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// SearchBooks queries the catalog from one search box. viewID keeps seq
// ordering separate from the user's other open views.
func (c *Client) SearchBooks(ctx context.Context, query string, seq int64, viewID string) (SearchResult, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("seq", strconv.FormatInt(seq, 10))
	if viewID != "" {
		q.Set("view", viewID)
	}
	var out SearchResult
	err := c.do(ctx, http.MethodGet, "/api/books/search?"+q.Encode(), nil, &out)
	return out, err
}

func (c *Client) UpsertLog(ctx context.Context, req UpsertLogRequest) (UpsertLogResult, error) {
	var out UpsertLogResult
	err := c.do(ctx, http.MethodPost, "/api/logs", req, &out)
	return out, err
}

func (c *Client) GetLog(ctx context.Context, logID int64) (LogDetail, error) {
	var out LogDetail
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/logs/%d", logID), nil, &out)
	return out, err
}

func (c *Client) AttachTag(ctx context.Context, logID int64, name string) (TagsResult, error) {
	var out TagsResult
	body := map[string]string{"name": name}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/logs/%d/tags", logID), body, &out)
	return out, err
}

func (c *Client) DetachTag(ctx context.Context, logID, tagID int64) (TagsResult, error) {
	var out TagsResult
	err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/logs/%d/tags/%d", logID, tagID), nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Code = "HTTP_ERROR"
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
