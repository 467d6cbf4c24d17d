package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Course is the shape each entry of GetCoursesByIds returns, per §6.
type Course struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Thumbnail   *string `json:"thumbnail,omitempty"`
}

// CourseClient is the outbound port to the Course service.
type CourseClient struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewCourseClient builds a client against baseURL.
func NewCourseClient(baseURL string, logger *slog.Logger) *CourseClient {
	return &CourseClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

// GetCoursesByIds fetches a batch of courses, keyed by course ID, retrying
// once on a transient failure before giving up.
func (c *CourseClient) GetCoursesByIds(ctx context.Context, ids []string) (map[string]Course, error) {
	if len(ids) == 0 {
		return map[string]Course{}, nil
	}

	reqURL := fmt.Sprintf("%s/courses?ids=%s", c.baseURL, url.QueryEscape(strings.Join(ids, ",")))

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
		}

		courses, err := c.doGetCourses(ctx, reqURL)
		if err == nil {
			return courses, nil
		}
		lastErr = err
		c.logger.Warn("course client request failed", "attempt", attempt, "error", err)
	}
	return nil, fmt.Errorf("get courses by ids: %w", lastErr)
}

func (c *CourseClient) doGetCourses(ctx context.Context, reqURL string) (map[string]Course, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("course service returned %d: %s", resp.StatusCode, body)
	}

	var courses map[string]Course
	if err := json.NewDecoder(resp.Body).Decode(&courses); err != nil {
		return nil, fmt.Errorf("decode courses response: %w", err)
	}
	return courses, nil
}
