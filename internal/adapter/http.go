package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/amishk599/recruitwatch/internal/model"
)

const userAgent = "recruitwatch/1.0 (+job posting monitor)"

// parseRetryAfter parses the Retry-After header value into a duration.
// Supports seconds format (e.g. "120"). Returns zero if absent or unparseable.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// fetchJSON performs req and decodes a JSON body into out.
// Network failures, 429 and 5xx become TransientFetchError; other non-200
// statuses and undecodable bodies mean the endpoint changed shape.
func fetchJSON(ctx context.Context, client *http.Client, source string, req *http.Request, out any) error {
	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return &model.TransientFetchError{Source: source, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		httpErr := &model.HTTPError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("%s %s", req.Method, req.URL.Path),
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return &model.TransientFetchError{Source: source, Err: httpErr}
		}
		return &model.StructuralChangeError{Source: source, Detail: httpErr.Error()}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &model.StructuralChangeError{Source: source, Detail: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}
