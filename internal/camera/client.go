package camera

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"plaza-service/internal/domain/detection"
)

// ErrUnavailable marks the detection source as unreachable or timed out.
// Polling callers back off on it instead of raising an alarm.
var ErrUnavailable = errors.New("detection source unavailable")

// Client pulls recognition events from the plate-recognition backend.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// FetchEvents returns recognitions detected at or after since. A zero since
// asks the source for everything it still holds.
func (c *Client) FetchEvents(ctx context.Context, since time.Time) ([]detection.EventPayload, error) {
	u, err := url.Parse(c.baseURL + "/api/recognitions")
	if err != nil {
		return nil, fmt.Errorf("bad camera base url: %w", err)
	}
	q := u.Query()
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isUnreachable(err) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: source returned %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detection source returned %d", resp.StatusCode)
	}

	var body struct {
		Events []detection.EventPayload `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode recognitions: %w", err)
	}
	return body.Events, nil
}

func isUnreachable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
