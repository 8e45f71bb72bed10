package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
)

// Location availability as reported by the opening-hours service.
const (
	StatusOpen        = "open"
	StatusClosingSoon = "closing_soon"
	StatusClosed      = "closed"
)

type Availability struct {
	Status           string `json:"status"`
	MinutesRemaining int    `json:"minutesRemaining"`
}

const availabilityCacheTTL = 60 * time.Second

// AvailabilityClient asks the opening-hours service whether a physical
// location is open. Results are cached briefly in Redis so a burst of skip
// requests from one team does not hammer the upstream.
type AvailabilityClient struct {
	baseURL    string
	httpClient *http.Client
	redis      *redis.Client
}

func NewAvailabilityClient(baseURL string, redisClient *redis.Client) *AvailabilityClient {
	return &AvailabilityClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		redis: redisClient,
	}
}

// GetAvailability fetches the availability for a location ref, consulting
// the cache first. Any upstream failure is returned to the caller, which
// treats it as "emergency skip unavailable", never as a request failure.
func (c *AvailabilityClient) GetAvailability(ctx context.Context, locationRef string) (*Availability, error) {
	cacheKey := "availability:" + locationRef

	if c.redis != nil {
		if data, err := c.redis.Get(ctx, cacheKey).Bytes(); err == nil {
			var cached Availability
			if err := json.Unmarshal(data, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	endpoint := fmt.Sprintf("%s/availability?location=%s", c.baseURL, url.QueryEscape(locationRef))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("availability service returned status %d: %s", resp.StatusCode, string(body))
	}

	var result Availability
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	if c.redis != nil {
		if data, err := json.Marshal(result); err == nil {
			c.redis.Set(ctx, cacheKey, data, availabilityCacheTTL)
		}
	}

	return &result, nil
}
