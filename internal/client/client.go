// Package client is a Go client for the partner HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"staybook/internal/models"

	"github.com/redis/go-redis/v9"
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
	Code       string `json:"code"`
	Retryable  bool   `json:"retryable"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

type Day struct {
	Date   string           `json:"date"`
	Status models.DayStatus `json:"status"`
	Reason string           `json:"reason,omitempty"`
	Price  int64            `json:"price"`
}

type Availability struct {
	PropertyID          int64    `json:"property_id"`
	StartDate           string   `json:"start_date"`
	EndDate             string   `json:"end_date"`
	IsAvailable         bool     `json:"is_available"`
	Subtotal            int64    `json:"subtotal"`
	PerDay              []Day    `json:"per_day"`
	ViolatedConstraints []string `json:"violated_constraints"`
}

type BookingRequest struct {
	PropertyID    int64  `json:"property_id"`
	GuestName     string `json:"guest_name"`
	GuestEmail    string `json:"guest_email,omitempty"`
	GuestPhone    string `json:"guest_phone,omitempty"`
	GuestCount    int    `json:"guest_count"`
	StartDate     string `json:"start_date"`
	EndDate       string `json:"end_date"`
	PaymentRef    string `json:"payment_ref,omitempty"`
	PaymentMethod string `json:"payment_method,omitempty"`
}

// Client calls the API with a partner key. Per-user calls take the user's
// bearer token.
type Client struct {
	baseURL    string
	apiKey     string
	apiExtra   string
	httpClient *http.Client

	redis    *redis.Client
	cacheTTL time.Duration
}

func New(baseURL, apiKey, apiExtra string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		apiExtra:   apiExtra,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// UseRedisCache caches availability answers for ttl.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

// GetAvailability resolves [start, end) for a property. Dates are YYYY-MM-DD.
func (c *Client) GetAvailability(ctx context.Context, propertyID int64, start, end string) (*Availability, error) {
	cacheKey := fmt.Sprintf("staybook:client:availability:%d:%s:%s", propertyID, start, end)
	var out Availability
	if c.readCache(ctx, cacheKey, &out) {
		return &out, nil
	}

	q := url.Values{}
	q.Set("start", start)
	q.Set("end", end)
	path := fmt.Sprintf("/api/v1/properties/%d/availability?%s", propertyID, q.Encode())
	if err := c.do(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return nil, err
	}
	c.writeCache(ctx, cacheKey, out)
	return &out, nil
}

func (c *Client) CreateBooking(ctx context.Context, token string, req BookingRequest) (*models.Booking, error) {
	var out models.Booking
	if err := c.do(ctx, http.MethodPost, "/api/v1/bookings", token, req, &out); err != nil {
		return nil, err
	}
	c.invalidate(ctx, req.PropertyID)
	return &out, nil
}

func (c *Client) GetBooking(ctx context.Context, token string, id int64) (*models.Booking, error) {
	var out models.Booking
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/bookings/%d", id), token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Transition moves a booking to target, e.g. CANCELLED.
func (c *Client) Transition(ctx context.Context, token string, id int64, target models.BookingStatus, reason string) (*models.Booking, error) {
	body := map[string]string{"target": string(target), "reason": reason}
	var out models.Booking
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/transition", id), token, body, &out); err != nil {
		return nil, err
	}
	c.invalidate(ctx, out.PropertyID)
	return &out, nil
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(val, out) == nil
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.cacheTTL).Err()
}

// invalidate drops cached availability for a property after a write.
func (c *Client) invalidate(ctx context.Context, propertyID int64) {
	if c.redis == nil || propertyID == 0 {
		return
	}
	pattern := fmt.Sprintf("staybook:client:availability:%d:*", propertyID)
	iter := c.redis.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		_ = c.redis.Del(ctx, iter.Val()).Err()
	}
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
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
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	if c.apiExtra != "" {
		req.Header.Set("x-api-extra", c.apiExtra)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
