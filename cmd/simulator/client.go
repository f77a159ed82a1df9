package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ukydev/urban-services/internal/models"
)

// apiError is a non-2xx answer from the API.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.Status, e.Message)
}

// apiClient calls the booking API as one partner.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(baseURL, token string) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// login exchanges credentials for a bearer token and keeps it.
func (c *apiClient) login(ctx context.Context, email, password string) (*models.LoginResponse, error) {
	var resp models.LoginResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/login", models.LoginRequest{Email: email, Password: password}, &resp)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	c.token = resp.Token
	return &resp, nil
}

func (c *apiClient) updateStatus(ctx context.Context, bookingID string, req models.StatusUpdateRequest) (*models.BookingDetails, error) {
	var updated models.BookingDetails
	if err := c.do(ctx, http.MethodPut, "/api/bookings/"+bookingID+"/status", req, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (c *apiClient) updateLocation(ctx context.Context, bookingID string, coords models.Coordinates) error {
	return c.do(ctx, http.MethodPut, "/api/bookings/"+bookingID+"/location", coords, nil)
}

func (c *apiClient) addImages(ctx context.Context, bookingID string, kind models.ImageKind, urls []string) error {
	return c.do(ctx, http.MethodPost, "/api/bookings/"+bookingID+"/images", models.AddImagesRequest{Kind: kind, URLs: urls}, nil)
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		return &apiError{Status: resp.StatusCode, Message: payload.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
