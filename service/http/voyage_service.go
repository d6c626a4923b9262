package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/arunvm123/voyagecache/auth"
	"github.com/arunvm123/voyagecache/config"
	"github.com/arunvm123/voyagecache/model"
	"github.com/arunvm123/voyagecache/service"
)

type HTTPVoyageService struct {
	baseURL    string
	bookingID  string
	httpClient *http.Client
	jwtService *auth.JWTService
}

var _ service.VoyageService = (*HTTPVoyageService)(nil)

func NewHTTPVoyageService(baseURL, bookingID string, jwtService *auth.JWTService) *HTTPVoyageService {
	return &HTTPVoyageService{
		baseURL:    baseURL,
		bookingID:  bookingID,
		jwtService: jwtService,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewHTTPVoyageServiceWithConfig creates a new HTTP voyage service with connection pooling
func NewHTTPVoyageServiceWithConfig(cfg *config.VoyageService, jwtService *auth.JWTService) *HTTPVoyageService {
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     time.Duration(cfg.IdleConnTimeout) * time.Second,
		ForceAttemptHTTP2:   true,
	}

	return &HTTPVoyageService{
		baseURL:    cfg.BaseURL,
		bookingID:  cfg.BookingID,
		jwtService: jwtService,
		httpClient: &http.Client{
			Timeout:   time.Duration(cfg.RequestTimeout) * time.Second,
			Transport: transport,
		},
	}
}

// FetchVoyage retrieves the tracked booking from the voyage API
func (s *HTTPVoyageService) FetchVoyage(ctx context.Context, forceRefresh bool) (*model.Voyage, error) {
	endpoint := fmt.Sprintf("%s/api/voyages/%s", s.baseURL, url.PathEscape(s.bookingID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	token, err := s.jwtService.GenerateServiceToken(time.Hour)
	if err != nil {
		return nil, fmt.Errorf("failed to sign service token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if forceRefresh {
		req.Header.Set("Cache-Control", "no-cache")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("voyage %s not found", s.bookingID)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("voyage service error (status %d): %s", resp.StatusCode, string(body))
	}

	var voyage model.Voyage
	if err := json.NewDecoder(resp.Body).Decode(&voyage); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &voyage, nil
}
