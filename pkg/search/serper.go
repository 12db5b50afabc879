package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/ratelimit"
)

// Serper is a Client backed by the serper.dev Google-search API.
type Serper struct {
	apiKey  string
	baseURL string
	http    *http.Client
	fabric  *ratelimit.Fabric
}

// NewSerper creates the serper client. fabric may be nil (uncapped).
func NewSerper(cfg config.SerperConfig, fabric *ratelimit.Fabric) (*Serper, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("serper: api key must not be empty")
	}
	return &Serper{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		fabric:  fabric,
	}, nil
}

type serperRequest struct {
	Query    string `json:"q"`
	Num      int    `json:"num"`
	Country  string `json:"gl"`
	Language string `json:"hl"`
}

type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

// Search implements Client. The call holds a search-fabric slot and retries
// transport failures with exponential backoff, three attempts total.
func (s *Serper) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if s.fabric != nil {
		if err := s.fabric.Acquire(ctx, config.ProviderSearch); err != nil {
			return nil, err
		}
		defer s.fabric.Release(config.ProviderSearch)
	}

	var results []Result
	operation := func() error {
		var err error
		results, err = s.searchOnce(ctx, query, limit)
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("serper: search %q failed: %w", query, err)
	}
	return results, nil
}

func (s *Serper) searchOnce(ctx context.Context, query string, limit int) ([]Result, error) {
	body, err := json.Marshal(serperRequest{
		Query:    query,
		Num:      limit,
		Country:  "us",
		Language: "en",
	})
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("X-API-KEY", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("serper: status %d: %s", resp.StatusCode, data)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	var parsed serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(parsed.Organic))
	for _, o := range parsed.Organic {
		if o.Title == "" || o.Link == "" {
			continue
		}
		out = append(out, Result{Title: o.Title, URL: o.Link, Snippet: o.Snippet})
	}
	return out, nil
}
