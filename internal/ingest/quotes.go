package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bjpl/corporate-intel-sub001/internal/breaker"
	"github.com/bjpl/corporate-intel-sub001/internal/jobs"
)

// ResultStore persists terminal job outcomes. *history.Store satisfies it;
// a nil store disables persistence.
type ResultStore interface {
	SaveResult(ctx context.Context, job *jobs.Job) error
}

// Quote is one price observation from the market data API.
type Quote struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Currency  string  `json:"currency"`
	AsOf      string  `json:"as_of"`
	Exchange  string  `json:"exchange,omitempty"`
	ChangePct float64 `json:"change_pct,omitempty"`
}

// QuoteFetcher pulls current quotes for a symbol list. All upstream calls
// route through the "market_data" circuit breaker.
type QuoteFetcher struct {
	jobs.NoopHooks

	baseURL    string
	httpClient *http.Client
	breakers   *breaker.Manager
	store      ResultStore
}

// NewQuoteFetcher builds the fetch_quotes runner. store may be nil.
func NewQuoteFetcher(baseURL string, breakers *breaker.Manager, store ResultStore) *QuoteFetcher {
	return &QuoteFetcher{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breakers:   breakers,
		store:      store,
	}
}

// Execute fetches quotes for params["symbols"].
func (f *QuoteFetcher) Execute(ctx context.Context, params map[string]any) (any, error) {
	symbols, err := symbolList(params)
	if err != nil {
		return nil, err
	}

	var quotes []Quote
	call := func() error {
		var fetchErr error
		quotes, fetchErr = f.fetch(ctx, symbols)
		return fetchErr
	}
	if f.breakers != nil {
		err = f.breakers.Call("market_data", call)
	} else {
		err = call()
	}
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"symbols":    symbols,
		"quotes":     quotes,
		"fetched_at": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// OnSuccess writes the outcome to the history store when one is configured.
func (f *QuoteFetcher) OnSuccess(job *jobs.Job, _ any) {
	if f.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.store.SaveResult(ctx, job); err != nil {
		log.Printf("fetch_quotes %s: save result: %v", job.ID, err)
	}
}

func (f *QuoteFetcher) fetch(ctx context.Context, symbols []string) ([]Quote, error) {
	endpoint := fmt.Sprintf("%s/quotes?symbols=%s", f.baseURL, url.QueryEscape(strings.Join(symbols, ",")))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch quotes: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, jobs.Transientf("quote api returned %d", resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, jobs.Fatal(fmt.Errorf("quote api rejected request: %d", resp.StatusCode))
	}

	var quotes []Quote
	if err := json.NewDecoder(resp.Body).Decode(&quotes); err != nil {
		return nil, fmt.Errorf("decode quotes: %w", err)
	}
	return quotes, nil
}

func symbolList(params map[string]any) ([]string, error) {
	raw, ok := params["symbols"]
	if !ok {
		return nil, jobs.Validationf("symbols parameter is required")
	}

	var symbols []string
	switch v := raw.(type) {
	case []string:
		symbols = v
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, jobs.Validationf("symbols must be strings, got %T", item)
			}
			symbols = append(symbols, s)
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				symbols = append(symbols, trimmed)
			}
		}
	default:
		return nil, jobs.Validationf("symbols must be a list, got %T", raw)
	}

	if len(symbols) == 0 {
		return nil, jobs.Validationf("symbols must not be empty")
	}
	return symbols, nil
}
