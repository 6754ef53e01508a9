package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"esm-federation/internal/ports"
	"esm-federation/internal/shared"
	"esm-federation/internal/types"
)

const defaultFetchTimeout = 30 * time.Second
const defaultFetchRetries = 2
const defaultFetchRetryDelay = 100 * time.Millisecond
const maxFetchRetryDelay = 2 * time.Second
const maxFetchBody = 32 << 20

// HTTPFetchAdapter fetches JSON artifacts and module sources over HTTP,
// retrying transient (5xx, 429, transport) failures.
type HTTPFetchAdapter struct {
	Client     *http.Client
	Retries    int
	RetryDelay time.Duration
}

func NewHTTPFetchAdapter(timeoutSec int, retries int, retryDelayMs int) HTTPFetchAdapter {
	timeout := time.Duration(timeoutSec) * time.Second
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	if retries <= 0 {
		retries = defaultFetchRetries
	}
	delay := time.Duration(retryDelayMs) * time.Millisecond
	if delay <= 0 {
		delay = defaultFetchRetryDelay
	}
	return HTTPFetchAdapter{
		Client:     &http.Client{Timeout: timeout},
		Retries:    retries,
		RetryDelay: delay,
	}
}

func (a HTTPFetchAdapter) FetchJSON(ctx context.Context, url string, out any) error {
	body, _, err := a.fetch(ctx, url, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid JSON document at %s", url)).
			WithCause(err)
	}
	return nil
}

// Fetch returns the raw body and content type at url.
func (a HTTPFetchAdapter) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	return a.fetch(ctx, url, "*/*")
}

func (a HTTPFetchAdapter) fetch(ctx context.Context, url string, accept string) ([]byte, string, error) {
	attempts := a.Retries
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		body, contentType, retry, err := a.fetchOnce(ctx, url, accept)
		if err == nil {
			return body, contentType, nil
		}
		lastErr = err
		if !retry || attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-time.After(a.retryDelay(attempt)):
		}
	}
	return nil, "", lastErr
}

func (a HTTPFetchAdapter) fetchOnce(ctx context.Context, url string, accept string) ([]byte, string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", false, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid fetch url %s", url)).
			WithCause(err)
	}
	req.Header.Set("Accept", accept)
	client := a.Client
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", true, errbuilder.New().
			WithCode(errbuilder.CodeUnavailable).
			WithMsg(fmt.Sprintf("fetch failed: %s", url)).
			WithCause(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		return nil, "", true, errbuilder.New().
			WithCode(errbuilder.CodeUnavailable).
			WithMsg(fmt.Sprintf("fetch read failed: %s", url)).
			WithCause(err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, resp.Header.Get("Content-Type"), false, nil
	}
	retry := resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests
	code := errbuilder.CodeUnavailable
	if resp.StatusCode == http.StatusNotFound {
		code = errbuilder.CodeNotFound
	}
	return nil, "", retry, errbuilder.New().
		WithCode(code).
		WithMsg(fmt.Sprintf("fetch failed: %s", url)).
		WithCause(shared.HTTPStatusErrorWithBody(resp.StatusCode, url, strings.TrimSpace(string(body))))
}

func (a HTTPFetchAdapter) retryDelay(attempt int) time.Duration {
	delay := a.RetryDelay * time.Duration(1<<attempt)
	if delay > maxFetchRetryDelay {
		delay = maxFetchRetryDelay
	}
	jitter := time.Duration(time.Now().UnixNano() % int64(delay/2+1))
	return delay + jitter
}

// HTTPModuleEvaluator is the Go stand-in for the browser's dynamic import:
// it fetches the module document and exposes it through an Exports handle
// carrying ExportURL, ExportSource and ExportContentType, plus
// ExportDefault for JSON modules.
type HTTPModuleEvaluator struct {
	Fetcher HTTPFetchAdapter
}

func NewHTTPModuleEvaluator(fetcher HTTPFetchAdapter) HTTPModuleEvaluator {
	return HTTPModuleEvaluator{Fetcher: fetcher}
}

func (e HTTPModuleEvaluator) Evaluate(ctx context.Context, url string) (*types.Exports, error) {
	body, contentType, err := e.Fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	values := map[string]any{
		types.ExportURL:         url,
		types.ExportSource:      body,
		types.ExportContentType: contentType,
	}
	if strings.Contains(contentType, "json") || strings.HasSuffix(strings.ToLower(url), ".json") {
		var decoded any
		if err := json.Unmarshal(body, &decoded); err != nil {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("invalid JSON module at %s", url)).
				WithCause(err)
		}
		values[types.ExportDefault] = decoded
	}
	return types.NewExports(values), nil
}

var (
	_ ports.FetchPort           = HTTPFetchAdapter{}
	_ ports.ModuleEvaluatorPort = HTTPModuleEvaluator{}
)
