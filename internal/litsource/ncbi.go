package litsource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/beplan/internal/cache"
	"github.com/ppiankov/beplan/internal/model"
	"github.com/ppiankov/beplan/internal/util"
	"github.com/ppiankov/beplan/internal/worker"
)

const (
	maxResponseBytes = 4 << 20
	maxRedirects     = 3
)

// NCBIClient talks to the PubMed E-utilities endpoints (esearch,
// esummary, efetch) with read-through caching, per-host rate limiting,
// and bounded retries on 429/5xx/network errors.
type NCBIClient struct {
	httpClient *http.Client
	base       string
	ncbi       model.NCBIConfig
	maxRetries int
	userAgent  string
	cache      cache.Cache
	cacheTTL   time.Duration
	limiter    *worker.Limiter
	log        *zap.Logger
}

func NewNCBIClient(cfg *model.Config, store cache.Cache, log *zap.Logger) *NCBIClient {
	if log == nil {
		log = zap.NewNop()
	}
	proxy, err := util.ProxyFunc(cfg.HTTP.HTTPProxy, cfg.HTTP.HTTPSProxy)
	if err != nil {
		log.Warn("ignoring invalid proxy configuration", zap.Error(err))
		proxy = http.ProxyFromEnvironment
	}
	transport := &http.Transport{Proxy: proxy}
	httpClient := &http.Client{
		Timeout:   cfg.HTTP.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
	limiter := worker.NewLimiter(cfg.HTTP.RateLimit, 3)
	if cfg.NCBI.APIKey != "" {
		// NCBI grants 10 rps to keyed clients.
		if u, err := url.Parse(cfg.NCBI.BaseURL); err == nil {
			limiter.SetHostRate(u.Host, 10, 10)
		}
	}
	return &NCBIClient{
		httpClient: httpClient,
		base:       strings.TrimRight(cfg.NCBI.BaseURL, "/"),
		ncbi:       cfg.NCBI,
		maxRetries: cfg.HTTP.MaxRetries,
		userAgent:  cfg.HTTP.UserAgent,
		cache:      store,
		cacheTTL:   cfg.Cache.TTL,
		limiter:    limiter,
		log:        log,
	}
}

// Search runs an esearch for BE/PK literature on the INN, then an
// esummary over the hits to build tagged source candidates.
func (c *NCBIClient) Search(ctx context.Context, inn string, retMax int) ([]model.SourceCandidate, error) {
	if retMax <= 0 {
		retMax = 10
	}
	term := fmt.Sprintf("%s AND (bioequivalence OR pharmacokinetics)", inn)
	query := url.Values{}
	query.Set("db", "pubmed")
	query.Set("term", term)
	query.Set("retmode", "json")
	query.Set("retmax", strconv.Itoa(retMax))
	query.Set("sort", "relevance")

	body, err := c.get(ctx, "esearch.fcgi", query)
	if err != nil {
		return nil, fmt.Errorf("esearch %q: %w", inn, err)
	}

	var search struct {
		ESearchResult struct {
			IDList []string `json:"idlist"`
		} `json:"esearchresult"`
	}
	if err := json.Unmarshal(body, &search); err != nil {
		return nil, fmt.Errorf("parse esearch response: %w", err)
	}
	ids := search.ESearchResult.IDList
	if len(ids) == 0 {
		c.log.Info("no literature hits", zap.String("inn", inn))
		return nil, nil
	}
	return c.summaries(ctx, ids)
}

// FetchAbstract returns the abstract text for a PMID. refID accepts
// either a bare id or the PMID: prefix form used in evidence.
func (c *NCBIClient) FetchAbstract(ctx context.Context, refID string) (string, error) {
	id := strings.TrimPrefix(strings.TrimPrefix(refID, "PMID:"), "pmid:")
	query := url.Values{}
	query.Set("db", "pubmed")
	query.Set("id", id)
	query.Set("rettype", "abstract")
	query.Set("retmode", "text")

	body, err := c.get(ctx, "efetch.fcgi", query)
	if err != nil {
		return "", fmt.Errorf("efetch %s: %w", refID, err)
	}
	return string(body), nil
}

func (c *NCBIClient) summaries(ctx context.Context, ids []string) ([]model.SourceCandidate, error) {
	query := url.Values{}
	query.Set("db", "pubmed")
	query.Set("id", strings.Join(ids, ","))
	query.Set("retmode", "json")

	body, err := c.get(ctx, "esummary.fcgi", query)
	if err != nil {
		return nil, fmt.Errorf("esummary: %w", err)
	}

	var summary struct {
		Result map[string]json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &summary); err != nil {
		return nil, fmt.Errorf("parse esummary response: %w", err)
	}

	candidates := make([]model.SourceCandidate, 0, len(ids))
	for _, id := range ids {
		raw, ok := summary.Result[id]
		if !ok {
			continue
		}
		var doc struct {
			Title   string `json:"title"`
			PubDate string `json:"pubdate"`
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			c.log.Warn("skipping malformed summary", zap.String("pmid", id), zap.Error(err))
			continue
		}
		candidates = append(candidates, classify(id, doc.Title, doc.PubDate))
	}
	return candidates, nil
}

// classify tags a summary with study-type, species, and feeding
// signals extracted from the title.
func classify(pmid, title, pubDate string) model.SourceCandidate {
	cand := model.SourceCandidate{
		RefID: "PMID:" + pmid,
		Title: title,
		Year:  parseYear(pubDate),
	}
	lower := strings.ToLower(title)

	if strings.Contains(lower, "bioequivalence") {
		cand.Tags = append(cand.Tags, "BE")
	}
	if strings.Contains(lower, "pharmacokinetic") {
		cand.Tags = append(cand.Tags, "PK")
	}
	if strings.Contains(lower, "review") || strings.Contains(lower, "meta-analysis") {
		cand.Tags = append(cand.Tags, "review")
	}

	for _, kw := range []string{"rat", "rats", "mice", "mouse", "dog", "dogs", "rabbit", "monkey"} {
		if containsWord(lower, kw) {
			cand.Species = "animal"
			break
		}
	}
	if cand.Species == "" {
		for _, kw := range []string{"volunteer", "volunteers", "subjects", "human", "humans", "patients"} {
			if containsWord(lower, kw) {
				cand.Species = "human"
				break
			}
		}
	}

	fed := strings.Contains(lower, "fed") || strings.Contains(lower, "food effect")
	fasted := strings.Contains(lower, "fasted") || strings.Contains(lower, "fasting")
	switch {
	case fed && !fasted:
		cand.Feeding = "fed"
	case fasted && !fed:
		cand.Feeding = "fasted"
	}
	return cand
}

func containsWord(s, word string) bool {
	for _, field := range strings.FieldsFunc(s, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		if field == word {
			return true
		}
	}
	return false
}

func parseYear(pubDate string) int {
	fields := strings.Fields(pubDate)
	if len(fields) == 0 {
		return 0
	}
	year, err := strconv.Atoi(fields[0])
	if err != nil || year < 1800 || year > 2200 {
		return 0
	}
	return year
}

// get performs one cached, rate-limited, retried GET against an
// E-utilities endpoint.
func (c *NCBIClient) get(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	c.identify(query)
	reqURL := c.base + "/" + endpoint + "?" + query.Encode()

	var key string
	if c.cache != nil {
		key = cache.Key(endpoint, query.Encode())
		if body, found := c.cache.Get(key); found {
			c.log.Debug("cache hit", zap.String("endpoint", endpoint))
			return body, nil
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			c.log.Debug("retrying",
				zap.String("endpoint", endpoint),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		if err := c.limiter.Wait(ctx, reqURL); err != nil {
			return nil, err
		}

		body, retryable, err := c.doOnce(ctx, reqURL)
		if err == nil {
			if c.cache != nil {
				if cerr := c.cache.Set(key, body, c.cacheTTL); cerr != nil {
					c.log.Warn("cache write failed", zap.Error(cerr))
				}
			}
			return body, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, fmt.Errorf("giving up after %d retries: %w", c.maxRetries, lastErr)
}

func (c *NCBIClient) doOnce(ctx context.Context, reqURL string) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors are worth a retry.
		return nil, true, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return nil, true, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, true, fmt.Errorf("read body: %w", err)
	}
	return body, false, nil
}

// identify attaches the tool/email/api_key params NCBI asks for.
func (c *NCBIClient) identify(query url.Values) {
	if c.ncbi.Tool != "" {
		query.Set("tool", c.ncbi.Tool)
	}
	if c.ncbi.Email != "" {
		query.Set("email", c.ncbi.Email)
	}
	if c.ncbi.APIKey != "" {
		query.Set("api_key", c.ncbi.APIKey)
	}
}
