// Package prefilter removes dead URLs before they reach the crawler. It
// probes each domain at most once per run with a cheap HEAD request and
// filters out hosts that fail DNS resolution, time out, or sit on a known
// dead-domain list. Anything ambiguous passes through; the crawler is the
// authority on whether a page is actually fetchable.
package prefilter

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/urlshield/urlshield/internal/model"
)

const (
	defaultTimeout    = 2 * time.Second
	defaultMaxWorkers = 10
)

// defaultDeadDomains are domain parking services. A URL resolving there no
// longer hosts the content that put it on the input list.
var defaultDeadDomains = []string{
	"sedoparking.com",
	"parkingcrew.net",
	"bodis.com",
}

// Result describes a URL the prefilter removed.
type Result struct {
	URL    string
	Host   string
	Reason model.FilterReason
	Detail string
}

// Config tunes the prober. Zero values take defaults.
type Config struct {
	// Timeout bounds each probe request.
	Timeout time.Duration
	// MaxWorkers caps concurrent probes.
	MaxWorkers int
	// DeadDomains replaces the built-in dead-domain list when non-nil.
	DeadDomains []string
	// SkippedPath is the CSV sidecar recording filtered URLs. Empty
	// disables the sidecar.
	SkippedPath string
	// Client overrides the probe HTTP client.
	Client *http.Client
}

// Prober probes domains and caches the outcome for the life of the run.
type Prober struct {
	client     *http.Client
	cache      map[string]probeOutcome
	dead       map[string]struct{}
	skipped    string
	timeout    time.Duration
	maxWorkers int
	mu         sync.Mutex
}

type probeOutcome struct {
	reason model.FilterReason
	detail string
}

// New creates a Prober from config.
func New(cfg Config) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = defaultMaxWorkers
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	domains := cfg.DeadDomains
	if domains == nil {
		domains = defaultDeadDomains
	}
	dead := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		dead[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}

	return &Prober{
		client:     client,
		cache:      make(map[string]probeOutcome),
		dead:       dead,
		skipped:    cfg.SkippedPath,
		timeout:    cfg.Timeout,
		maxWorkers: cfg.MaxWorkers,
	}
}

// Probe partitions urls into reachable and skipped. Each host is probed at
// most once; later URLs on the same host reuse the cached outcome. Skipped
// URLs are appended to the sidecar file with their reasons.
func (p *Prober) Probe(ctx context.Context, urls []string) ([]string, []Result, error) {
	hosts := make(map[string]string) // host -> first URL seen for it
	invalid := make(map[string]string)
	for _, raw := range urls {
		host, err := hostOf(raw)
		if err != nil {
			invalid[raw] = err.Error()
			continue
		}
		if _, seen := hosts[host]; !seen {
			hosts[host] = raw
		}
	}

	p.probeHosts(ctx, hosts)

	reachable := make([]string, 0, len(urls))
	var skipped []Result
	for _, raw := range urls {
		if detail, ok := invalid[raw]; ok {
			skipped = append(skipped, Result{
				URL:    raw,
				Reason: model.ReasonInvalidURL,
				Detail: detail,
			})
			continue
		}
		host, _ := hostOf(raw)
		p.mu.Lock()
		outcome := p.cache[host]
		p.mu.Unlock()
		if outcome.reason == model.ReasonHealthy {
			reachable = append(reachable, raw)
			continue
		}
		skipped = append(skipped, Result{
			URL:    raw,
			Host:   host,
			Reason: outcome.reason,
			Detail: outcome.detail,
		})
	}

	if err := p.recordSkipped(skipped); err != nil {
		slog.Warn("failed to record skipped URLs", "path", p.skipped, "error", err)
	}
	return reachable, skipped, nil
}

// probeHosts fills the cache for every host not already probed this run.
func (p *Prober) probeHosts(ctx context.Context, hosts map[string]string) {
	sem := make(chan struct{}, p.maxWorkers)
	var wg sync.WaitGroup

	for host, sample := range hosts {
		p.mu.Lock()
		_, cached := p.cache[host]
		p.mu.Unlock()
		if cached {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(host, sample string) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := p.probeHost(ctx, host, sample)
			p.mu.Lock()
			p.cache[host] = outcome
			p.mu.Unlock()
		}(host, sample)
	}
	wg.Wait()
}

func (p *Prober) probeHost(ctx context.Context, host, sample string) probeOutcome {
	if domain, dead := p.knownDead(host); dead {
		return probeOutcome{
			reason: model.ReasonKnownDead,
			detail: fmt.Sprintf("%s is on the dead domain list", domain),
		}
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.do(probeCtx, http.MethodHead, sample)
	if err == nil && resp.StatusCode == http.StatusMethodNotAllowed {
		// Some servers reject HEAD outright; retry with GET before
		// drawing any conclusion.
		resp, err = p.do(probeCtx, http.MethodGet, sample)
	}
	if err != nil {
		return classify(err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	_ = resp.Body.Close()
	return probeOutcome{reason: model.ReasonHealthy}
}

func (p *Prober) do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	if method == http.MethodHead {
		_ = resp.Body.Close()
	}
	return resp, nil
}

// classify maps a probe error to a filter outcome. Only DNS failures and
// timeouts are decisive; every other error fails open because transient
// connection problems do not prove a domain is dead.
func classify(err error) probeOutcome {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return probeOutcome{reason: model.ReasonDNSError, detail: dnsErr.Error()}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return probeOutcome{reason: model.ReasonTimeout, detail: err.Error()}
	}

	slog.Debug("probe failed open", "error", err)
	return probeOutcome{reason: model.ReasonHealthy, detail: err.Error()}
}

// knownDead matches host against the dead-domain list. A listed domain
// covers itself and every subdomain under it.
func (p *Prober) knownDead(host string) (string, bool) {
	host = strings.TrimPrefix(host, "www.")
	if _, ok := p.dead[host]; ok {
		return host, true
	}
	for d := range p.dead {
		if strings.HasSuffix(host, "."+d) {
			return d, true
		}
	}
	return "", false
}

func hostOf(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("no host in %q", raw)
	}
	return host, nil
}

// recordSkipped appends skipped URLs to the sidecar CSV, creating it with a
// header on first use. Sidecar problems are reported to the caller for
// logging only and never fail the run.
func (p *Prober) recordSkipped(skipped []Result) error {
	if p.skipped == "" || len(skipped) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p.skipped), 0o750); err != nil {
		return err
	}

	_, statErr := os.Stat(p.skipped)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(p.skipped, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write([]string{"URL", "Host", "Reason", "Detail", "Timestamp"}); err != nil {
			return err
		}
	}
	now := time.Now().Format(time.RFC3339)
	for _, r := range skipped {
		row := []string{r.URL, r.Host, string(r.Reason), r.Detail, now}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
