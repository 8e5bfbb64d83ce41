package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"pdf-annotator/internal/domain"
	apperrors "pdf-annotator/pkg/errors"

	"golang.org/x/image/font/opentype"
	"golang.org/x/sync/singleflight"
)

// FallbackFontFamily is used for runs whose family is not available.
const FallbackFontFamily = "sans-serif"

// Families every rendering environment ships or maps to a standard font.
// These are never fetched.
var systemFontFamilies = map[string]bool{
	"helvetica":       true,
	"arial":           true,
	"times":           true,
	"times new roman": true,
	"timesnewroman":   true,
	"courier":         true,
	"courier new":     true,
	"couriernew":      true,
	"symbol":          true,
	"zapfdingbats":    true,
	"serif":           true,
	"sans-serif":      true,
	"monospace":       true,
}

// FontFamily derives a family name from a PDF base font name:
// "ABCDEF+Calibri-Bold" becomes "Calibri".
func FontFamily(baseFont string) string {
	name := strings.TrimPrefix(baseFont, "/")
	if i := strings.IndexByte(name, '+'); i == 6 {
		name = name[i+1:]
	}
	if i := strings.IndexAny(name, "-,"); i > 0 {
		name = name[:i]
	}
	return strings.TrimSpace(name)
}

// IsSystemFont reports whether family needs no substitute.
func IsSystemFont(family string) bool {
	if family == "" {
		return true
	}
	return systemFontFamilies[strings.ToLower(family)]
}

// FontSubstituter tracks missing font families for one viewer. Each family
// is fetched at most once per viewer; failures are silent.
type FontSubstituter struct {
	provider domain.FontProvider
	logger   domain.Logger
	timeout  time.Duration

	// group collapses concurrent loads of one family into a single fetch.
	group singleflight.Group

	mu        sync.Mutex
	available map[string]bool
	failed    map[string]bool
	pending   sync.WaitGroup
}

// NewFontSubstituter creates a substituter. A nil provider disables fetching.
func NewFontSubstituter(provider domain.FontProvider, logger domain.Logger) *FontSubstituter {
	return &FontSubstituter{
		provider:  provider,
		logger:    logger,
		timeout:   10 * time.Second,
		available: make(map[string]bool),
		failed:    make(map[string]bool),
	}
}

// Resolve returns the family a run should render with and whether a
// substitute fetch was required. It never blocks on the network: an
// unsettled family is loaded in the background.
func (f *FontSubstituter) Resolve(family string) (string, bool) {
	if IsSystemFont(family) {
		if family == "" {
			return FallbackFontFamily, false
		}
		return family, false
	}

	loaded, settled := f.outcome(strings.ToLower(family))
	if loaded {
		return family, false
	}
	if !settled && f.provider != nil {
		f.pending.Add(1)
		go func() {
			defer f.pending.Done()
			f.Load(context.Background(), family)
		}()
	}
	return FallbackFontFamily, true
}

// Load fetches and validates a substitute for family, blocking until the
// outcome is known. Callers loading the same family share one fetch, and a
// settled family is never fetched again.
func (f *FontSubstituter) Load(ctx context.Context, family string) bool {
	if IsSystemFont(family) {
		return true
	}
	if f.provider == nil {
		return false
	}

	key := strings.ToLower(family)
	v, _, _ := f.group.Do(key, func() (interface{}, error) {
		if loaded, settled := f.outcome(key); settled {
			return loaded, nil
		}

		fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()
		err := f.fetch(fetchCtx, family)
		if err != nil && ctx.Err() != nil {
			// Abandoned by the caller; a later load may try again.
			return false, nil
		}

		f.mu.Lock()
		if err != nil {
			f.failed[key] = true
		} else {
			f.available[key] = true
		}
		f.mu.Unlock()

		if err != nil {
			f.logger.Debug("Font substitution failed", "family", family, "error", apperrors.NewFontSubstitutionError(family, err))
			return false, nil
		}
		f.logger.Debug("Font substitute loaded", "family", family)
		return true, nil
	})
	return v.(bool)
}

// Available reports whether a substitute for family was loaded.
func (f *FontSubstituter) Available(family string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available[strings.ToLower(family)]
}

// Wait blocks until background fetches finish.
func (f *FontSubstituter) Wait() {
	f.pending.Wait()
}

func (f *FontSubstituter) outcome(key string) (loaded, settled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.available[key] {
		return true, true
	}
	return false, f.failed[key]
}

func (f *FontSubstituter) fetch(ctx context.Context, family string) error {
	data, err := f.provider.Fetch(ctx, family)
	if err != nil {
		return err
	}
	if _, err := opentype.Parse(data); err != nil {
		return fmt.Errorf("invalid font program: %w", err)
	}
	return nil
}

// HTTPFontProvider fetches font files from a mirror. The URL template
// contains one %s for the escaped family name.
type HTTPFontProvider struct {
	urlTemplate string
	client      *http.Client
}

// NewHTTPFontProvider returns nil when urlTemplate is empty.
func NewHTTPFontProvider(urlTemplate string, client *http.Client) *HTTPFontProvider {
	if urlTemplate == "" {
		return nil
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFontProvider{urlTemplate: urlTemplate, client: client}
}

// Fetch downloads the font program for family.
func (p *HTTPFontProvider) Fetch(ctx context.Context, family string) ([]byte, error) {
	endpoint := fmt.Sprintf(p.urlTemplate, url.PathEscape(family))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("font mirror returned %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 16<<20))
}
