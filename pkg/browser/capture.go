package browser

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

// ConsoleMessage is one console entry or uncaught exception.
type ConsoleMessage struct {
	Level string    `json:"level"`
	Text  string    `json:"text"`
	URL   string    `json:"url,omitempty"`
	Time  time.Time `json:"time"`
}

// IsError reports whether the message is an error or exception.
func (m ConsoleMessage) IsError() bool {
	return m.Level == "error" || m.Level == "exception" || m.Level == "assert"
}

// NetworkRequest is one request and its response, if any.
type NetworkRequest struct {
	ID           string    `json:"id"`
	Method       string    `json:"method"`
	URL          string    `json:"url"`
	ResourceType string    `json:"resource_type,omitempty"`
	Status       int       `json:"status,omitempty"`
	StatusText   string    `json:"status_text,omitempty"`
	Failed       bool      `json:"failed,omitempty"`
	Canceled     bool      `json:"canceled,omitempty"`
	ErrorText    string    `json:"error_text,omitempty"`
	Time         time.Time `json:"time"`
}

// IsError reports whether the request failed or returned a status >= 400.
// Requests the page cancelled itself are not errors.
func (r NetworkRequest) IsError() bool {
	if r.Canceled {
		return false
	}
	return r.Failed || r.Status >= 400
}

// String renders the request for reports.
func (r NetworkRequest) String() string {
	switch {
	case r.Failed:
		return fmt.Sprintf("%s %s failed: %s", r.Method, r.URL, r.ErrorText)
	case r.Status > 0:
		return fmt.Sprintf("%s %s -> %d", r.Method, r.URL, r.Status)
	default:
		return fmt.Sprintf("%s %s (pending)", r.Method, r.URL)
	}
}

// defaultNoise matches dev-server and tooling chatter that is never a
// defect in the page under test.
var defaultNoise = []string{
	`\[vite\]`,
	`\[HMR\]`,
	`\[webpack-dev-server\]`,
	`\[WDS\]`,
	`\[Fast Refresh\]`,
	`Download the React DevTools`,
	`Download the Vue Devtools`,
	`DevTools failed to load source map`,
	`hot-update\.(js|json)`,
	`sockjs-node`,
	`__vite_ping`,
	`/@vite/client`,
	`_next/webpack-hmr`,
}

// internalPrefixes are URL schemes that belong to the browser itself.
var internalPrefixes = []string{
	"chrome://",
	"chrome-extension://",
	"devtools://",
	"about:",
	"data:",
	"blob:",
}

// NoiseFilter drops known-benign console messages and requests.
type NoiseFilter struct {
	patterns []*regexp.Regexp
}

// NewNoiseFilter builds a filter from the defaults plus extra patterns.
func NewNoiseFilter(extra ...string) (*NoiseFilter, error) {
	f := &NoiseFilter{}
	for _, p := range append(append([]string{}, defaultNoise...), extra...) {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile noise pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

// DefaultNoiseFilter returns a filter with only the built-in patterns.
func DefaultNoiseFilter() *NoiseFilter {
	f, _ := NewNoiseFilter()
	return f
}

// IsNoise reports whether text matches a noise pattern.
func (f *NoiseFilter) IsNoise(text string) bool {
	if f == nil {
		return false
	}
	for _, re := range f.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// IsNoiseURL reports whether url belongs to the browser or dev tooling.
func (f *NoiseFilter) IsNoiseURL(url string) bool {
	for _, prefix := range internalPrefixes {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return f.IsNoise(url)
}

// Capture buffers console messages and network requests for one page.
// It is safe for concurrent use; event listeners write while stages read.
type Capture struct {
	mu       sync.RWMutex
	filter   *NoiseFilter
	console  []ConsoleMessage
	requests []*NetworkRequest
	byID     map[string]*NetworkRequest
	max      int
}

// NewCapture creates a capture that keeps at most max entries per stream.
func NewCapture(filter *NoiseFilter, max int) *Capture {
	if filter == nil {
		filter = DefaultNoiseFilter()
	}
	if max <= 0 {
		max = 5000
	}
	return &Capture{
		filter: filter,
		byID:   make(map[string]*NetworkRequest),
		max:    max,
	}
}

// AddConsole records a console message.
func (c *Capture) AddConsole(m ConsoleMessage) {
	if m.Time.IsZero() {
		m.Time = time.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.console = append(c.console, m)
	if len(c.console) > c.max {
		c.console = c.console[1:]
	}
}

// RequestStarted records an outgoing request.
func (c *Capture) RequestStarted(id, method, url, resourceType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := &NetworkRequest{ID: id, Method: method, URL: url, ResourceType: resourceType, Time: time.Now()}
	c.requests = append(c.requests, r)
	c.byID[id] = r
	if len(c.requests) > c.max {
		delete(c.byID, c.requests[0].ID)
		c.requests = c.requests[1:]
	}
}

// ResponseReceived records the response status for a request.
func (c *Capture) ResponseReceived(id, url string, status int, statusText string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.byID[id]
	if !ok {
		r = &NetworkRequest{ID: id, Method: "GET", URL: url, Time: time.Now()}
		c.requests = append(c.requests, r)
		c.byID[id] = r
	}
	r.Status = status
	r.StatusText = statusText
}

// LoadingFailed marks a request as failed.
func (c *Capture) LoadingFailed(id, errorText string, canceled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.byID[id]
	if !ok {
		return
	}
	r.Failed = true
	r.Canceled = canceled
	r.ErrorText = errorText
}

// ConsoleMessages returns non-noise messages whose text matches pattern.
// A nil pattern matches everything.
func (c *Capture) ConsoleMessages(pattern *regexp.Regexp) []ConsoleMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []ConsoleMessage
	for _, m := range c.console {
		if c.filter.IsNoise(m.Text) || (m.URL != "" && c.filter.IsNoiseURL(m.URL)) {
			continue
		}
		if pattern != nil && !pattern.MatchString(m.Text) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// NetworkRequests returns non-noise requests whose URL contains substr.
// An empty substr matches everything.
func (c *Capture) NetworkRequests(substr string) []NetworkRequest {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []NetworkRequest
	for _, r := range c.requests {
		if c.filter.IsNoiseURL(r.URL) {
			continue
		}
		if substr != "" && !strings.Contains(r.URL, substr) {
			continue
		}
		out = append(out, *r)
	}
	return out
}

// Reset clears captured messages and requests.
func (c *Capture) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.console = nil
	c.requests = nil
	c.byID = make(map[string]*NetworkRequest)
}
