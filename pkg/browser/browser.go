// Package browser drives a real browser for the visual, interaction and
// console/network stages.
package browser

import (
	"context"
	"regexp"
)

// Automation is the browser collaborator used by stage runners. Every
// call blocks until the browser reports an observation or ctx ends.
type Automation interface {
	// Navigate loads url and waits for the document body.
	Navigate(ctx context.Context, url string) error

	// WaitVisible waits until selector is visible.
	WaitVisible(ctx context.Context, selector string) error

	// Screenshot writes a PNG of the viewport, or the full page, to path.
	Screenshot(ctx context.Context, path string, fullPage bool) error

	// Text returns the rendered text of selector.
	Text(ctx context.Context, selector string) (string, error)

	// HTML returns the outer HTML of selector.
	HTML(ctx context.Context, selector string) (string, error)

	// Click clicks selector.
	Click(ctx context.Context, selector string) error

	// Fill replaces the value of the input at selector.
	Fill(ctx context.Context, selector, value string) error

	// ConsoleMessages returns captured non-noise console messages
	// matching pattern.
	ConsoleMessages(pattern *regexp.Regexp) []ConsoleMessage

	// NetworkRequests returns captured requests whose URL contains substr.
	NetworkRequests(substr string) []NetworkRequest

	// Reset clears captured console and network buffers.
	Reset()

	// Close releases the browser.
	Close() error
}
