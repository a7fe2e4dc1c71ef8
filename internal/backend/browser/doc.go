// Package browser implements the headless Chromium backends on chromedp.
//
// The primary variant launches a local browser through an exec allocator.
// The secondary variant attaches to a remote DevTools endpoint when one is
// configured and otherwise launches its own browser with a different
// fingerprint profile, so a block against one does not take out the other.
package browser
