// Package stealth supplies the identity payload backends install when they
// open a session: a rotating user agent, a browser-like header set and an
// init script that hides automation markers.
package stealth

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
)

var desktopChrome = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

var others = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
}

// Rotator hands out user agents. It is safe for concurrent use.
type Rotator struct {
	mutex sync.Mutex
	rng   *rand.Rand
}

func NewRotator(seed uint64) *Rotator {
	return &Rotator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Random returns any known desktop agent.
func (r *Rotator) Random() string {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	n := len(desktopChrome) + len(others)
	i := r.rng.IntN(n)
	if i < len(desktopChrome) {
		return desktopChrome[i]
	}
	return others[i-len(desktopChrome)]
}

// Chrome returns a desktop Chrome agent. Browser backends drive Chromium and
// must not claim to be another engine.
func (r *Rotator) Chrome() string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return desktopChrome[r.rng.IntN(len(desktopChrome))]
}

// Headers returns a navigation header set matching ua.
func Headers(ua string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", ua)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9,pt-BR;q=0.8,pt;q=0.7")
	h.Set("DNT", "1")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Sec-Fetch-User", "?1")

	if strings.Contains(ua, "Chrome/") && !strings.Contains(ua, "Edg/") {
		version := chromeMajor(ua)
		h.Set("Sec-Ch-Ua", fmt.Sprintf(`"Not_A Brand";v="8", "Chromium";v="%s", "Google Chrome";v="%s"`, version, version))
		h.Set("Sec-Ch-Ua-Mobile", "?0")
		h.Set("Sec-Ch-Ua-Platform", platform(ua))
	}

	return h
}

// JSONHeaders is Headers adjusted for API calls.
func JSONHeaders(ua string) http.Header {
	h := Headers(ua)
	h.Set("Accept", "application/json, text/plain, */*")
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Del("Upgrade-Insecure-Requests")
	h.Del("Sec-Fetch-User")
	return h
}

func chromeMajor(ua string) string {
	_, rest, ok := strings.Cut(ua, "Chrome/")
	if !ok {
		return ""
	}
	major, _, _ := strings.Cut(rest, ".")
	return major
}

func platform(ua string) string {
	switch {
	case strings.Contains(ua, "Windows"):
		return `"Windows"`
	case strings.Contains(ua, "Macintosh"):
		return `"macOS"`
	default:
		return `"Linux"`
	}
}

// InitScript returns the script evaluated before any page script runs. cores
// is reported as navigator.hardwareConcurrency.
func InitScript(cores int) string {
	if cores < 2 {
		cores = 4
	}

	return fmt.Sprintf(`(() => {
  Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
  Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en', 'pt-BR'] });
  Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
  Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => %d });
  window.chrome = window.chrome || { runtime: {} };
  const query = window.navigator.permissions && window.navigator.permissions.query;
  if (query) {
    window.navigator.permissions.query = (p) =>
      p.name === 'notifications' ? Promise.resolve({ state: Notification.permission }) : query(p);
  }
})();`, cores)
}
