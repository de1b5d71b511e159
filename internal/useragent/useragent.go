// Package useragent decorates outgoing requests with a randomly chosen
// browser identity so consecutive fetches do not share one fingerprint.
package useragent

import (
	"math/rand/v2"
	"net/http"
	"sort"
	"sync"
)

// Browser families the decorator picks from before choosing a concrete string.
const (
	Chrome           = "chrome"
	InternetExplorer = "internetexplorer"
	Firefox          = "firefox"
	Safari           = "safari"
	Opera            = "opera"
)

var defaultAgents = map[string][]string{
	Chrome: {
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	},
	InternetExplorer: {
		"Mozilla/5.0 (Windows NT 10.0; WOW64; Trident/7.0; rv:11.0) like Gecko",
		"Mozilla/5.0 (compatible; MSIE 10.0; Windows NT 6.2; Trident/6.0)",
	},
	Firefox: {
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 14.4; rv:124.0) Gecko/20100101 Firefox/124.0",
		"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:123.0) Gecko/20100101 Firefox/123.0",
	},
	Safari: {
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4.1 Safari/605.1.15",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
	},
	Opera: {
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 OPR/110.0.0.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36 OPR/109.0.0.0",
	},
}

var acceptLanguages = []string{
	"en-US,en;q=0.9",
	"en-US,en;q=0.8",
	"en-GB,en;q=0.9,en-US;q=0.8",
	"en-US,en;q=0.7,es;q=0.3",
}

// Decorator implements crawler.RequestDecorator. It is safe for concurrent use.
type Decorator struct {
	mu       sync.Mutex
	rng      *rand.Rand
	families []string
	agents   map[string][]string
}

// Option customizes a Decorator.
type Option func(*Decorator)

// WithSeed makes header choices reproducible.
func WithSeed(seed uint64) Option {
	return func(d *Decorator) {
		d.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithFamilies restricts the browser families considered. Unknown names are
// ignored; if none remain the full default set is used.
func WithFamilies(families ...string) Option {
	return func(d *Decorator) {
		var kept []string
		for _, f := range families {
			if _, ok := d.agents[f]; ok {
				kept = append(kept, f)
			}
		}
		if len(kept) > 0 {
			d.families = kept
		}
	}
}

// New builds a Decorator over the built-in browser table.
func New(opts ...Option) *Decorator {
	d := &Decorator{
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		agents: defaultAgents,
	}
	for family := range d.agents {
		d.families = append(d.families, family)
	}
	sort.Strings(d.families)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decorate returns a fresh header set: a random family first, then a random
// agent string within it.
func (d *Decorator) Decorate() http.Header {
	d.mu.Lock()
	family := d.families[d.rng.IntN(len(d.families))]
	pool := d.agents[family]
	agent := pool[d.rng.IntN(len(pool))]
	lang := acceptLanguages[d.rng.IntN(len(acceptLanguages))]
	d.mu.Unlock()

	h := http.Header{}
	h.Set("User-Agent", agent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Language", lang)
	return h
}

// Agents returns every agent string known for a family.
func Agents(family string) []string {
	return append([]string(nil), defaultAgents[family]...)
}
