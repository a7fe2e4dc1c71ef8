// Fakesite is a local stand-in for the patent search site and the WIPO
// REST endpoint, used to run the lightweight backend end to end.
//
// Usage:
//
//	go run ./scripts/fakesite -port 8081 -fail-rate 0.2
//
// Point a lightweight backend at it with search_url: http://localhost:8081
// and wipo_url: http://localhost:8081/wipo. Failure and block injection
// exercise the circuit breakers and the fallback chain.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"strings"

	"github.com/dataholics-selfience/pharmyrus/pkg/logger"
)

type family struct {
	WO       string
	Title    string
	Abstract string
	Members  map[string]string
}

// catalog maps a lowercased molecule to its WO families.
var catalog = map[string][]family{
	"darolutamide": {
		{
			WO:       "WO2011140324",
			Title:    "Androgen receptor modulating compounds",
			Abstract: "Carboxamide compounds acting as androgen receptor antagonists.",
			Members:  map[string]string{"BR": "BR112013001234", "US": "US9657003"},
		},
		{
			WO:       "WO2016140201",
			Title:    "Process for preparing an androgen receptor antagonist",
			Abstract: "A process for the manufacture of darolutamide and intermediates.",
			Members:  map[string]string{"BR": "BR112017018765"},
		},
	},
}

// padding keeps pages above the minimum content size backends accept.
var padding = strings.Repeat("<p>Lorem ipsum dolor sit amet, consectetur adipiscing elit.</p>\n", 12)

type site struct {
	logger    *slog.Logger
	failRate  float64
	blockRate float64
}

func (s *site) inject(w http.ResponseWriter, r *http.Request) bool {
	switch n := rand.Float64(); {
	case n < s.failRate:
		s.logger.Info("injected failure", slog.String("path", r.URL.Path))
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
		return true
	case n < s.failRate+s.blockRate:
		s.logger.Info("injected block page", slog.String("path", r.URL.Path))
		fmt.Fprint(w, "<html><body>Our systems have detected unusual traffic from your network.</body></html>")
		return true
	}
	return false
}

func (s *site) search(w http.ResponseWriter, r *http.Request) {
	if s.inject(w, r) {
		return
	}

	q := strings.ToLower(r.URL.Query().Get("q"))

	var b strings.Builder
	b.WriteString("<html><head><title>Search results</title></head><body>\n")
	for molecule, families := range catalog {
		if !strings.Contains(q, molecule) {
			continue
		}
		for _, f := range families {
			fmt.Fprintf(&b, "<article><a href=\"/patent/%s/en\">%s</a> %s</article>\n", f.WO, f.WO, f.Title)
		}
	}
	b.WriteString(padding)
	b.WriteString("</body></html>")

	s.logger.Debug("search", slog.String("q", q))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, b.String())
}

func (s *site) patent(w http.ResponseWriter, r *http.Request) {
	if s.inject(w, r) {
		return
	}

	id := strings.ToUpper(r.PathValue("id"))
	f, ok := lookup(id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<html><head><title>%s - %s</title><meta name=\"description\" content=%q></head><body>\n", f.WO, f.Title, f.Abstract)
	fmt.Fprintf(w, "<h1>%s</h1><section>Worldwide applications:", f.Title)
	for _, num := range f.Members {
		fmt.Fprintf(w, " %s", num)
	}
	fmt.Fprintf(w, "</section>\n%s</body></html>", padding)
}

type wipoPatent struct {
	Title         string       `json:"EN_TI"`
	Abstract      string       `json:"EN_AB"`
	NationalPhase []wipoMember `json:"nationalPhase"`
}

type wipoMember struct {
	Country           string `json:"country"`
	ApplicationNumber string `json:"applicationNumber"`
}

func (s *site) wipo(w http.ResponseWriter, r *http.Request) {
	if s.inject(w, r) {
		return
	}

	resp := struct {
		Results []wipoPatent `json:"results"`
	}{Results: []wipoPatent{}}

	if f, ok := lookup("WO" + r.URL.Query().Get("query")); ok {
		p := wipoPatent{Title: f.Title, Abstract: f.Abstract}
		for country, num := range f.Members {
			p.NationalPhase = append(p.NationalPhase, wipoMember{Country: country, ApplicationNumber: num})
		}
		resp.Results = append(resp.Results, p)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("encode response", slog.Any("err", err))
	}
}

func lookup(wo string) (family, bool) {
	for _, families := range catalog {
		for _, f := range families {
			if f.WO == wo {
				return f, true
			}
		}
	}
	return family{}, false
}

func main() {
	port := flag.Int("port", 8081, "port to listen on")
	failRate := flag.Float64("fail-rate", 0, "share of requests answered with 503")
	blockRate := flag.Float64("block-rate", 0, "share of requests answered with a block page")
	flag.Parse()

	s := &site{
		logger:    logger.New("debug", false, "dev"),
		failRate:  *failRate,
		blockRate: *blockRate,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.search)
	mux.HandleFunc("GET /patent/{id}/en", s.patent)
	mux.HandleFunc("GET /wipo", s.wipo)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	addr := fmt.Sprintf(":%d", *port)
	s.logger.Info("starting fake patent site", slog.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		s.logger.Error("server failed", slog.Any("err", err))
		os.Exit(1)
	}
}
