// Package intel resolves a molecule name to the identifiers that make good
// patent queries: development codes, CAS number and synonyms, using the
// PubChem PUG REST API.
package intel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/dataholics-selfience/pharmyrus/internal/pacing"
)

const (
	DefaultBaseURL = "https://pubchem.ncbi.nlm.nih.gov/rest/pug"
	DefaultTimeout = 10 * time.Second

	maxSynonyms = 100
	maxDevCodes = 20
)

var ErrNotFound = errors.New("molecule not found")

var (
	devCodePattern = regexp.MustCompile(`(?i)^[A-Z]{2,5}[-\s]?\d{3,7}[A-Z]?$`)
	casPattern     = regexp.MustCompile(`^\d{2,7}-\d{2}-\d$`)
)

type Molecule struct {
	Name             string   `json:"name"`
	CID              int      `json:"cid,omitempty"`
	CAS              string   `json:"cas,omitempty"`
	MolecularFormula string   `json:"molecular_formula,omitempty"`
	MolecularWeight  string   `json:"molecular_weight,omitempty"`
	IUPACName        string   `json:"iupac_name,omitempty"`
	SMILES           string   `json:"smiles,omitempty"`
	InChIKey         string   `json:"inchi_key,omitempty"`
	DevCodes         []string `json:"dev_codes,omitempty"`
	Synonyms         []string `json:"synonyms,omitempty"`
}

type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	Retry     pacing.RetryPolicy
	Transport http.RoundTripper
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Pharmyrus/6 (patent research)"
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		logger: logger.With(slog.String("component", "intel")),
	}
}

// Lookup resolves name. Properties are best effort; a missing CID is
// ErrNotFound.
func (c *Client) Lookup(ctx context.Context, name string) (Molecule, error) {
	mol := Molecule{Name: name}

	cid, err := c.cid(ctx, name)
	if err != nil {
		return mol, err
	}
	mol.CID = cid

	if err := c.properties(ctx, &mol); err != nil {
		c.logger.Warn("pubchem properties unavailable", slog.Int("cid", cid), slog.Any("err", err))
	}

	synonyms, err := c.synonyms(ctx, cid)
	if err != nil {
		c.logger.Warn("pubchem synonyms unavailable", slog.Int("cid", cid), slog.Any("err", err))
	}
	if len(synonyms) > maxSynonyms {
		synonyms = synonyms[:maxSynonyms]
	}
	mol.Synonyms = synonyms
	mol.DevCodes = DevCodes(synonyms)
	mol.CAS = CAS(synonyms)

	c.logger.Info("molecule resolved",
		slog.String("molecule", name),
		slog.Int("cid", cid),
		slog.Int("dev_codes", len(mol.DevCodes)),
		slog.String("cas", mol.CAS))

	return mol, nil
}

func (c *Client) cid(ctx context.Context, name string) (int, error) {
	var resp struct {
		IdentifierList struct {
			CID []int `json:"CID"`
		} `json:"IdentifierList"`
	}

	if err := c.get(ctx, "/compound/name/"+url.PathEscape(name)+"/cids/JSON", &resp); err != nil {
		return 0, err
	}
	if len(resp.IdentifierList.CID) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	return resp.IdentifierList.CID[0], nil
}

func (c *Client) properties(ctx context.Context, mol *Molecule) error {
	var resp struct {
		PropertyTable struct {
			Properties []struct {
				MolecularFormula string          `json:"MolecularFormula"`
				MolecularWeight  json.RawMessage `json:"MolecularWeight"`
				IUPACName        string          `json:"IUPACName"`
				CanonicalSMILES  string          `json:"CanonicalSMILES"`
				InChIKey         string          `json:"InChIKey"`
			} `json:"Properties"`
		} `json:"PropertyTable"`
	}

	path := fmt.Sprintf("/compound/cid/%d/property/MolecularFormula,MolecularWeight,IUPACName,CanonicalSMILES,InChIKey/JSON", mol.CID)
	if err := c.get(ctx, path, &resp); err != nil {
		return err
	}
	if len(resp.PropertyTable.Properties) == 0 {
		return nil
	}

	p := resp.PropertyTable.Properties[0]
	mol.MolecularFormula = p.MolecularFormula
	mol.MolecularWeight = strings.Trim(string(p.MolecularWeight), `"`)
	mol.IUPACName = p.IUPACName
	mol.SMILES = p.CanonicalSMILES
	mol.InChIKey = p.InChIKey

	return nil
}

func (c *Client) synonyms(ctx context.Context, cid int) ([]string, error) {
	var resp struct {
		InformationList struct {
			Information []struct {
				Synonym []string `json:"Synonym"`
			} `json:"Information"`
		} `json:"InformationList"`
	}

	if err := c.get(ctx, fmt.Sprintf("/compound/cid/%d/synonyms/JSON", cid), &resp); err != nil {
		return nil, err
	}
	if len(resp.InformationList.Information) == 0 {
		return nil, nil
	}

	var out []string
	for _, s := range resp.InformationList.Information[0].Synonym {
		if len(s) > 2 && len(s) < 200 {
			out = append(out, s)
		}
	}

	return out, nil
}

type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("pubchem: http %d", e.status)
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status == http.StatusServiceUnavailable || se.status == http.StatusTooManyRequests || se.status >= 500
	}
	var ue *url.Error
	return errors.As(err, &ue)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return pacing.Retry(ctx, c.cfg.Retry, retryable, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("User-Agent", c.cfg.UserAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return ErrNotFound
		}
		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, resp.Body)
			return &statusError{status: resp.StatusCode}
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode pubchem response: %w", err)
		}
		return nil
	})
}

// DevCodes picks development codes such as ODM-201 or BAY-1841788 out of
// synonyms.
func DevCodes(synonyms []string) []string {
	var codes []string
	for _, s := range synonyms {
		s = strings.TrimSpace(s)
		if !devCodePattern.MatchString(s) || strings.Contains(strings.ToUpper(s), "CID") {
			continue
		}
		codes = append(codes, s)
		if len(codes) >= maxDevCodes {
			break
		}
	}
	return codes
}

// CAS returns the first CAS registry number among synonyms.
func CAS(synonyms []string) string {
	for _, s := range synonyms {
		if casPattern.MatchString(s) {
			return s
		}
	}
	return ""
}
