package dns

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/mlhmz/dockermc-dashboard/internal/config"
)

// ErrRecordNotFound is returned when no record exists for a subdomain
var ErrRecordNotFound = errors.New("dns record not found")

// PorkbunProvider manages records through the Porkbun JSON API
type PorkbunProvider struct {
	baseURL    string
	apiKey     string
	secretKey  string
	domain     string
	target     string
	ttl        int
	httpClient *http.Client
	logger     *slog.Logger
}

// NewPorkbunProvider creates a provider for cfg.Domain
func NewPorkbunProvider(cfg config.DNSConfig, logger *slog.Logger) (*PorkbunProvider, error) {
	if cfg.Domain == "" || cfg.Target == "" {
		return nil, fmt.Errorf("DNS_DOMAIN and DNS_TARGET are required for the porkbun provider")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("DNS_API_KEY and DNS_SECRET_KEY are required for the porkbun provider")
	}
	return &PorkbunProvider{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		secretKey:  cfg.SecretKey,
		domain:     cfg.Domain,
		target:     cfg.Target,
		ttl:        cfg.TTL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

func (p *PorkbunProvider) Enabled() bool { return true }

// srvName is the SRV record name that points clients at a non-default port
func srvName(subdomain string) string {
	return "_minecraft._tcp." + subdomain
}

// CreateRecord creates an A record for the subdomain and, for non-default
// ports, an SRV record pointing at it.
func (p *PorkbunProvider) CreateRecord(ctx context.Context, rec Record) error {
	if !ValidSubdomain(rec.Subdomain) {
		return fmt.Errorf("invalid subdomain %q", rec.Subdomain)
	}

	if err := p.create(ctx, map[string]string{
		"name":    rec.Subdomain,
		"type":    "A",
		"content": p.target,
		"ttl":     strconv.Itoa(p.ttl),
	}); err != nil {
		return fmt.Errorf("failed to create A record for %s: %w", rec.Subdomain, err)
	}

	if rec.Port > 0 && rec.Port != DefaultMinecraftPort {
		fqdn := rec.Subdomain + "." + p.domain
		if err := p.create(ctx, map[string]string{
			"name":    srvName(rec.Subdomain),
			"type":    "SRV",
			"content": fmt.Sprintf("5 %d %s", rec.Port, fqdn),
			"prio":    "0",
			"ttl":     strconv.Itoa(p.ttl),
		}); err != nil {
			// The A record must not outlive a failed create
			if delErr := p.call(ctx, p.deletePath("A", rec.Subdomain), nil); delErr != nil {
				p.logger.WarnContext(ctx, "Failed to roll back A record", "subdomain", rec.Subdomain, "error", delErr)
				return errors.Join(
					fmt.Errorf("failed to create SRV record for %s: %w", rec.Subdomain, err),
					fmt.Errorf("failed to roll back A record for %s: %w", rec.Subdomain, delErr),
				)
			}
			return fmt.Errorf("failed to create SRV record for %s: %w", rec.Subdomain, err)
		}
	}

	p.logger.InfoContext(ctx, "DNS record created", "subdomain", rec.Subdomain, "domain", p.domain, "owner", rec.Owner)
	return nil
}

// DeleteRecord removes the A and SRV records of the subdomain
func (p *PorkbunProvider) DeleteRecord(ctx context.Context, rec Record) error {
	aErr := p.call(ctx, p.deletePath("A", rec.Subdomain), nil)
	if aErr != nil {
		return fmt.Errorf("failed to delete A record for %s: %w", rec.Subdomain, aErr)
	}

	if rec.Port > 0 && rec.Port != DefaultMinecraftPort {
		if err := p.call(ctx, p.deletePath("SRV", srvName(rec.Subdomain)), nil); err != nil && !errors.Is(err, ErrRecordNotFound) {
			return fmt.Errorf("failed to delete SRV record for %s: %w", rec.Subdomain, err)
		}
	}

	p.logger.InfoContext(ctx, "DNS record deleted", "subdomain", rec.Subdomain, "domain", p.domain, "owner", rec.Owner)
	return nil
}

func (p *PorkbunProvider) deletePath(recordType, name string) string {
	return fmt.Sprintf("/dns/deleteByNameType/%s/%s/%s", p.domain, recordType, name)
}

func (p *PorkbunProvider) create(ctx context.Context, fields map[string]string) error {
	return p.call(ctx, "/dns/create/"+p.domain, fields)
}

type porkbunResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// call posts an authenticated request; Porkbun authenticates in the body
func (p *PorkbunProvider) call(ctx context.Context, path string, fields map[string]string) error {
	body := map[string]string{
		"apikey":       p.apiKey,
		"secretapikey": p.secretKey,
	}
	for k, v := range fields {
		body[k] = v
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("registrar request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read registrar response: %w", err)
	}

	var status porkbunResponse
	_ = json.Unmarshal(raw, &status)
	if resp.StatusCode != http.StatusOK || !strings.EqualFold(status.Status, "SUCCESS") {
		msg := status.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		if resp.StatusCode == http.StatusNotFound || strings.Contains(strings.ToLower(msg), "not found") {
			return fmt.Errorf("%w: %s", ErrRecordNotFound, msg)
		}
		return fmt.Errorf("registrar returned %d: %s", resp.StatusCode, msg)
	}
	return nil
}
