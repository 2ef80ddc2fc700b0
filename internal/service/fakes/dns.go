package fakes

import (
	"context"
	"sync"

	"github.com/mlhmz/dockermc-dashboard/internal/dns"
)

// DNS is an in-memory registrar
type DNS struct {
	mu      sync.Mutex
	records map[string]dns.Record

	CreateErr error
	DeleteErr error
	Disabled  bool
	Deleted   []string
}

// NewDNS creates an enabled registrar holding records
func NewDNS(records ...dns.Record) *DNS {
	d := &DNS{records: make(map[string]dns.Record)}
	for _, r := range records {
		d.records[r.Subdomain] = r
	}
	return d
}

// Record returns the record of subdomain
func (d *DNS) Record(subdomain string) (dns.Record, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.records[subdomain]
	return r, ok
}

func (d *DNS) CreateRecord(_ context.Context, rec dns.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.CreateErr != nil {
		return d.CreateErr
	}
	d.records[rec.Subdomain] = rec
	return nil
}

func (d *DNS) DeleteRecord(_ context.Context, rec dns.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Deleted = append(d.Deleted, rec.Subdomain)
	if d.DeleteErr != nil {
		return d.DeleteErr
	}
	if _, ok := d.records[rec.Subdomain]; !ok {
		return dns.ErrRecordNotFound
	}
	delete(d.records, rec.Subdomain)
	return nil
}

func (d *DNS) Enabled() bool {
	return !d.Disabled
}
