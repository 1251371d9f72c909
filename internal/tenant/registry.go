// ABOUTME: Tenant registry: loads tenant records from the admin tool's JSON file
// ABOUTME: Serves lookups from an immutable snapshot, swapped atomically on reload

package tenant

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
)

// ErrTenantNotFound is returned when no tenant matches the requested id or
// channel identity.
var ErrTenantNotFound = errors.New("tenant not found")

// tenantsFile is the on-disk shape written by the admin tool.
type tenantsFile struct {
	Tenants []*Tenant `json:"tenants"`
}

// snapshot is one immutable view of the tenant set. Lookups only ever touch
// a single snapshot, so a concurrent reload can never expose a half-updated
// registry.
type snapshot struct {
	byID      map[string]*Tenant
	byPhoneID map[string]*Tenant
	ordered   []*Tenant
}

// Registry loads and serves tenant configuration records.
type Registry struct {
	path    string
	logger  *slog.Logger
	current atomic.Pointer[snapshot]
}

// NewRegistry loads the tenant file at path and returns a ready registry.
func NewRegistry(path string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		path:   path,
		logger: logger.With("component", "tenant-registry"),
	}

	if err := r.Reload(); err != nil {
		return nil, err
	}

	return r, nil
}

// Reload re-reads the tenant file and atomically swaps the active snapshot.
// On any error the previous snapshot stays in place.
func (r *Registry) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("reading tenants file: %w", err)
	}

	var file tenantsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing tenants file: %w", err)
	}

	snap := &snapshot{
		byID:      make(map[string]*Tenant, len(file.Tenants)),
		byPhoneID: make(map[string]*Tenant, len(file.Tenants)),
		ordered:   make([]*Tenant, 0, len(file.Tenants)),
	}

	for _, t := range file.Tenants {
		if err := t.validate(); err != nil {
			return fmt.Errorf("invalid tenant record: %w", err)
		}
		if _, exists := snap.byID[t.ID]; exists {
			return fmt.Errorf("duplicate tenant_id %q", t.ID)
		}
		snap.byID[t.ID] = t
		if t.Channel.PhoneNumberID != "" {
			if other, exists := snap.byPhoneID[t.Channel.PhoneNumberID]; exists {
				return fmt.Errorf("tenants %s and %s share phone_number_id %q", other.ID, t.ID, t.Channel.PhoneNumberID)
			}
			snap.byPhoneID[t.Channel.PhoneNumberID] = t
		}
		snap.ordered = append(snap.ordered, t)
	}

	r.current.Store(snap)
	r.logger.Info("tenant registry loaded", "path", r.path, "tenants", len(snap.ordered))

	return nil
}

// Get returns the tenant with the given id.
func (r *Registry) Get(id string) (*Tenant, error) {
	snap := r.current.Load()
	if snap == nil {
		return nil, ErrTenantNotFound
	}

	t, ok := snap.byID[id]
	if !ok {
		return nil, fmt.Errorf("tenant %q: %w", id, ErrTenantNotFound)
	}

	return t, nil
}

// ByPhoneNumberID returns the tenant that owns the given channel phone
// number id.
func (r *Registry) ByPhoneNumberID(id string) (*Tenant, error) {
	snap := r.current.Load()
	if snap == nil {
		return nil, ErrTenantNotFound
	}

	t, ok := snap.byPhoneID[id]
	if !ok {
		return nil, fmt.Errorf("phone_number_id %q: %w", id, ErrTenantNotFound)
	}

	return t, nil
}

// All returns the tenants in file order. Callers must not mutate the
// returned records.
func (r *Registry) All() []*Tenant {
	snap := r.current.Load()
	if snap == nil {
		return nil
	}

	out := make([]*Tenant, len(snap.ordered))
	copy(out, snap.ordered)
	return out
}
