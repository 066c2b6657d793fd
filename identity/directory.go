// Package identity maps signer addresses to oracle roles and roles to the
// webhook URLs they receive deliveries on.
package identity

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/goliatone/go-oracle/core"
	"github.com/goliatone/go-oracle/signing"
)

// Directory is a static address book built from configuration. A role may
// list several comma separated addresses. URLs may carry {chain_id} and
// {escrow_address} placeholders.
type Directory struct {
	mu     sync.RWMutex
	roles  map[string]core.Role
	urls   map[core.Role]string
	chains core.ChainConfig
}

func NewDirectory(cfg core.ChainConfig) (*Directory, error) {
	d := &Directory{
		roles:  map[string]core.Role{},
		urls:   map[core.Role]string{},
		chains: cfg,
	}
	for rawRole, addresses := range cfg.RoleAddresses {
		role, err := core.ParseRole(rawRole)
		if err != nil {
			return nil, fmt.Errorf("identity: %w", err)
		}
		for _, address := range strings.Split(addresses, ",") {
			if strings.TrimSpace(address) == "" {
				continue
			}
			if err := d.AddAddress(role, address); err != nil {
				return nil, err
			}
		}
	}
	for rawRole, target := range cfg.RoleURLs {
		role, err := core.ParseRole(rawRole)
		if err != nil {
			return nil, fmt.Errorf("identity: %w", err)
		}
		if err := d.SetURL(role, target); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *Directory) AddAddress(role core.Role, address string) error {
	if !role.Valid() {
		return fmt.Errorf("identity: invalid role %q", role)
	}
	normalized, err := signing.ChecksumAddress(address)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.roles[normalized]; ok && existing != role {
		return fmt.Errorf("identity: address %s already bound to %s", normalized, existing)
	}
	d.roles[normalized] = role
	return nil
}

func (d *Directory) SetURL(role core.Role, target string) error {
	if !role.Valid() {
		return fmt.Errorf("identity: invalid role %q", role)
	}
	target = strings.TrimSpace(target)
	parsed, err := url.Parse(strings.NewReplacer("{chain_id}", "0", "{escrow_address}", "x").Replace(target))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("identity: invalid url %q for %s", target, role)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls[role] = target
	return nil
}

func (d *Directory) ResolveRole(_ context.Context, address string) (core.Role, error) {
	normalized, err := signing.ChecksumAddress(address)
	if err != nil {
		return "", core.NewAuthenticationError("")
	}
	d.mu.RLock()
	role, ok := d.roles[normalized]
	d.mu.RUnlock()
	if !ok {
		return "", core.NewAuthenticationError("")
	}
	return role, nil
}

func (d *Directory) ResolveURL(_ context.Context, role core.Role, chainID int64, escrowAddress string) (string, error) {
	d.mu.RLock()
	target, ok := d.urls[role]
	d.mu.RUnlock()
	if !ok {
		return "", core.NewNotFoundError(fmt.Sprintf("no webhook url configured for %s", role))
	}
	if !d.chains.ChainAllowed(chainID) {
		return "", core.NewNotFoundError(fmt.Sprintf("chain %d is not configured", chainID))
	}
	return strings.NewReplacer(
		"{chain_id}", strconv.FormatInt(chainID, 10),
		"{escrow_address}", url.PathEscape(escrowAddress),
	).Replace(target), nil
}

var (
	_ core.RoleResolver = (*Directory)(nil)
	_ core.URLResolver  = (*Directory)(nil)
)
