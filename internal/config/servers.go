package config

import (
	"fmt"
	"net/netip"
	"strings"

	"firestige.xyz/aqmon/internal/classify"
	"firestige.xyz/aqmon/internal/core"
)

// DefaultServers is the built-in server list.
var DefaultServers = []ServerConfig{
	{Name: "Artix", Address: "172.65.160.131"},
	{Name: "Swordhaven (EU)", Address: "172.65.207.70"},
	{Name: "Yokai (SEA)", Address: "72.65.236.72"},
	{Name: "Safiria", Address: "172.65.249.3"},
	{Name: "Alteon", Address: "172.65.235.85"},
	{Name: "Sir Ver", Address: "172.65.220.106"},
	{Name: "Yorumi", Address: "172.65.249.41"},
}

// Server looks a server up by name, case-insensitively.
func (cfg *Config) Server(name string) (ServerConfig, bool) {
	for _, s := range cfg.Servers {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return ServerConfig{}, false
}

// ResolveTarget turns ref into an address. ref is either a literal IP address
// or a configured server name. The returned label is the server name when one
// matched, the address otherwise.
func (cfg *Config) ResolveTarget(ref string) (netip.Addr, string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return netip.Addr{}, "", fmt.Errorf("%w: no target given", core.ErrUnknownServer)
	}
	if addr, err := parseAddr(ref); err == nil {
		if s, ok := cfg.serverByAddr(addr); ok {
			return addr, s.Name, nil
		}
		return addr, addr.String(), nil
	}
	s, ok := cfg.Server(ref)
	if !ok {
		return netip.Addr{}, "", fmt.Errorf("%w: %q", core.ErrUnknownServer, ref)
	}
	addr, err := parseAddr(s.Address)
	if err != nil {
		return netip.Addr{}, "", fmt.Errorf("server %s: %w", s.Name, err)
	}
	return addr, s.Name, nil
}

func (cfg *Config) serverByAddr(addr netip.Addr) (ServerConfig, bool) {
	for _, s := range cfg.Servers {
		if a, err := parseAddr(s.Address); err == nil && a == addr {
			return s, true
		}
	}
	return ServerConfig{}, false
}

func parseAddr(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return addr.Unmap(), nil
}

// CommandTable returns the built-in table with the configured commands
// applied on top.
func (p ProtocolConfig) CommandTable() (classify.Table, error) {
	names := make(map[string]string, len(p.Commands))
	for _, c := range p.Commands {
		names[c.Code] = c.Kind
	}
	overrides, err := classify.ParseTable(names)
	if err != nil {
		return nil, err
	}
	return classify.DefaultTable().Merge(overrides), nil
}

// ClassifierConfig builds the classifier configuration.
func (p ProtocolConfig) ClassifierConfig() (classify.Config, error) {
	table, err := p.CommandTable()
	if err != nil {
		return classify.Config{}, err
	}
	path := p.EnvelopePath
	if path == nil {
		path = classify.DefaultEnvelopePath
	}
	return classify.Config{
		EnvelopePath: append([]string(nil), path...),
		CommandField: p.CommandField,
		Table:        table,
	}, nil
}
