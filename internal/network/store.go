package network

import "github.com/energizer-project/matchmaker/internal/netaddr"

// AddressStore is the persistence the packet handlers rely on. Servers are
// keyed by their IP-only form. GetAddresses returns an empty slice and a nil
// error for an unknown server.
type AddressStore interface {
	UpsertServerAndAddresses(server netaddr.Address, addrs []netaddr.Address) error
	ClearAddresses(server netaddr.Address) error
	GetAddresses(server netaddr.Address) ([]netaddr.Address, error)
	HasServer(server netaddr.Address) (bool, error)
	CheckToken(client netaddr.Address, token string) (bool, error)
}
