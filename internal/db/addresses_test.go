package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/energizer-project/matchmaker/internal/netaddr"
)

func newTestStore(t *testing.T) (*AddressStore, *time.Time) {
	t.Helper()
	store, err := NewAddressStore(filepath.Join(t.TempDir(), "matchmaker.db"))
	if err != nil {
		t.Fatalf("NewAddressStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	now := time.Unix(1_700_000_000, 0)
	store.SetClock(func() time.Time { return now })
	return store, &now
}

func TestUpsertAndGetAddresses(t *testing.T) {
	store, _ := newTestStore(t)
	server := netaddr.New(203, 0, 113, 5, 28000)
	addrs := []netaddr.Address{
		netaddr.New(192, 168, 1, 10, 28000),
		netaddr.New(10, 0, 0, 4, 28001),
	}

	if err := store.UpsertServerAndAddresses(server, addrs); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := store.GetAddresses(server)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 2 || got[0] != addrs[0] || got[1] != addrs[1] {
		t.Fatalf("addresses = %v, want %v", got, addrs)
	}

	ok, err := store.HasServer(server)
	if err != nil || !ok {
		t.Fatalf("HasServer = %v, %v", ok, err)
	}
}

func TestServerKeyIgnoresPort(t *testing.T) {
	store, _ := newTestStore(t)
	addr := netaddr.New(10, 0, 0, 1, 28000)

	if err := store.UpsertServerAndAddresses(netaddr.New(203, 0, 113, 5, 1234), []netaddr.Address{addr}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := store.GetAddresses(netaddr.New(203, 0, 113, 5, 9999))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 1 || got[0] != addr {
		t.Fatalf("addresses = %v", got)
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	server := netaddr.New(203, 0, 113, 5, 28000)
	addrs := []netaddr.Address{netaddr.New(192, 168, 1, 10, 28000)}

	for i := 0; i < 3; i++ {
		if err := store.UpsertServerAndAddresses(server, addrs); err != nil {
			t.Fatalf("upsert %d: %v", i, err)
		}
	}

	got, _ := store.GetAddresses(server)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
}

func TestClearThenUpsertReplaces(t *testing.T) {
	store, _ := newTestStore(t)
	server := netaddr.New(203, 0, 113, 5, 28000)

	store.UpsertServerAndAddresses(server, []netaddr.Address{netaddr.New(1, 1, 1, 1, 1), netaddr.New(2, 2, 2, 2, 2)})

	if err := store.ClearAddresses(server); err != nil {
		t.Fatalf("clear: %v", err)
	}
	fresh := netaddr.New(3, 3, 3, 3, 3)
	store.UpsertServerAndAddresses(server, []netaddr.Address{fresh})

	got, _ := store.GetAddresses(server)
	if len(got) != 1 || got[0] != fresh {
		t.Fatalf("addresses = %v, want [%v]", got, fresh)
	}
}

func TestUnknownServer(t *testing.T) {
	store, _ := newTestStore(t)
	server := netaddr.New(198, 51, 100, 1, 28000)

	got, err := store.GetAddresses(server)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("addresses = %v, want none", got)
	}

	ok, err := store.HasServer(server)
	if err != nil || ok {
		t.Fatalf("HasServer = %v, %v", ok, err)
	}

	rec, err := store.GetServer(server.IPString())
	if err != nil || rec != nil {
		t.Fatalf("GetServer = %v, %v", rec, err)
	}
}

func TestCheckTokenAcceptsEverything(t *testing.T) {
	store, _ := newTestStore(t)
	ok, err := store.CheckToken(netaddr.New(1, 2, 3, 4, 5), "anything")
	if err != nil || !ok {
		t.Fatalf("CheckToken = %v, %v", ok, err)
	}
}

func TestListAndDeleteServers(t *testing.T) {
	store, now := newTestStore(t)
	a := netaddr.New(203, 0, 113, 5, 28000)
	b := netaddr.New(203, 0, 113, 6, 28000)

	store.UpsertServerAndAddresses(a, []netaddr.Address{netaddr.New(10, 0, 0, 1, 28000)})
	*now = now.Add(time.Minute)
	store.UpsertServerAndAddresses(b, nil)

	servers, err := store.ListServers()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("len = %d, want 2", len(servers))
	}
	if servers[0].Addr != b.IPString() {
		t.Errorf("first = %s, want most recent %s", servers[0].Addr, b.IPString())
	}
	if len(servers[1].Addresses) != 1 || servers[1].Addresses[0].Addr != "10.0.0.1:28000=1" {
		t.Errorf("addresses of %s = %v", servers[1].Addr, servers[1].Addresses)
	}

	removed, err := store.DeleteServer(a.IPString())
	if err != nil || !removed {
		t.Fatalf("DeleteServer = %v, %v", removed, err)
	}
	removed, err = store.DeleteServer(a.IPString())
	if err != nil || removed {
		t.Fatalf("second DeleteServer = %v, %v", removed, err)
	}

	n, err := store.CountServers()
	if err != nil || n != 1 {
		t.Fatalf("CountServers = %d, %v", n, err)
	}
}

func TestExpireBefore(t *testing.T) {
	store, now := newTestStore(t)
	stale := netaddr.New(203, 0, 113, 5, 28000)
	fresh := netaddr.New(203, 0, 113, 6, 28000)

	store.UpsertServerAndAddresses(stale, []netaddr.Address{netaddr.New(10, 0, 0, 1, 28000)})
	*now = now.Add(2 * time.Hour)
	store.UpsertServerAndAddresses(fresh, []netaddr.Address{netaddr.New(10, 0, 0, 2, 28000)})

	removed, err := store.ExpireBefore(now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	if ok, _ := store.HasServer(stale); ok {
		t.Error("stale server survived expiry")
	}
	if got, _ := store.GetAddresses(stale); len(got) != 0 {
		t.Errorf("stale addresses survived expiry: %v", got)
	}
	if ok, _ := store.HasServer(fresh); !ok {
		t.Error("fresh server was expired")
	}
}

func TestInMemoryDatabase(t *testing.T) {
	store, err := NewAddressStore(MemoryPath)
	if err != nil {
		t.Fatalf("NewAddressStore: %v", err)
	}
	defer store.Close()

	if err := store.UpsertServerAndAddresses(netaddr.New(1, 2, 3, 4, 5), nil); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if n, _ := store.CountServers(); n != 1 {
		t.Fatalf("CountServers = %d", n)
	}
}
