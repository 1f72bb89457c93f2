package matchmaker

import (
	"context"
	"fmt"

	"github.com/energizer-project/matchmaker/internal/events"
	"github.com/energizer-project/matchmaker/internal/network"
	"github.com/energizer-project/matchmaker/internal/protocol"
)

// HandlePing replaces the sender's stored address set with the addresses
// in the ping. A secret that differs from ours is accepted.
func (s *Service) HandlePing(ctx context.Context, pkt *network.Packet, store network.AddressStore) error {
	ping, err := protocol.ParsePing(pkt.Data())
	if err != nil {
		return err
	}

	secretOK := ping.Secret == s.secret
	if !secretOK {
		s.logger.Debug().
			Str("sender", pkt.Sender.String()).
			Uint32("secret", ping.Secret).
			Msg("ping secret mismatch, accepting anyway")
	}

	if err := store.ClearAddresses(pkt.Sender); err != nil {
		return fmt.Errorf("ping from %s: %w", pkt.Sender.IPString(), err)
	}
	if err := store.UpsertServerAndAddresses(pkt.Sender, ping.Addresses); err != nil {
		return fmt.Errorf("ping from %s: %w", pkt.Sender.IPString(), err)
	}

	s.logger.Debug().
		Str("server", pkt.Sender.IPString()).
		Int("addresses", len(ping.Addresses)).
		Msg("server addresses replaced")

	s.bus.Emit(ctx, events.New(events.EventServerPing, "matchmaker", events.ServerPingPayload{
		Server:        pkt.Sender.IPString(),
		Addresses:     addrStrings(ping.Addresses),
		SecretMatches: secretOK,
	}))
	return nil
}
