package matchmaker

import (
	"context"
	"errors"
	"fmt"

	"github.com/energizer-project/matchmaker/internal/events"
	"github.com/energizer-project/matchmaker/internal/netaddr"
	"github.com/energizer-project/matchmaker/internal/network"
	"github.com/energizer-project/matchmaker/internal/protocol"
)

// HandleArrangedConnect introduces a client to the server it names. The
// server is told the client's candidates with nonce (B, A); the client is
// told the server's addresses with nonce (A, B). Rejected requests get no
// reply.
func (s *Service) HandleArrangedConnect(ctx context.Context, pkt *network.Packet, store network.AddressStore) error {
	req, err := protocol.ParseArrangedConnectRequest(pkt.Data(), s.huffman)
	if err != nil {
		return err
	}

	client := pkt.Sender
	target := req.Target

	log := s.logger.With().
		Str("client", client.String()).
		Str("server", target.String()).
		Uint16("request_id", req.RequestID).
		Logger()

	if req.LocalPortOverride != 0 {
		log.Debug().Uint32("local_port_override", req.LocalPortOverride).Msg("ignoring local port override")
	}

	ok, err := store.CheckToken(client, req.Token)
	if err != nil {
		s.dropped(ctx, client, target, events.DropStoreError)
		return fmt.Errorf("token check for %s: %w", client.IPString(), err)
	}
	if !ok {
		s.dropped(ctx, client, target, events.DropInvalidToken)
		return ErrInvalidToken
	}

	serverAddrs, err := store.GetAddresses(target)
	if err != nil {
		s.dropped(ctx, client, target, events.DropStoreError)
		return fmt.Errorf("address lookup for %s: %w", target.IPString(), err)
	}
	if len(serverAddrs) == 0 {
		s.dropped(ctx, client, target, events.DropUnknownServer)
		return fmt.Errorf("%w: %s", ErrUnknownServer, target.IPString())
	}

	// The sender's public endpoint always goes last, so keep room for it.
	candidates := req.Candidates
	if len(candidates) >= protocol.MaxNotifyAddresses {
		candidates = candidates[:protocol.MaxNotifyAddresses-1]
	}
	candidates = append(append([]netaddr.Address(nil), candidates...), client)

	if len(serverAddrs) > protocol.MaxNotifyAddresses {
		serverAddrs = serverAddrs[:protocol.MaxNotifyAddresses]
	}

	a := s.nonces.Nonce()
	b := s.nonces.Nonce()

	var sendErrs []error
	if err := s.notify(target, [2]uint32{b, a}, candidates); err != nil {
		sendErrs = append(sendErrs, fmt.Errorf("notify server: %w", err))
	}
	if err := s.notify(client, [2]uint32{a, b}, serverAddrs); err != nil {
		sendErrs = append(sendErrs, fmt.Errorf("notify client: %w", err))
	}

	s.metrics.ConnectArranged()
	s.bus.Emit(ctx, events.New(events.EventConnectArranged, "matchmaker", events.ConnectArrangedPayload{
		Client:           client.String(),
		Server:           target.String(),
		RequestID:        req.RequestID,
		ClientCandidates: len(candidates),
		ServerAddresses:  len(serverAddrs),
		SendFailures:     len(sendErrs),
	}))

	if len(sendErrs) > 0 {
		for _, e := range sendErrs {
			log.Warn().Err(e).Msg("arranged connect notify failed")
		}
		return errors.Join(sendErrs...)
	}

	log.Debug().
		Int("candidates", len(candidates)).
		Int("server_addresses", len(serverAddrs)).
		Msg("arranged connect")
	return nil
}

// notify builds and sends one ArrangedConnectNotify. It is not retried.
func (s *Service) notify(dest netaddr.Address, nonce [2]uint32, addrs []netaddr.Address) error {
	data, err := protocol.BuildArrangedConnectNotify(s.secret, nonce, addrs)
	if err == nil {
		err = s.sender.Send(dest, data)
	}
	if err != nil {
		s.metrics.NotifyFailed()
		return err
	}
	s.metrics.NotifySent()
	return nil
}

func (s *Service) dropped(ctx context.Context, client, target netaddr.Address, reason events.DropReason) {
	s.metrics.ConnectDropped(string(reason))
	s.logger.Debug().
		Str("client", client.String()).
		Str("server", target.String()).
		Str("reason", string(reason)).
		Msg("arranged connect dropped")
	s.bus.Emit(ctx, events.New(events.EventConnectDropped, "matchmaker", events.ConnectDroppedPayload{
		Client: client.String(),
		Server: target.String(),
		Reason: reason,
	}))
}
