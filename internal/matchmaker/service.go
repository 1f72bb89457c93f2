// Package matchmaker implements the rendezvous handlers: servers announce
// their internal addresses with pings, and clients ask to be introduced to
// a server with arranged connect requests.
package matchmaker

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/energizer-project/matchmaker/internal/bitstream"
	"github.com/energizer-project/matchmaker/internal/events"
	"github.com/energizer-project/matchmaker/internal/metrics"
	"github.com/energizer-project/matchmaker/internal/netaddr"
	"github.com/energizer-project/matchmaker/internal/network"
	"github.com/energizer-project/matchmaker/internal/protocol"
	"github.com/energizer-project/matchmaker/internal/util"
)

// Handler names as registered with the router.
const (
	PingHandlerName            = "matchmaker_ping"
	ArrangedConnectHandlerName = "arranged_connect_request"
)

var (
	// ErrInvalidToken means the store rejected the client's token.
	ErrInvalidToken = errors.New("invalid matchmaker token")
	// ErrUnknownServer means the target server has no stored addresses.
	ErrUnknownServer = errors.New("unknown server")
)

// PacketSender delivers one datagram. network.Transport satisfies it.
type PacketSender interface {
	Send(dest netaddr.Address, data []byte) error
}

// Config wires a Service. Sender is required; the rest default.
type Config struct {
	Secret  uint32
	Huffman *bitstream.HuffmanTable
	Sender  PacketSender
	Nonces  util.NonceSource
	Metrics *metrics.Collector
	Bus     *events.EventBus
}

// Service holds what the handlers share. The address store is not part of
// it: the router passes its store to every handler call.
type Service struct {
	secret  uint32
	huffman *bitstream.HuffmanTable
	sender  PacketSender
	nonces  util.NonceSource
	metrics *metrics.Collector
	bus     *events.EventBus
	logger  zerolog.Logger
}

// New creates a Service. A zero Secret selects protocol.DefaultSecret.
func New(cfg Config) *Service {
	s := &Service{
		secret:  cfg.Secret,
		huffman: cfg.Huffman,
		sender:  cfg.Sender,
		nonces:  cfg.Nonces,
		metrics: cfg.Metrics,
		bus:     cfg.Bus,
		logger:  util.ComponentLogger("matchmaker"),
	}
	if s.secret == 0 {
		s.secret = protocol.DefaultSecret
	}
	if s.huffman == nil {
		s.huffman = bitstream.MustHuffmanTable()
	}
	if s.nonces == nil {
		s.nonces = util.NewRandomSource()
	}
	return s
}

// Secret returns the protocol secret written into notifies.
func (s *Service) Secret() uint32 {
	return s.secret
}

// Register adds the ping and arranged connect handlers to r.
func (s *Service) Register(r *network.Router) {
	r.AddHandler(protocol.PktMatchmakerPing, PingHandlerName, network.HandlerFunc(s.HandlePing))
	r.AddHandler(protocol.PktArrangedConnectRequest, ArrangedConnectHandlerName, network.HandlerFunc(s.HandleArrangedConnect))
}

func addrStrings(addrs []netaddr.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}
