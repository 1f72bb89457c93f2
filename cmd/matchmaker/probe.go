package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/energizer-project/matchmaker/internal/bitstream"
	"github.com/energizer-project/matchmaker/internal/netaddr"
	"github.com/energizer-project/matchmaker/internal/network"
	"github.com/energizer-project/matchmaker/internal/protocol"
	"github.com/energizer-project/matchmaker/internal/util"
)

func probeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Send test packets to a running matchmaker",
	}
	cmd.AddCommand(probePingCmd(), probeConnectCmd())
	return cmd
}

func probePingCmd() *cobra.Command {
	var (
		gamePort int
		secret   uint32
	)

	cmd := &cobra.Command{
		Use:   "ping <matchmaker-host:port>",
		Short: "Announce this host's addresses as a game server would",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest, err := resolveMatchmaker(args[0])
			if err != nil {
				return err
			}

			addrs, err := localAddresses(uint16(gamePort))
			if err != nil {
				return err
			}

			data, err := protocol.BuildPing(&protocol.Ping{Addresses: addrs, Secret: secret})
			if err != nil {
				return err
			}

			transport, err := openProbeTransport(cmd.Context())
			if err != nil {
				return err
			}
			defer transport.Stop()

			if err := transport.Send(dest, data); err != nil {
				return err
			}

			fmt.Printf("Announced %d address(es) to %s\n", len(addrs), dest.UDPAddr())
			for _, a := range addrs {
				fmt.Printf("  %s\n", a)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&gamePort, "game-port", netaddr.DefaultPort, "port advertised with each local address")
	cmd.Flags().Uint32Var(&secret, "secret", protocol.DefaultSecret, "protocol secret sent with the ping")
	return cmd
}

func probeConnectCmd() *cobra.Command {
	var (
		token   string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "connect <matchmaker-host:port> <server-ip:port>",
		Short: "Request an arranged connect and print the notify",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest, err := resolveMatchmaker(args[0])
			if err != nil {
				return err
			}
			target, err := netaddr.Parse(args[1])
			if err != nil {
				return err
			}

			transport, err := openProbeTransport(cmd.Context())
			if err != nil {
				return err
			}
			defer transport.Stop()

			candidates, err := localAddresses(uint16(transport.LocalAddr().Port))
			if err != nil {
				return err
			}

			data, err := protocol.BuildArrangedConnectRequest(&protocol.ArrangedConnectRequest{
				Target:     target,
				RequestID:  uint16(time.Now().UnixNano()),
				Token:      token,
				Candidates: candidates,
			}, bitstream.MustHuffmanTable())
			if err != nil {
				return err
			}
			if err := transport.Send(dest, data); err != nil {
				return err
			}

			notify, err := awaitNotify(transport, timeout)
			if err != nil {
				return err
			}

			fmt.Printf("Secret: %d  Nonce: %08x %08x\n", notify.Secret, notify.Nonce[0], notify.Nonce[1])
			tw := tablewriter.NewWriter(os.Stdout)
			tw.SetHeader([]string{"#", "Server Address"})
			for i, a := range notify.Addresses {
				tw.Append([]string{fmt.Sprint(i + 1), a.String()})
			}
			tw.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "matchmaker token sent with the request")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for the notify")
	return cmd
}

// resolveMatchmaker accepts host or host:port; the port defaults to the
// matchmaker's.
func resolveMatchmaker(s string) (netaddr.Address, error) {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		host, port = s, "5555"
	}
	udpAddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, port))
	if err != nil {
		return netaddr.Address{}, fmt.Errorf("failed to resolve %s: %w", s, err)
	}
	return netaddr.FromUDPAddr(udpAddr)
}

func localAddresses(port uint16) ([]netaddr.Address, error) {
	ips, err := util.LocalIPv4Addresses()
	if err != nil {
		return nil, err
	}
	out := make([]netaddr.Address, 0, len(ips))
	for _, ip := range ips {
		out = append(out, netaddr.New(ip[0], ip[1], ip[2], ip[3], port))
	}
	if len(out) == 0 {
		return nil, errors.New("no non-loopback IPv4 address found")
	}
	return out, nil
}

func openProbeTransport(ctx context.Context) (*network.UDPTransport, error) {
	transport := network.NewUDPTransport()
	if err := transport.Start(ctx, "", 0); err != nil {
		return nil, err
	}
	return transport, nil
}

// awaitNotify reads until an ArrangedConnectNotify arrives. The transport
// is stopped on timeout, which unblocks Receive.
func awaitNotify(transport *network.UDPTransport, timeout time.Duration) (*protocol.ArrangedConnectNotify, error) {
	timer := time.AfterFunc(timeout, func() { transport.Stop() })
	defer timer.Stop()

	buf := make([]byte, protocol.MaxPacketDataSize)
	for {
		n, _, err := transport.Receive(buf)
		if err != nil {
			if errors.Is(err, network.ErrTransportClosed) {
				return nil, fmt.Errorf("no notify within %s", timeout)
			}
			return nil, err
		}
		if n < 1 || protocol.PacketType(buf[0]) != protocol.PktArrangedConnectNotify {
			continue
		}
		return protocol.ParseArrangedConnectNotify(buf[:n])
	}
}
