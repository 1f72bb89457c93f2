// Package cli implements the matchmaker's interactive operator console.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/matchmaker/internal/config"
	"github.com/energizer-project/matchmaker/internal/db"
	"github.com/energizer-project/matchmaker/internal/events"
	"github.com/energizer-project/matchmaker/internal/netaddr"
	"github.com/energizer-project/matchmaker/internal/network"
	"github.com/energizer-project/matchmaker/internal/protocol"
)

// Store is the part of the address store the console inspects.
type Store interface {
	ListServers() ([]db.ServerRecord, error)
	GetServer(key string) (*db.ServerRecord, error)
	DeleteServer(key string) (bool, error)
	CountServers() (int, error)
}

// Router reports the packet router's state and handlers.
type Router interface {
	State() network.State
	HandlerNames() map[protocol.PacketType][]string
}

// Sweeper runs an expiry pass on demand.
type Sweeper interface {
	RunCleanup(ctx context.Context) (int, error)
	LastCleanup() (time.Time, int)
}

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	store    Store
	router   Router
	sweeper  Sweeper

	in  io.Reader
	out io.Writer
}

// NewCLI creates a new CLI handler reading commands from in.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, store Store, router Router, sweeper Sweeper, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		store:    store,
		router:   router,
		sweeper:  sweeper,
		in:       in,
		out:      out,
	}
}

// Start runs the console until ctx is cancelled or input ends.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nMatchmaker console ready. Type 'help' for available commands.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Warn().Err(err).Msg("console input failed")
		}
	}()

	for {
		fmt.Fprint(c.out, "matchmaker> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			parts := strings.Fields(line)
			if len(parts) == 0 {
				continue
			}
			if err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:]); err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
		}
	}
}

// execute processes a single console command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		return c.printStatus()
	case "servers", "ls":
		return c.printServers()
	case "server", "addresses":
		return c.printServerDetail(args)
	case "remove", "rm":
		return c.cmdRemove(ctx, args)
	case "expire":
		return c.cmdExpire(ctx)
	case "handlers":
		c.printHandlers()
	case "loglevel":
		return c.cmdLogLevel(args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down matchmaker...")
		c.eventBus.Emit(ctx, events.New(events.EventShutdown, "cli", nil))
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, `
Commands:
  status             Router state, tracked servers and last expiry
  servers            List tracked servers
  server <ip>        Show one server's advertised addresses
  remove <ip>        Forget a server and its addresses
  expire             Run an expiry pass now
  handlers           List registered packet handlers
  loglevel <level>   Change the log level (debug, info, warn, error)
  quit               Shut down the matchmaker
  help               Show this help message`)
}

func (c *CLI) printStatus() error {
	count, err := c.store.CountServers()
	if err != nil {
		return err
	}

	fmt.Fprintln(c.out)
	if c.router != nil {
		fmt.Fprintf(c.out, "  Router:          %s\n", c.router.State())
	}
	if c.cfg != nil {
		srv := c.cfg.GetServer()
		fmt.Fprintf(c.out, "  Listening on:    %s:%d/udp\n", srv.Host, srv.Port)
	}
	fmt.Fprintf(c.out, "  Tracked servers: %d\n", count)
	if c.sweeper != nil {
		last, removed := c.sweeper.LastCleanup()
		if last.IsZero() {
			fmt.Fprintln(c.out, "  Last expiry:     never")
		} else {
			fmt.Fprintf(c.out, "  Last expiry:     %s (%d removed)\n", last.Format(time.RFC3339), removed)
		}
	}
	fmt.Fprintln(c.out)
	return nil
}

func (c *CLI) printServers() error {
	servers, err := c.store.ListServers()
	if err != nil {
		return err
	}
	if len(servers) == 0 {
		fmt.Fprintln(c.out, "No servers tracked")
		return nil
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Server", "Addresses", "Last Ping", "Age"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, srv := range servers {
		tw.Append([]string{
			srv.Addr,
			strconv.Itoa(len(srv.Addresses)),
			srv.Updated.Format(time.RFC3339),
			time.Since(srv.Updated).Truncate(time.Second).String(),
		})
	}

	tw.Render()
	return nil
}

func (c *CLI) printServerDetail(args []string) error {
	key, err := parseServerArg(args)
	if err != nil {
		return err
	}

	rec, err := c.store.GetServer(key)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("server %s not tracked", key)
	}

	fmt.Fprintf(c.out, "\n  Server:    %s\n", rec.Addr)
	fmt.Fprintf(c.out, "  Last Ping: %s\n\n", rec.Updated.Format(time.RFC3339))

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Address", "Updated"})
	tw.SetBorder(true)
	for _, a := range rec.Addresses {
		tw.Append([]string{a.Addr, a.Updated.Format(time.RFC3339)})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdRemove(ctx context.Context, args []string) error {
	key, err := parseServerArg(args)
	if err != nil {
		return err
	}

	removed, err := c.store.DeleteServer(key)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("server %s not tracked", key)
	}

	c.eventBus.Emit(ctx, events.New(events.EventServerRemoved, "cli",
		events.ServerRemovedPayload{Server: key, Via: "cli"}))
	fmt.Fprintf(c.out, "Removed %s\n", key)
	return nil
}

func (c *CLI) cmdExpire(ctx context.Context) error {
	if c.sweeper == nil {
		return fmt.Errorf("expiry is not configured")
	}
	n, err := c.sweeper.RunCleanup(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Expired %d server(s)\n", n)
	return nil
}

func (c *CLI) printHandlers() {
	if c.router == nil {
		fmt.Fprintln(c.out, "Router not available")
		return
	}

	names := c.router.HandlerNames()
	types := make([]protocol.PacketType, 0, len(names))
	for t := range names {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Code", "Packet", "Handlers"})
	tw.SetBorder(true)
	for _, t := range types {
		tw.Append([]string{strconv.Itoa(int(t)), t.String(), strings.Join(names[t], ", ")})
	}
	tw.Render()
}

func (c *CLI) cmdLogLevel(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: loglevel <level>")
	}
	level, err := zerolog.ParseLevel(strings.ToLower(args[0]))
	if err != nil || level == zerolog.NoLevel {
		return fmt.Errorf("invalid log level: %s", args[0])
	}

	zerolog.SetGlobalLevel(level)
	if c.cfg != nil {
		c.cfg.SetLogLevel(level.String())
		if err := c.cfg.Save(); err != nil {
			return err
		}
	}
	fmt.Fprintf(c.out, "Log level set to %s\n", level)
	return nil
}

// parseServerArg accepts "a.b.c.d" or "a.b.c.d:port" and returns the
// store key.
func parseServerArg(args []string) (string, error) {
	if len(args) < 1 {
		return "", fmt.Errorf("server address required")
	}
	addr, err := netaddr.Parse(args[0])
	if err != nil {
		return "", fmt.Errorf("invalid server address: %s", args[0])
	}
	return addr.IPString(), nil
}
