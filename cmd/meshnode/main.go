// Command meshnode runs a single instance of the collection protocol over
// a UDP-simulated link layer: a sink node terminates the upward traffic
// and can issue downward deliveries; a regular node periodically emits
// upward test payloads.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	meshcollect "github.com/tratteo/meshcollect"
	"github.com/tratteo/meshcollect/internal/params"
	"github.com/tratteo/meshcollect/internal/routing"
	"github.com/tratteo/meshcollect/pkg/addr"
	"github.com/tratteo/meshcollect/pkg/debugapi"
	"github.com/tratteo/meshcollect/pkg/linklayer"
	"github.com/tratteo/meshcollect/pkg/linklayer/udpnet"
	"github.com/tratteo/meshcollect/pkg/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "meshnode",
		Short: "run one node of a collection-protocol mesh",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v)
		},
	}

	flags := cmd.Flags()
	flags.String("self", "", "this node's address, as two hex bytes, e.g. 01:00")
	flags.Bool("sink", false, "run as the sink")
	flags.Uint16("channel", 8000, "broadcast channel/port; unicast data uses channel+1")
	flags.Int("nodes", 16, "expected mesh size, sizes the dedup cache and routing table")
	flags.String("multicast-group", "239.0.0.1", "IPv4 multicast group for beacons")
	flags.String("iface", "", "network interface for multicast (empty uses the OS default)")
	flags.StringSlice("peer", nil, "peer address book entry \"xx:xx=host:port\", repeatable")
	flags.Int16("rssi", -60, "synthetic RSSI reported for every inbound frame")
	flags.Bool("debug-api", true, "serve /topology and /routes over HTTP")
	flags.String("debug-addr", "127.0.0.1:9100", "debug HTTP listen address")
	flags.Bool("upward", true, "periodically send a payload to the sink (non-sink only)")
	flags.Bool("downward", true, "periodically deliver a payload to every learned child, in turn (sink only)")
	flags.Bool("dump-routes", true, "periodically print the routing table (sink only)")
	flags.Bool("verbose", false, "debug-level logging")
	flags.String("config", "", "optional YAML config file; flags given on the command line take precedence over it")

	_ = v.BindPFlags(flags)
	v.SetEnvPrefix("MESHNODE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	cmd.AddCommand(newRoutesCmd())
	return cmd
}

// newRoutesCmd queries a running node's debug API and renders its routing
// table, so an operator can inspect a remote sink without attaching to its
// stdout.
func newRoutesCmd() *cobra.Command {
	var debugAddr string
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "print the routing table of a running sink",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(fmt.Sprintf("http://%s/routes", debugAddr))
			if err != nil {
				return fmt.Errorf("querying debug API: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("debug API returned %s", resp.Status)
			}
			var entries []routing.Entry
			if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
				return fmt.Errorf("decoding routes: %w", err)
			}
			printRoutes(entries)
			return nil
		},
	}
	cmd.Flags().StringVar(&debugAddr, "debug-addr", "127.0.0.1:9100", "debug HTTP address of the running node")
	return cmd
}

func run(ctx context.Context, v *viper.Viper) error {
	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	self, err := parseAddr(v.GetString("self"))
	if err != nil {
		return fmt.Errorf("--self: %w", err)
	}
	isSink := v.GetBool("sink")

	level := zapcore.InfoLevel
	if v.GetBool("verbose") {
		level = zapcore.DebugLevel
	}
	logger := log.New(level).With("self", self.String())

	banner := color.New(color.FgCyan, color.Bold)
	role := "node"
	if isSink {
		role = "sink"
	}
	banner.Printf("meshcollect %s starting as %s on channel %d\n", self, role, v.GetInt("channel"))

	book, err := parsePeers(v.GetStringSlice("peer"))
	if err != nil {
		return fmt.Errorf("--peer: %w", err)
	}

	var iface *net.Interface
	if name := v.GetString("iface"); name != "" {
		iface, err = net.InterfaceByName(name)
		if err != nil {
			return fmt.Errorf("--iface: %w", err)
		}
	}

	medium := udpnet.New(udpnet.Config{
		MulticastGroup: net.ParseIP(v.GetString("multicast-group")),
		Iface:          iface,
		Book:           book,
		RSSI:           udpnet.FixedRSSI(v.GetInt("rssi")),
		Log:            logger,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	proto, err := meshcollect.Open(ctx, meshcollect.Options{
		IsSink:  isSink,
		Self:    self,
		Channel: uint16(v.GetInt("channel")),
		Nodes:   v.GetInt("nodes"),
		Medium:  medium,
		Log:     logger,
		Callbacks: meshcollect.Callbacks{
			OnSink: func(originator meshcollect.Addr, hops uint8, payload []byte) {
				logger.Info("sink received payload", "originator", originator, "hops", hops, "bytes", len(payload))
			},
			OnNode: func(hops uint8, payload []byte) {
				logger.Info("node received delivery", "hops", hops, "bytes", len(payload))
			},
		},
	})
	if err != nil {
		return fmt.Errorf("opening protocol: %w", err)
	}
	defer proto.Close()

	if v.GetBool("debug-api") {
		go serveDebugAPI(v.GetString("debug-addr"), proto, logger)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	if isSink && v.GetBool("downward") {
		go sendNodeLoop(ctx, proto, logger)
	}
	if isSink && v.GetBool("dump-routes") {
		go dumpRoutesLoop(ctx, proto, logger)
	}
	if !isSink && v.GetBool("upward") {
		go sendSinkLoop(ctx, proto, logger)
	}

	<-stop
	logger.Info("shutting down")
	return nil
}

func serveDebugAPI(listenAddr string, proto *meshcollect.Protocol, logger log.Logger) {
	if err := http.ListenAndServe(listenAddr, debugapi.NewRouter(proto)); err != nil {
		logger.Error("debug API server stopped", "err", err)
	}
}

func sendSinkLoop(ctx context.Context, proto *meshcollect.Protocol, logger log.Logger) {
	time.Sleep(params.MsgInitDelay())
	ticker := time.NewTicker(params.MsgPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Jitter de-correlates nodes that started at the same moment.
			time.Sleep(time.Duration(rand.Int63n(int64(params.MsgPeriod / 2))))
			payload := []byte(fmt.Sprintf("sample@%d", time.Now().Unix()))
			if _, err := proto.SendSink(ctx, payload); err != nil {
				logger.Error("upward send failed", "err", err)
			}
		}
	}
}

// sendNodeLoop periodically delivers a test payload downward, cycling
// through every child the sink has learned so far.
func sendNodeLoop(ctx context.Context, proto *meshcollect.Protocol, logger log.Logger) {
	time.Sleep(params.MsgInitDelay())
	ticker := time.NewTicker(params.SRMsgPeriod)
	defer ticker.Stop()
	next := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			time.Sleep(time.Duration(rand.Int63n(int64(params.SRMsgPeriod / 2))))
			entries, err := proto.RoutingEntries(ctx)
			if err != nil {
				logger.Error("routing entries fetch failed", "err", err)
				continue
			}
			if len(entries) == 0 {
				continue
			}
			dest := entries[next%len(entries)].Child
			next++
			payload := []byte(fmt.Sprintf("probe@%d", time.Now().Unix()))
			if _, err := proto.SendNode(ctx, dest, payload); err != nil {
				logger.Error("downward send failed", "dest", dest, "err", err)
			}
		}
	}
}

func dumpRoutesLoop(ctx context.Context, proto *meshcollect.Protocol, logger log.Logger) {
	time.Sleep(params.MsgInitDelay())
	ticker := time.NewTicker(params.SRMsgPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			entries, err := proto.RoutingEntries(ctx)
			if err != nil {
				logger.Error("routing entries fetch failed", "err", err)
				continue
			}
			printRoutes(entries)
		}
	}
}

func printRoutes(entries []routing.Entry) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Child", "Parent"})
	for _, e := range entries {
		table.Append([]string{e.Child.String(), e.Parent.String()})
	}
	table.Render()
}

func parseAddr(s string) (addr.Addr, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return addr.Addr{}, fmt.Errorf("want \"xx:xx\", got %q", s)
	}
	var hi, lo int
	if _, err := fmt.Sscanf(parts[0], "%02x", &hi); err != nil {
		return addr.Addr{}, err
	}
	if _, err := fmt.Sscanf(parts[1], "%02x", &lo); err != nil {
		return addr.Addr{}, err
	}
	return addr.Addr{byte(hi), byte(lo)}, nil
}

func parsePeers(raw []string) (*udpnet.StaticBook, error) {
	entries := make(map[linklayer.Addr]*net.UDPAddr, len(raw))
	for _, p := range raw {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("want \"xx:xx=host:port\", got %q", p)
		}
		a, err := parseAddr(kv[0])
		if err != nil {
			return nil, err
		}
		udpAddr, err := net.ResolveUDPAddr("udp4", kv[1])
		if err != nil {
			return nil, err
		}
		entries[a] = udpAddr
	}
	return udpnet.NewStaticBook(entries), nil
}
