package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/aqmon/internal/capture"
	"firestige.xyz/aqmon/internal/capture/live"
	"firestige.xyz/aqmon/internal/config"
	"firestige.xyz/aqmon/internal/log"
	"firestige.xyz/aqmon/internal/metrics"
	"firestige.xyz/aqmon/internal/queue"
	"firestige.xyz/aqmon/internal/session"
	"firestige.xyz/aqmon/internal/sink"
)

type watchOptions struct {
	target     string
	backend    string
	iface      string
	pcapFile   string
	format     string
	kinds      []string
	metrics    string
	noSuppress bool
}

var watchOpts watchOptions

var watchCmd = &cobra.Command{
	Use:   "watch [server|ip]",
	Short: "Capture traffic with a game server and print its events",
	Long: `Capture the TCP traffic exchanged with a game server and print every
classified event. The target is a server name from the configured list
(see 'aqmon servers') or a literal IP address. When omitted, monitor.target
from the config file is used.

Examples:
  aqmon watch Artix
  aqmon watch 172.65.160.131 --interface eth0
  aqmon watch Artix --pcap-file session.pcap --format json`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 1 {
			watchOpts.target = args[0]
		}

		cfg, err := config.Load(configFile)
		if err != nil {
			exitWithError("failed to load config", err)
		}
		if err := watchOpts.apply(cfg); err != nil {
			exitWithError("invalid flags", err)
		}

		closer, err := log.Init(cfg.Log)
		if err != nil {
			exitWithError("failed to init logger", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		err = watch(ctx, cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		stop()
		closer.Close()
		if err != nil {
			exitWithError("watch failed", err)
		}
	},
}

func init() {
	f := watchCmd.Flags()
	f.StringVarP(&watchOpts.backend, "backend", "b", "", "capture backend: pcap, afpacket or file")
	f.StringVarP(&watchOpts.iface, "interface", "i", "", "network interface to capture on")
	f.StringVarP(&watchOpts.pcapFile, "pcap-file", "r", "", "replay a pcap file instead of capturing live")
	f.StringVarP(&watchOpts.format, "format", "f", "", "console output format: text or json")
	f.StringSliceVarP(&watchOpts.kinds, "kinds", "k", nil, "only print these event kinds")
	f.StringVar(&watchOpts.metrics, "metrics", "", "serve Prometheus metrics on this address")
	f.BoolVar(&watchOpts.noSuppress, "no-suppress", false, "disable duplicate chunk suppression")
}

// apply overlays the flags on cfg and revalidates it.
func (o watchOptions) apply(cfg *config.Config) error {
	if o.target != "" {
		cfg.Target = o.target
	}
	if o.pcapFile != "" {
		cfg.Capture.Backend = "file"
		cfg.Capture.File = o.pcapFile
	}
	if o.backend != "" {
		cfg.Capture.Backend = o.backend
	}
	if o.iface != "" {
		cfg.Capture.Interface = o.iface
	}
	if o.format != "" {
		cfg.Sinks.Console.Format = o.format
	}
	if len(o.kinds) > 0 {
		cfg.Sinks.Console.Kinds = o.kinds
	}
	if o.metrics != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = o.metrics
	}
	if o.noSuppress {
		cfg.Protocol.SuppressDuplicates = false
	}
	return cfg.ValidateAndApplyDefaults()
}

func watch(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	m, err := newMonitor(cfg, stdout)
	if err != nil {
		return err
	}
	return runWatch(ctx, m, stderr)
}

// watcher is what runWatch drives.
type watcher interface {
	Start(ctx context.Context) error
	Done() <-chan struct{}
	Close() (session.Stats, error)
}

// runWatch starts w and blocks until the capture ends or ctx is cancelled.
// A summary is written to out.
func runWatch(ctx context.Context, w watcher, out io.Writer) error {
	if err := w.Start(ctx); err != nil {
		// Close still releases sinks opened before Start.
		_, cerr := w.Close()
		return errors.Join(err, cerr)
	}

	reason := "capture finished"
	select {
	case <-ctx.Done():
		reason = "interrupted"
	case <-w.Done():
	}

	st, err := w.Close()
	printSummary(out, reason, st)
	return err
}

func printSummary(out io.Writer, reason string, st session.Stats) {
	fmt.Fprintf(out, "\n%s\n", reason)
	fmt.Fprintf(out, "  packets:     %d (admitted %d, rejected %d, errors %d)\n",
		st.Capture.Packets, st.Capture.Admitted, st.Capture.Rejected, st.Capture.Errors)
	fmt.Fprintf(out, "  queue:       %d pushed, %d dropped\n", st.Queue.Pushed, st.Queue.Dropped)
	fmt.Fprintf(out, "  segments:    %d (%d suppressed)\n", st.Segments, st.Suppressed)
	fmt.Fprintf(out, "  objects:     %d (%d parse errors)\n", st.Tokens, st.ParseErrors)
	fmt.Fprintf(out, "  events:      %d\n", st.Events)
	fmt.Fprintf(out, "  callbacks:   %d (%d failed)\n", st.Dispatch.Dispatched, st.Dispatch.Failures)
}

// monitor wires a session to its sinks and the metrics server.
type monitor struct {
	sess    *session.Session
	target  netip.Addr
	label   string
	backend string
	sinks   []sink.Sink
	metrics *metrics.Server
}

func newMonitor(cfg *config.Config, stdout io.Writer) (*monitor, error) {
	target, label, err := cfg.ResolveTarget(cfg.Target)
	if err != nil {
		return nil, err
	}
	open, err := openerFor(cfg.Capture)
	if err != nil {
		return nil, err
	}
	clsCfg, err := cfg.Protocol.ClassifierConfig()
	if err != nil {
		return nil, err
	}

	m := &monitor{
		sess: session.New(session.Options{
			Open:    open,
			Backend: cfg.Capture.Backend,
			Queue: queue.Config{
				Capacity:    cfg.Queue.Capacity,
				PushTimeout: cfg.Queue.PushTimeoutDuration,
			},
			IdleInterval:       cfg.Queue.IdleIntervalDuration,
			Classifier:         clsCfg,
			DisableSuppression: !cfg.Protocol.SuppressDuplicates,
		}),
		target:  target,
		label:   label,
		backend: cfg.Capture.Backend,
	}
	if err := m.attachSinks(cfg, stdout); err != nil {
		m.closeSinks()
		return nil, err
	}
	if cfg.Metrics.Enabled {
		m.metrics = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path, metrics.WithHealth(m.health))
	}
	return m, nil
}

func openerFor(cfg config.CaptureConfig) (capture.Opener, error) {
	if cfg.Backend == "file" {
		return capture.FileOpener(cfg.File), nil
	}
	return live.Opener(cfg.Backend, live.Config{
		Interface:   cfg.Interface,
		BPFFilter:   cfg.BPFFilter,
		SnapLen:     cfg.SnapLen,
		Promiscuous: cfg.Promiscuous,
		ReadTimeout: cfg.ReadTimeoutDuration,
		BlockSize:   cfg.BlockSize,
		NumBlocks:   cfg.NumBlocks,
	})
}

func (m *monitor) attachSinks(cfg *config.Config, stdout io.Writer) error {
	if c := cfg.Sinks.Console; c.Enabled {
		s, err := sink.NewConsole(stdout, c.Format, cfg.Protocol.CommandField)
		if err != nil {
			return err
		}
		m.sinks = append(m.sinks, s)
		if err := sink.Subscribe(m.sess, s, c.Kinds); err != nil {
			return err
		}
	}
	if k := cfg.Sinks.Kafka; k.Enabled {
		s, err := sink.NewKafka(sink.KafkaConfig{
			Brokers:      k.Brokers,
			Topic:        k.Topic,
			BatchSize:    k.BatchSize,
			BatchTimeout: k.BatchTimeoutDuration,
			Compression:  k.Compression,
			MaxAttempts:  k.MaxAttempts,
			CommandField: cfg.Protocol.CommandField,
		})
		if err != nil {
			return fmt.Errorf("kafka sink: %w", err)
		}
		m.sinks = append(m.sinks, s)
		if err := sink.Subscribe(m.sess, s, k.Kinds); err != nil {
			return err
		}
	}
	return nil
}

func (m *monitor) Start(ctx context.Context) error {
	if m.metrics != nil {
		if err := m.metrics.Start(ctx); err != nil {
			return err
		}
	}
	if err := m.sess.Start(m.target); err != nil {
		return err
	}
	slog.Info("monitoring", "target", m.target, "server", m.label, "backend", m.backend, "pid", os.Getpid())
	return nil
}

func (m *monitor) health() error {
	select {
	case <-m.sess.Done():
		return errors.New("session stopped")
	default:
		return nil
	}
}

func (m *monitor) Done() <-chan struct{} {
	return m.sess.Done()
}

func (m *monitor) Close() (session.Stats, error) {
	m.sess.Stop()
	st := m.sess.Stats()

	err := m.closeSinks()
	if m.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = errors.Join(err, m.metrics.Stop(ctx))
	}
	return st, err
}

func (m *monitor) closeSinks() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s sink: %w", s.Name(), err))
		}
	}
	m.sinks = nil
	return errors.Join(errs...)
}
