package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rjboer/iiotx/internal/iio"
	"github.com/rjboer/iiotx/internal/logging"
	"github.com/rjboer/iiotx/internal/mdns"
)

const rule = "==============================================================="

type infoFlags struct {
	scan    bool
	values  bool
	timeout time.Duration
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.LookupEnv).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "iio-info: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(lookup func(string) (string, bool)) *cobra.Command {
	var f infoFlags
	cmd := &cobra.Command{
		Use:           "iio-info [uri]",
		Short:         "Describe an IIO context or list iiod servers on the network",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if f.scan {
				return scan(cmd.Context(), out, mdns.DiscoverIIOD, f.timeout)
			}
			uri := ""
			if len(args) == 1 {
				uri = args[0]
			}
			c, err := iio.Create(cmd.Context(), uri, iio.Options{
				Logger:           logging.New(logging.Warn, logging.Text, cmd.ErrOrStderr()),
				DiscoveryTimeout: f.timeout,
				Getenv:           lookup,
			})
			if err != nil {
				return err
			}
			defer c.Destroy()
			return describe(cmd.Context(), out, c, f.values)
		},
	}
	cmd.Flags().BoolVarP(&f.scan, "scan", "s", false, "List iiod servers advertised over DNS-SD")
	cmd.Flags().BoolVarP(&f.values, "values", "v", false, "Read the value of every attribute")
	cmd.Flags().DurationVarP(&f.timeout, "timeout", "t", 5*time.Second, "DNS-SD browse timeout")
	return cmd
}

type discoverFunc func(ctx context.Context, timeout time.Duration) ([]mdns.Host, error)

func scan(ctx context.Context, w io.Writer, discover discoverFunc, timeout time.Duration) error {
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, " Service : %s.local\n", mdns.Service)
	fmt.Fprintf(w, " Timeout : %s\n", timeout)
	fmt.Fprintln(w, rule)

	start := time.Now()
	hosts, err := discover(ctx, timeout)
	duration := time.Since(start).Truncate(time.Millisecond)
	if err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	if len(hosts) == 0 {
		fmt.Fprintf(w, "No devices found (%s)\n", duration)
		return nil
	}

	fmt.Fprintf(w, "Discovered %d device(s) in %s\n", len(hosts), duration)
	for i, h := range hosts {
		fmt.Fprintf(w, " Device #%d\n", i+1)
		fmt.Fprintf(w, " Instance : %s\n", h.Instance)
		fmt.Fprintf(w, " Hostname : %s\n", h.Hostname)
		fmt.Fprintf(w, " Port     : %d\n", h.Port)
		fmt.Fprintln(w, " Addresses:")
		if len(h.Addresses) == 0 {
			fmt.Fprintln(w, "   <none>")
		}
		for _, ip := range h.Addresses {
			fmt.Fprintf(w, "   - %s\n", ip)
		}
		if len(h.TXT) > 0 {
			fmt.Fprintln(w, " TXT Records:")
			for _, txt := range h.TXT {
				fmt.Fprintf(w, "   - %s\n", txt)
			}
		}
		if addr, ok := h.Address(); ok {
			fmt.Fprintf(w, " URI      : ip:%s\n", addr)
		}
		fmt.Fprintln(w, rule)
	}
	return nil
}

func describe(ctx context.Context, w io.Writer, c *iio.Context, values bool) error {
	fmt.Fprintf(w, "IIO context: %s (%s)\n", c.Name(), c.URI())
	if d := c.Description(); d != "" {
		fmt.Fprintf(w, "Description: %s\n", d)
	}
	for _, a := range c.Attrs() {
		fmt.Fprintf(w, "\t%s: %s\n", a.Name, a.Value)
	}
	fmt.Fprintf(w, "IIO context has %d devices:\n", c.DeviceCount())

	for _, dev := range c.Devices() {
		name := dev.Name()
		if l := dev.Label(); l != "" {
			name += " (label: " + l + ")"
		}
		fmt.Fprintf(w, "\t%s: %s\n", dev.ID(), name)

		chans := dev.Channels()
		fmt.Fprintf(w, "\t\t%d channels found:\n", len(chans))
		for _, ch := range chans {
			dir := "input"
			if ch.IsOutput() {
				dir = "output"
			}
			line := "\t\t\t" + ch.ID()
			if n := ch.Name(); n != "" {
				line += ": " + n
			}
			line += " (" + dir
			if ch.IsScanElement() {
				line += ", scan element"
			}
			fmt.Fprintln(w, line+")")
			for _, attr := range ch.Attrs() {
				printAttr(w, "\t\t\t\t", attr, values, func() (string, error) { return ch.ReadAttr(ctx, attr) })
			}
		}

		if attrs := dev.Attrs(); len(attrs) > 0 {
			fmt.Fprintf(w, "\t\t%d device-specific attributes found:\n", len(attrs))
			for _, attr := range attrs {
				printAttr(w, "\t\t\t\t", attr, values, func() (string, error) { return dev.ReadAttr(ctx, attr) })
			}
		}
	}
	return nil
}

func printAttr(w io.Writer, indent, attr string, values bool, read func() (string, error)) {
	if !values {
		fmt.Fprintf(w, "%sattr: %s\n", indent, attr)
		return
	}
	v, err := read()
	if err != nil {
		fmt.Fprintf(w, "%sattr: %s ERROR: %v\n", indent, attr, err)
		return
	}
	fmt.Fprintf(w, "%sattr: %s value: %s\n", indent, attr, strings.TrimSpace(v))
}
