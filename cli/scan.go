package cli

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/opd-ai/radiolink/config"
	"github.com/opd-ai/radiolink/radio"
	"github.com/opd-ai/radiolink/transport"
)

// scanner is the part of a radio transport the scan command drives.
type scanner interface {
	Command(at string, param []byte) (*transport.Pending, error)
	SetScanHandler(handler transport.ScanHandler)
	Close() error
}

var openScanner = func(c *config.Config) (scanner, error) {
	t, err := openRadio(c)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ChannelEnergy is one energy detect reading.
type ChannelEnergy struct {
	Channel int
	// DBm is the measured energy, negative.
	DBm int
}

// Neighbor is one node discovery answer.
type Neighbor struct {
	Addr uint64
	Name string
}

// parseEnergy decodes an ED response: one -dBm byte per channel. The
// result is sorted quietest first.
func parseEnergy(param []byte) []ChannelEnergy {
	out := make([]ChannelEnergy, len(param))
	for i, b := range param {
		out[i] = ChannelEnergy{Channel: i, DBm: -int(b)}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DBm < out[j].DBm })
	return out
}

// parseNeighbor decodes an ND response: MY(2) SH(4) SL(4), an RSSI byte on
// the S1, then a NUL-terminated node identifier.
func parseNeighbor(variant string, param []byte) (Neighbor, bool) {
	if len(param) < 10 {
		return Neighbor{}, false
	}
	n := Neighbor{Addr: binary.BigEndian.Uint64(param[2:10])}
	rest := param[10:]
	if codec, err := radio.Lookup(variant); err == nil && codec.Name() == "s1" && len(rest) > 0 {
		rest = rest[1:]
	}
	if i := bytes.IndexByte(rest, 0); i >= 0 {
		rest = rest[:i]
	}
	n.Name = string(rest)
	return n, true
}

// runScan issues ED (and ND when nodes is set) and prints what arrives
// within wait.
func runScan(s scanner, variant string, nodes bool, wait time.Duration, w io.Writer) error {
	responses := make(chan *radio.Response, 64)
	s.SetScanHandler(func(resp *radio.Response) {
		select {
		case responses <- resp:
		default:
		}
	})
	defer s.SetScanHandler(nil)

	commands := []string{"ED"}
	if nodes {
		commands = append(commands, "ND")
	}
	for _, at := range commands {
		if _, err := s.Command(at, nil); err != nil {
			return fmt.Errorf("%s command: %w", at, err)
		}
	}

	deadline := time.After(wait)
	for {
		select {
		case resp := <-responses:
			switch resp.AT {
			case "ED":
				fmt.Fprintln(w, headerCellStyle.Render("Energy scan (quietest first)"))
				for _, ch := range parseEnergy(resp.Parameter) {
					fmt.Fprintf(w, "  channel %2d  %4d dBm\n", ch.Channel, ch.DBm)
				}
			case "ND":
				if n, ok := parseNeighbor(variant, resp.Parameter); ok {
					fmt.Fprintf(w, "  neighbor %s  %q\n", radio.FormatAddress(n.Addr), n.Name)
				}
			}
		case <-deadline:
			return nil
		}
	}
}

var (
	scanNodes bool
	scanWait  time.Duration
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run an energy scan and optional neighbor discovery",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openScanner(cfg)
		if err != nil {
			return fmt.Errorf("failed to open radio: %w", err)
		}
		defer s.Close()
		return runScan(s, cfg.Radio.Variant, scanNodes, scanWait, cmd.OutOrStdout())
	},
}

func init() {
	scanCmd.Flags().BoolVar(&scanNodes, "nodes", false, "also run neighbor discovery (ND)")
	scanCmd.Flags().DurationVar(&scanWait, "wait", 15*time.Second, "how long to collect responses")
	rootCmd.AddCommand(scanCmd)
}
