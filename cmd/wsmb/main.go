// wsmb CLI
//
// A Modbus RTU serial master. Polls register groups over RS232/RS485,
// keeps a bounded log of wire traffic, and exposes both over a REST and
// WebSocket API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mouliraj56/webSerial-modbus/pkg/api/rest"
	"github.com/mouliraj56/webSerial-modbus/pkg/api/ws"
	"github.com/mouliraj56/webSerial-modbus/pkg/config"
	"github.com/mouliraj56/webSerial-modbus/pkg/core"
	"github.com/mouliraj56/webSerial-modbus/pkg/logger"
	"github.com/mouliraj56/webSerial-modbus/pkg/modbus"
	"github.com/mouliraj56/webSerial-modbus/pkg/transport/serial"
)

var (
	version   = "1.0.0"
	buildTime = "dev"
	gitCommit = "unknown"
)

var (
	cfgFile    string
	verbose    bool
	jsonOutput bool
)

// adhoc flags shared by the one-shot commands.
var (
	port     string
	baudRate int
	parity   string
	stopBits float64
	unitID   int
	timeout  time.Duration
	quiet    time.Duration
	trace    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wsmb",
		Short: "wsmb - Modbus RTU serial master",
		Long: `wsmb is a Modbus RTU master for RS232/RS485 serial buses. It polls
configured register groups, records wire traffic in a bounded log, and
serves live values over a REST and WebSocket API.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "log in JSON format")

	rootCmd.AddCommand(
		newStartCmd(),
		newReadCmd(),
		newWriteCmd(),
		newTestCmd(),
		newScanCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// addAdhocFlags registers the serial link flags of the one-shot commands.
func addAdhocFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&port, "port", "p", "", "serial port (e.g. /dev/ttyUSB0)")
	cmd.Flags().IntVarP(&baudRate, "baud", "b", 9600, "baud rate")
	cmd.Flags().StringVar(&parity, "parity", "none", "parity (none, even, odd)")
	cmd.Flags().Float64Var(&stopBits, "stopbits", 1, "stop bits (1, 1.5 or 2)")
	cmd.Flags().IntVarP(&unitID, "unit", "u", 1, "slave unit id (1-247)")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "response timeout")
	cmd.Flags().DurationVar(&quiet, "quiet", 50*time.Millisecond, "frame silence period")
	cmd.Flags().BoolVar(&trace, "trace", false, "dump wire traffic after the exchange")
	cmd.MarkFlagRequired("port")
}

// newStartCmd creates the start command.
func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the wsmb service",
		Long:  "Start the service with every connection in the config file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart()
		},
	}
}

// runStart runs the service until interrupted.
func runStart() error {
	doc, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Apply command line flag overrides
	if verbose {
		doc.Logging.Level = "debug"
	}
	if jsonOutput {
		doc.Logging.Format = "json"
	}

	log := logger.New(doc.Logging)
	logger.SetGlobal(log)

	manager, err := core.NewManager(doc, log)
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	fmt.Println("Starting wsmb...")
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start manager: %w", err)
	}

	// Schedule every group that has a poll period.
	for _, conn := range doc.Connections {
		sess, err := manager.Session(conn.Name)
		if err != nil {
			continue
		}
		for _, slave := range conn.Slaves {
			for _, group := range slave.Groups {
				if group.Period <= 0 {
					continue
				}
				if err := sess.StartPolling(group.ID); err != nil {
					log.Error("failed to schedule group", "connection", conn.Name, "group", group.ID, "error", err)
				}
			}
		}
	}

	var apiServer *rest.Server
	var wsServer *ws.Server
	if doc.API.Enabled {
		apiServer = rest.NewServer(manager, rest.ServerConfig{Port: doc.API.Port}, log)
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}

		wsConfig := ws.DefaultServerConfig()
		wsServer = ws.NewServer(manager, wsConfig, log)
		if err := wsServer.Start(); err != nil {
			return fmt.Errorf("failed to start WebSocket server: %w", err)
		}
	}

	fmt.Println("wsmb is running. Press Ctrl+C to stop.")

	<-sigCh
	fmt.Println("\nShutting down...")

	if apiServer != nil {
		if err := apiServer.Stop(context.Background()); err != nil {
			fmt.Printf("Error stopping API server: %v\n", err)
		}
	}
	if wsServer != nil {
		if err := wsServer.Stop(context.Background()); err != nil {
			fmt.Printf("Error stopping WebSocket server: %v\n", err)
		}
	}

	if err := manager.Stop(); err != nil {
		return fmt.Errorf("failed to stop manager: %w", err)
	}

	fmt.Println("wsmb stopped.")
	return nil
}

// adhocSession opens a session on a throwaway connection built from the
// command line flags.
func adhocSession() (*core.Session, error) {
	if unitID < 1 || unitID > 247 {
		return nil, fmt.Errorf("unit id must be 1-247, got %d", unitID)
	}

	serialCfg := serial.DefaultConfig()
	serialCfg.Port = port
	serialCfg.BaudRate = baudRate
	serialCfg.Parity = parity
	serialCfg.StopBits = stopBits

	conn := config.Connection{
		Name:        "adhoc",
		Serial:      serialCfg,
		Timeout:     timeout,
		QuietPeriod: quiet,
	}

	log := logger.New(logger.Config{Level: "error", Output: "stderr"})
	if verbose {
		log = logger.New(logger.Config{Level: "debug", Output: "stderr"})
	}

	sess, err := core.NewSession(conn, serial.New(serialCfg), nil, log)
	if err != nil {
		return nil, err
	}
	if err := sess.Start(context.Background()); err != nil {
		return nil, err
	}
	return sess, nil
}

// dumpTraffic prints the session's wire traffic to stderr.
func dumpTraffic(sess *core.Session) {
	if !trace {
		return
	}
	for _, e := range sess.ExportTraffic().Entries {
		if e.Kind == "error" {
			fmt.Fprintf(os.Stderr, "%s  %-5s %s\n", e.Timestamp.Format("15:04:05.000"), e.Kind, e.Detail)
			continue
		}
		fmt.Fprintf(os.Stderr, "%s  %-5s %s\n", e.Timestamp.Format("15:04:05.000"), e.Kind, e.Bytes)
	}
}

// parseAddress resolves a space name and user-facing decimal address.
func parseAddress(spaceName, addressArg string) (modbus.Address, error) {
	space, err := modbus.ParseSpace(spaceName)
	if err != nil {
		return modbus.Address{}, err
	}
	address, err := strconv.ParseUint(addressArg, 10, 32)
	if err != nil {
		return modbus.Address{}, fmt.Errorf("invalid address %q: %w", addressArg, err)
	}
	return modbus.Address{
		Space:  space,
		Offset: modbus.ConvertAddress(space, uint32(address)),
	}, nil
}

// newReadCmd creates the read command.
func newReadCmd() *cobra.Command {
	var quantity uint16
	var format string
	var order string

	cmd := &cobra.Command{
		Use:   "read <space> <address>",
		Short: "Read registers from a device",
		Long: `Read registers or bits from a device over a serial port.

Spaces: coil, discrete_input, input_register, holding_register.
Addresses use the conventional decimal notation (coil 1, holding
register 40001). Register contents can be rendered as wider numeric
types with --as; --order picks the device's word order.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(args[0], args[1])
			if err != nil {
				return err
			}
			wordOrder, err := modbus.ParseWordOrder(order)
			if err != nil {
				return err
			}

			sess, err := adhocSession()
			if err != nil {
				return err
			}
			defer sess.Close()
			defer dumpTraffic(sess)

			values, err := sess.ReadAddress(context.Background(), byte(unitID), addr, quantity)
			if err != nil {
				return err
			}

			if addr.Space.Bit() {
				for i, v := range values {
					fmt.Printf("%s[%d] = %d\n", addr.Space, int(addr.Offset)+i, v)
				}
				return nil
			}
			return printRegisters(addr, values, format, wordOrder)
		},
	}

	addAdhocFlags(cmd)
	cmd.Flags().Uint16VarP(&quantity, "count", "n", 1, "number of registers or bits to read")
	cmd.Flags().StringVar(&format, "as", "uint16", "value rendering (uint16, int16, uint32, int32, float32, float64, ascii)")
	cmd.Flags().StringVar(&order, "order", "ABCD", "word order for multi-register values (ABCD, CDAB, BADC, DCBA)")
	return cmd
}

// printRegisters renders a run of registers in the requested view.
func printRegisters(addr modbus.Address, values []uint16, format string, order modbus.WordOrder) error {
	offset := int(addr.Offset)

	switch format {
	case "uint16":
		for i, v := range values {
			fmt.Printf("%s[%d] = %d (0x%04X)\n", addr.Space, offset+i, v, v)
		}
	case "int16":
		for i, v := range values {
			fmt.Printf("%s[%d] = %d\n", addr.Space, offset+i, modbus.Int16(v))
		}
	case "uint32", "int32", "float32":
		if len(values)%2 != 0 {
			return fmt.Errorf("%s needs an even register count, got %d", format, len(values))
		}
		for i := 0; i < len(values); i += 2 {
			switch format {
			case "uint32":
				fmt.Printf("%s[%d] = %d\n", addr.Space, offset+i, modbus.Uint32(values[i], values[i+1], order))
			case "int32":
				fmt.Printf("%s[%d] = %d\n", addr.Space, offset+i, modbus.Int32(values[i], values[i+1], order))
			case "float32":
				fmt.Printf("%s[%d] = %g\n", addr.Space, offset+i, modbus.Float32(values[i], values[i+1], order))
			}
		}
	case "float64":
		if len(values)%4 != 0 {
			return fmt.Errorf("float64 needs a multiple of four registers, got %d", len(values))
		}
		for i := 0; i < len(values); i += 4 {
			regs := [4]uint16{values[i], values[i+1], values[i+2], values[i+3]}
			fmt.Printf("%s[%d] = %g\n", addr.Space, offset+i, modbus.Float64(regs, order))
		}
	case "ascii":
		fmt.Printf("%s[%d] = %q\n", addr.Space, offset, modbus.ASCII(values))
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	return nil
}

// newWriteCmd creates the write command.
func newWriteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "write <space> <address> <value>...",
		Short: "Write holding registers or coils",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(args[0], args[1])
			if err != nil {
				return err
			}

			values := make([]uint16, 0, len(args)-2)
			for _, arg := range args[2:] {
				v, err := strconv.ParseUint(arg, 0, 16)
				if err != nil {
					return fmt.Errorf("invalid value %q: %w", arg, err)
				}
				values = append(values, uint16(v))
			}

			sess, err := adhocSession()
			if err != nil {
				return err
			}
			defer sess.Close()
			defer dumpTraffic(sess)

			if len(values) == 1 {
				err = sess.WriteRegister(context.Background(), byte(unitID), addr, values[0])
			} else {
				err = sess.WriteRegisters(context.Background(), byte(unitID), addr, values)
			}
			if err != nil {
				return err
			}

			fmt.Printf("Wrote %d value(s) to %s[%d]\n", len(values), addr.Space, addr.Offset)
			return nil
		},
	}

	addAdhocFlags(cmd)
	return cmd
}

// newTestCmd creates the test command.
func newTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Probe a device",
		Long:  "Probe a device with a single read. An exception reply still proves the device is present.",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := adhocSession()
			if err != nil {
				return err
			}
			defer sess.Close()
			defer dumpTraffic(sess)

			rtt, err := sess.TestConnection(context.Background(), byte(unitID))
			if err != nil {
				return fmt.Errorf("unit %d did not answer: %w", unitID, err)
			}

			fmt.Printf("Unit %d answered in %s\n", unitID, rtt.Round(time.Microsecond))
			return nil
		},
	}

	addAdhocFlags(cmd)
	return cmd
}

// newScanCmd creates the scan command.
func newScanCmd() *cobra.Command {
	var from, to int

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan the bus for devices",
		Long:  "Probe a range of unit ids and report which ones answer.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if from < 1 || to > 247 || from > to {
				return fmt.Errorf("invalid scan range %d-%d", from, to)
			}

			sess, err := adhocSession()
			if err != nil {
				return err
			}
			defer sess.Close()

			found := 0
			for unit := from; unit <= to; unit++ {
				rtt, err := sess.TestConnection(context.Background(), byte(unit))
				if err != nil {
					continue
				}
				fmt.Printf("Unit %3d answered in %s\n", unit, rtt.Round(time.Microsecond))
				found++
			}

			fmt.Printf("Scan complete: %d device(s) found.\n", found)
			return nil
		},
	}

	addAdhocFlags(cmd)
	cmd.Flags().IntVar(&from, "from", 1, "first unit id to probe")
	cmd.Flags().IntVar(&to, "to", 32, "last unit id to probe")
	return cmd
}

// newVersionCmd creates the version command.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("wsmb %s\n", version)
			fmt.Printf("  Commit:  %s\n", gitCommit)
			fmt.Printf("  Built:   %s\n", buildTime)
		},
	}
}
