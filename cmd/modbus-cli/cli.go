package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/grid-x/modbustcp"
)

// flagKeys maps persistent flags to config keys.
var flagKeys = map[string]string{
	"address":         "address",
	"unit-id":         "unit_id",
	"timeout":         "timeout",
	"idle-timeout":    "idle_timeout",
	"tls":             "tls.enabled",
	"tls-server-name": "tls.server_name",
	"tls-insecure":    "tls.insecure",
	"tls-ca-file":     "tls.ca_file",
	"log-level":       "log.level",
	"log-format":      "log.format",
	"log-file":        "log.file",
	"log-frame":       "log.frame",
}

type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *Config
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "modbus-cli",
		Short: "MODBUS TCP client",
		Long: `Reads and writes holding registers of a MODBUS TCP device.

Settings come from flags, MBTCP_* environment variables and an optional
config file, in that order of precedence.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}
			cfg, err := LoadConfig(a.v, a.cfgFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}

	d := DefaultConfig()
	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "config file (json, yaml or toml)")
	flags.StringP("address", "a", d.Address, "device address host[:port]")
	flags.Int("unit-id", d.UnitID, "unit identifier, 0xFF addresses the device itself")
	flags.Duration("timeout", d.Timeout, "connect and response timeout")
	flags.Duration("idle-timeout", d.IdleTimeout, "close the connection after this idle time, 0 keeps it open")
	flags.Bool("tls", d.TLS.Enabled, "secure the connection with TLS")
	flags.String("tls-server-name", d.TLS.ServerName, "server name to verify, defaults to the address host")
	flags.Bool("tls-insecure", d.TLS.Insecure, "skip certificate verification")
	flags.String("tls-ca-file", d.TLS.CAFile, "PEM file with the CA certificates to trust")
	flags.String("log-level", d.Log.Level, "debug, info, warn or error")
	flags.String("log-format", d.Log.Format, "console or json")
	flags.String("log-file", d.Log.File, "also log to this file, rotated at 2 MB")
	flags.Bool("log-frame", d.Log.Frame, "log sent and received frames, implies debug level")
	bindFlags(a.v, flags)

	root.AddCommand(
		a.readCmd(),
		a.writeCmd(),
		a.writeMultipleCmd(),
		a.pollCmd(),
		versionCmd(),
	)
	return root
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("binding flag %s: %v", name, err))
		}
	}
}

type runFunc func(ctx context.Context, client *modbustcp.Client, logger *zap.Logger) error

// run builds the logger and client from the loaded config, connects and
// hands them to fn. The client is closed and the log flushed afterwards.
func (a *app) run(cmd *cobra.Command, fn runFunc) error {
	return a.start(cmd, true, fn)
}

// runLazy is run without connecting first; the client dials on the first
// request.
func (a *app) runLazy(cmd *cobra.Command, fn runFunc) error {
	return a.start(cmd, false, fn)
}

func (a *app) start(cmd *cobra.Command, connect bool, fn runFunc) error {
	logger, closeLog, err := newLogger(a.cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()

	opts, err := a.cfg.ClientOptions(&debugAdapter{logger.Sugar()})
	if err != nil {
		return err
	}
	client := modbustcp.NewClient(a.cfg.Address, opts...)
	defer client.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if connect {
		logger.Debug("connecting",
			zap.String("address", a.cfg.Address),
			zap.Int("unitID", a.cfg.UnitID),
			zap.Bool("tls", a.cfg.TLS.Enabled),
		)
		if err := client.Connect(ctx); err != nil {
			return err
		}
	}
	return fn(ctx, client, logger)
}

type readOptions struct {
	pType          string
	readParseOrder string
	parseBigEndian bool
	filename       string
}

func (o *readOptions) addFlags(flags *pflag.FlagSet) {
	flags.StringVar(&o.pType, "type-parse", "raw", "type to parse the register result. Use 'raw' to see the raw bits and bytes, 'all' to decode to the commonly used formats")
	flags.StringVar(&o.readParseOrder, "read-parse-order", "", "order to parse the registers: AB, BA, ABCD, DCBA, BADC or CDAB. Overrides --order-parse-bigendian")
	flags.BoolVar(&o.parseBigEndian, "order-parse-bigendian", true, "t: big, f: little")
	flags.StringVar(&o.filename, "filename", "", "also write the result to this file")
}

func (o *readOptions) format(values []uint16, startReg uint16) (string, error) {
	var po binary.ByteOrder = binary.BigEndian
	if !o.parseBigEndian {
		po = binary.LittleEndian
	}
	result := registersToBytes(values)
	switch o.pType {
	case "raw":
		return resultToRawString(result, int(startReg)), nil
	case "all":
		return resultToAllString(result)
	}
	res, err := resultToString(result, po, o.readParseOrder, o.pType)
	if err != nil {
		return "", err
	}
	return res + "\n", nil
}

func (a *app) readCmd() *cobra.Command {
	var opts readOptions
	cmd := &cobra.Command{
		Use:   "read ADDRESS QUANTITY",
		Short: "Read holding registers (FC03)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, quantity, err := parseRange(args)
			if err != nil {
				return err
			}
			return a.run(cmd, func(ctx context.Context, client *modbustcp.Client, logger *zap.Logger) error {
				values, err := client.ReadHoldingRegisters(ctx, address, quantity)
				if err != nil {
					return err
				}
				res, err := opts.format(values, address)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), res)
				if opts.filename != "" {
					if err := resultToFile([]byte(res), opts.filename); err != nil {
						return err
					}
					logger.Info("result written", zap.String("file", opts.filename))
				}
				return nil
			})
		},
	}
	opts.addFlags(cmd.Flags())
	return cmd
}

func (a *app) writeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "write ADDRESS VALUE",
		Short: "Write a single holding register (FC06)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := parseUint16(args[0])
			if err != nil {
				return err
			}
			value, err := parseUint16(args[1])
			if err != nil {
				return err
			}
			return a.run(cmd, func(ctx context.Context, client *modbustcp.Client, logger *zap.Logger) error {
				if err := client.WriteSingleRegister(ctx, address, value); err != nil {
					return err
				}
				logger.Info("register written", zap.Uint16("address", address), zap.Uint16("value", value))
				return nil
			})
		},
	}
}

func (a *app) writeMultipleCmd() *cobra.Command {
	var (
		eType          string
		writeExecOrder string
		execBigEndian  bool
	)
	cmd := &cobra.Command{
		Use:   "write-multiple ADDRESS VALUE...",
		Short: "Write consecutive holding registers (FC16)",
		Long: `Write consecutive holding registers (FC16).

Each VALUE is encoded as --type-exec; uint16 values take one register,
32-bit types two and float64 four.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := parseUint16(args[0])
			if err != nil {
				return err
			}
			var eo binary.ByteOrder = binary.BigEndian
			if !execBigEndian {
				eo = binary.LittleEndian
			}
			var buf []byte
			for _, arg := range args[1:] {
				val, err := parseValue(eType, arg)
				if err != nil {
					return err
				}
				b, err := convertToBytes(eType, eo, writeExecOrder, val)
				if err != nil {
					return err
				}
				buf = append(buf, b...)
			}
			values, err := bytesToRegisters(buf)
			if err != nil {
				return err
			}
			return a.run(cmd, func(ctx context.Context, client *modbustcp.Client, logger *zap.Logger) error {
				if err := client.WriteMultipleRegisters(ctx, address, values); err != nil {
					return err
				}
				logger.Info("registers written",
					zap.Uint16("address", address),
					zap.Int("quantity", len(values)),
					zap.Stringer("values", modbustcp.Registers(values)),
				)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&eType, "type-exec", "uint16", "value type: uint16, int16, uint32, int32, float32 or float64")
	cmd.Flags().StringVar(&writeExecOrder, "write-exec-order", "", "register order: AB, BA, ABCD, DCBA, BADC or CDAB. Overrides --order-exec-bigendian")
	cmd.Flags().BoolVar(&execBigEndian, "order-exec-bigendian", true, "t: big, f: little")
	return cmd
}

func (a *app) pollCmd() *cobra.Command {
	var (
		opts     readOptions
		count    int
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "poll ADDRESS QUANTITY",
		Short: "Read holding registers repeatedly",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, quantity, err := parseRange(args)
			if err != nil {
				return err
			}
			if interval <= 0 {
				return fmt.Errorf("interval must be positive, got %v", interval)
			}
			return a.runLazy(cmd, func(ctx context.Context, client *modbustcp.Client, logger *zap.Logger) error {
				return poll(ctx, client, logger, pollOptions{
					readOptions: opts,
					address:     address,
					quantity:    quantity,
					count:       count,
					interval:    interval,
				}, cmd.OutOrStdout())
			})
		},
	}
	opts.addFlags(cmd.Flags())
	cmd.Flags().IntVarP(&count, "count", "n", 10, "number of reads, 0 polls until interrupted")
	cmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "time between reads")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "modbus-cli version %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "  Build: %s\n", BuildTime)
			fmt.Fprintf(cmd.OutOrStdout(), "  Commit: %s\n", GitCommit)
		},
	}
}

// parseRange parses the ADDRESS QUANTITY arguments of the read commands.
func parseRange(args []string) (address, quantity uint16, err error) {
	if address, err = parseUint16(args[0]); err != nil {
		return 0, 0, err
	}
	if quantity, err = parseUint16(args[1]); err != nil {
		return 0, 0, err
	}
	return address, quantity, nil
}

// isConnectionLoss reports whether err ended the connection, as opposed to a
// single failed exchange.
func isConnectionLoss(err error) bool {
	var connErr *modbustcp.ConnectionError
	return errors.As(err, &connErr) || errors.Is(err, modbustcp.ErrConnectionClosed)
}
