package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/unkn0wn-root/lateral/config"
)

const Version = "0.3.0"

var (
	v   = viper.New()
	cfg *config.Config

	RootCmd = &cobra.Command{
		Use:   "lateral",
		Short: "asynchronous lateral cache replication",
		Long: fmt.Sprintf(`lateral (v%s)

Replicates cache writes to peer nodes without blocking the writer,
keeps serving while peers are down and repairs them in the background.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of lateral",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("lateral v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.PersistentPreRunE = loadConfig
	RootCmd.AddCommand(serveCmd, putCmd, getCmd, keysCmd, versionCmd)

	key := "config"
	RootCmd.PersistentFlags().String(key, "", wrap("Path to a YAML, JSON or TOML config file"))
	key = "codec"
	RootCmd.PersistentFlags().String(key, "msgpack", wrap("Value codec shared by every peer (msgpack, json, cbor, string)"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "info", wrap("Log level (debug, info, warn, error)"))
	key = "node-id"
	RootCmd.PersistentFlags().Uint64(key, 0, wrap("Origin id stamped on outgoing mutations; 0 picks a random one"))
}

// loadConfig binds flags under their config names and loads file, .env and
// LATERAL_* variables. Flags set on the command line win.
func loadConfig(cmd *cobra.Command, _ []string) error {
	if cmd == versionCmd {
		return nil
	}
	for _, name := range []string{"codec", "log-level", "node-id"} {
		if err := v.BindPFlag(strings.ReplaceAll(name, "-", "_"), RootCmd.PersistentFlags().Lookup(name)); err != nil {
			return err
		}
	}
	file, _ := cmd.Flags().GetString("config")
	c, err := config.Load(v, file)
	if err != nil {
		return err
	}
	cfg = c
	return nil
}

// wrap keeps flag help readable in narrow terminals.
func wrap(text string) string {
	const width = 50
	var lines []string
	var line strings.Builder
	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && line.Len()+1+len(word) > width {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}

// Execute runs the root command. It is called once by main.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
