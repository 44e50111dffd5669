package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	// Blank-imported so each backend's init() registers itself against
	// internal/link's registry before RootCmd.Run ever calls link.Link.
	_ "github.com/arklink/arklink/internal/format/elf"
	_ "github.com/arklink/arklink/internal/format/pe"
)

var cfgFile string

// RootCmd is arklink's single command: unlike cucaracha's multi-tool CLI,
// arklink does one thing (produce a linked executable), so the flags and
// the job live directly on the root command rather than on a subcommand.
var RootCmd = &cobra.Command{
	Use:   "arklink [flags] <object-or-archive-member>...",
	Short: "Link relocatable objects into a PE or ELF executable",
	Long: `arklink reads Relocatable Object (RO) and COFF input files, resolves
symbols against any configured library search path, and emits a single
PE or ELF64 executable image.

A JSON or YAML job descriptor can be supplied with --config to set any
of the same options the flags below expose; flags take precedence over
the descriptor when both set the same field.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLink,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a JSON or YAML job descriptor")
	cobra.OnInitialize(initConfig)

	bindLinkFlags(RootCmd)
}

// initConfig loads an optional job descriptor the same way cmd/root.go in
// Manu343726-cucaracha loads its own YAML config: an explicit --config path
// if given, environment variables always, and nothing else (arklink has no
// notion of a default per-user config file, unlike cucaracha's ".cucaracha").
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		viper.AutomaticEnv()
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "arklink: reading %s: %v\n", cfgFile, err)
			os.Exit(1)
		}
	} else {
		viper.AutomaticEnv()
	}
}
