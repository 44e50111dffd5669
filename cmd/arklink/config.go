package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/arklink/arklink/internal/job"
	"github.com/arklink/arklink/internal/link"
)

// bindLinkFlags registers the user-facing job.Config fields as flags (not
// OutputKind, Logger or ArenaOptions), then mirrors each
// onto a viper key of the same name so a --config descriptor can supply the
// same values: flags win when explicitly set, the descriptor otherwise,
// following the same BindPFlag idiom cmd/root.go uses for its own settings.
func bindLinkFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("output", "o", "", "output executable path (required)")
	f.String("target", "elf", "output format: pe or elf")
	f.String("subsystem", "console", "PE subsystem: console or windows (ignored for elf)")
	f.StringArrayP("libpath", "L", nil, "add a directory to the library search path")
	f.StringArrayP("lib", "l", nil, "add a library name to resolve archive members from (without lib prefix/extension)")
	f.StringArray("import", nil, "declare an import binding: module:symbol[:slot]")
	f.StringArray("export", nil, "export a defined symbol by name")
	f.String("entry", "", "entry point symbol name (default: well-known-name search)")
	f.String("image-base", "", "base address, 0x-prefixed hex or decimal (default: format default)")
	f.Uint64("stack-size", 0, "reserved stack size in bytes (default: format default)")
	f.StringP("log-file", "", "", "also write diagnostics to this file")
	f.BoolP("verbose", "v", false, "enable verbose diagnostics")

	for _, name := range []string{
		"output", "target", "subsystem", "libpath", "lib", "import", "export",
		"entry", "image-base", "stack-size", "log-file", "verbose",
	} {
		if err := viper.BindPFlag(name, f.Lookup(name)); err != nil {
			panic(fmt.Sprintf("arklink: binding flag %q: %v", name, err))
		}
	}
}

func runLink(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(args)
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(viper.GetString("log-file"), viper.GetBool("verbose"))
	if err != nil {
		return err
	}
	defer closeLog()
	cfg.Logger = logger

	return link.Link(cfg)
}

func buildConfig(args []string) (*job.Config, error) {
	target, err := parseTarget(viper.GetString("target"))
	if err != nil {
		return nil, err
	}
	subsystem, err := parseSubsystem(viper.GetString("subsystem"))
	if err != nil {
		return nil, err
	}
	imageBase, err := parseImageBase(viper.GetString("image-base"))
	if err != nil {
		return nil, err
	}
	imports, err := parseImports(viper.GetStringSlice("import"))
	if err != nil {
		return nil, err
	}

	inputs := make([]job.Input, 0, len(args))
	for _, path := range args {
		inputs = append(inputs, job.Input{Name: path, Path: path})
	}

	return &job.Config{
		OutputPath:   viper.GetString("output"),
		Target:       target,
		OutputKind:   job.Executable,
		Subsystem:    subsystem,
		Inputs:       inputs,
		LibraryPaths: viper.GetStringSlice("libpath"),
		LibraryNames: viper.GetStringSlice("lib"),
		Imports:      imports,
		Exports:      viper.GetStringSlice("export"),
		EntryPoint:   viper.GetString("entry"),
		ImageBase:    imageBase,
		StackSize:    viper.GetUint64("stack-size"),
		Verbose:      viper.GetBool("verbose"),
	}, nil
}

func parseTarget(s string) (job.Target, error) {
	switch strings.ToLower(s) {
	case "pe":
		return job.TargetPE, nil
	case "elf", "":
		return job.TargetELF, nil
	default:
		return 0, fmt.Errorf("arklink: unknown --target %q (want pe or elf)", s)
	}
}

func parseSubsystem(s string) (job.Subsystem, error) {
	switch strings.ToLower(s) {
	case "console", "":
		return job.SubsystemConsole, nil
	case "windows":
		return job.SubsystemWindows, nil
	default:
		return 0, fmt.Errorf("arklink: unknown --subsystem %q (want console or windows)", s)
	}
}

func parseImageBase(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	// 0x-prefixed values are hex; anything else is decimal.
	base, digits := 10, s
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base, digits = 16, s[2:]
	}
	v, err := strconv.ParseUint(digits, base, 64)
	if err != nil {
		return 0, fmt.Errorf("arklink: invalid --image-base %q: %w", s, err)
	}
	return v, nil
}

// parseImports turns "module:symbol" or "module:symbol:slot" strings from
// --import into job.ImportEntry values. A bare slot overrides the
// configuration-order assignment §4.5 otherwise performs.
func parseImports(raw []string) ([]job.ImportEntry, error) {
	entries := make([]job.ImportEntry, 0, len(raw))
	for _, s := range raw {
		parts := strings.SplitN(s, ":", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("arklink: invalid --import %q (want module:symbol[:slot])", s)
		}
		entry := job.ImportEntry{Module: parts[0], Symbol: parts[1]}
		if len(parts) == 3 {
			slot, err := strconv.ParseUint(parts[2], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("arklink: invalid slot in --import %q: %w", s, err)
			}
			v := uint32(slot)
			entry.Slot = &v
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
