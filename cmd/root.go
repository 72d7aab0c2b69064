// Package cmd implements the printerhostd command line, grounded on the
// root-command layout of a typical spf13/cobra-based daemon.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Gfermoto/Repetier-Server/config"
	"github.com/Gfermoto/Repetier-Server/printer"
	"github.com/Gfermoto/Repetier-Server/supervisor"
	"github.com/Gfermoto/Repetier-Server/webapi"
)

// Exit codes per the host daemon's external contract.
const (
	ExitOK            = 0
	ExitHelp          = 1
	ExitConfigMissing = 2
	ExitConfigInvalid = 4
)

var (
	configPath string
	listenAddr string
)

var rootCmd = &cobra.Command{
	Use:     "printerhostd",
	Short:   "Host-side serial 3D-printer controller",
	Version: "1.0.0",
	Long: `printerhostd talks to one or more 3D-printer firmwares over serial,
handling G-code framing, acknowledgement/resend flow control, and derived
printer state, and exposes the result to a web/JSON frontend.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/repetier-server.conf",
		"path to a printer config file, or a directory of *.conf files")
	rootCmd.PersistentFlags().StringVar(&listenAddr, "listen", ":3344", "address for the web/JSON frontend to listen on")
}

// Execute runs the root command and returns the process exit code. It never
// calls os.Exit itself, so callers (and tests) can observe the code.
//
// cobra handles --help/-h itself, printing usage and returning a nil error
// before RunE ever runs, so the help exit code is decided by inspecting the
// parsed help flag rather than the returned error.
func Execute() int {
	err := rootCmd.Execute()
	helpRequested := takeHelpFlag(rootCmd)

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		var cfgErr *configLoadError
		if errors.As(err, &cfgErr) {
			if cfgErr.missing {
				return ExitConfigMissing
			}
			return ExitConfigInvalid
		}
		return ExitConfigInvalid
	}
	if helpRequested {
		return ExitHelp
	}
	return ExitOK
}

// takeHelpFlag reports whether the last Execute parsed --help/-h, and clears
// the flag so a later Execute starts from a clean state.
func takeHelpFlag(c *cobra.Command) bool {
	f := c.Flags().Lookup("help")
	if f == nil {
		return false
	}
	set := f.Value.String() == "true"
	_ = f.Value.Set("false")
	return set
}

// configLoadError distinguishes "the config file/directory does not exist"
// from "the config exists but failed to parse or validate", since those map
// to different exit codes.
type configLoadError struct {
	missing bool
	cause   error
}

func (e *configLoadError) Error() string { return e.cause.Error() }
func (e *configLoadError) Unwrap() error { return e.cause }

func runServe(cmd *cobra.Command, args []string) error {
	cfgs, err := loadConfigs(configPath)
	if err != nil {
		return err
	}
	if len(cfgs) == 0 {
		return &configLoadError{missing: false, cause: fmt.Errorf("config: no printer sections found in %s", configPath)}
	}

	sup := supervisor.New()
	if err := sup.Start(cfgs); err != nil {
		return &configLoadError{missing: false, cause: err}
	}
	defer sup.StopAll()

	srv := webapi.New(sup)
	fmt.Fprintf(cmd.OutOrStdout(), "printerhostd listening on %s (%d printer(s) configured)\n", listenAddr, len(cfgs))
	if err := srv.Run(listenAddr); err != nil {
		return &configLoadError{missing: false, cause: err}
	}
	return nil
}

// loadConfigs loads a single printer config file, or every *.conf file in a
// directory (multi-printer mode, one printer per file), in a stable order.
func loadConfigs(path string) ([]*printer.Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &configLoadError{missing: true, cause: fmt.Errorf("config: %w", err)}
	}

	if !info.IsDir() {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, &configLoadError{missing: false, cause: err}
		}
		return []*printer.Config{cfg}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, &configLoadError{missing: true, cause: fmt.Errorf("config: %w", err)}
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if filepath.Ext(e.Name()) == ".conf" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var all []*printer.Config
	for _, name := range names {
		cfg, err := config.Load(filepath.Join(path, name))
		if err != nil {
			return nil, &configLoadError{missing: false, cause: err}
		}
		all = append(all, cfg)
	}
	return all, nil
}
