// main.go sets up the svctl command-line interface using Cobra. svctl runs
// an in-process vault manager and drives it with the shell command
// language, either from a script file or interactively.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/absfs/secvault"
	"github.com/absfs/secvault/internal/shell"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

var version = "dev" // set by the linker

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd(viper.New()).ExecuteContext(ctx); err != nil {
		// Cobra has already printed the error.
		os.Exit(1)
	}
}

// newRootCmd builds the svctl command tree on top of v. Tests pass a fresh
// viper instance for isolation.
func newRootCmd(v *viper.Viper) *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "svctl",
		Short: "svctl manages encrypted in-memory vaults.",
		Long: `svctl starts a vault manager and drives it with a small command
language: select a vault id, create it, size it, give it a key, then open
it and read or write plaintext through the cipher.

Run "svctl shell" for an interactive session or "svctl run <file>" to
execute a script.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(v, cfgFile)
		},
	}
	cmd.Version = version

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./.svctl.yaml or $HOME/.svctl.yaml)")
	cmd.PersistentFlags().Int("max-size", secvault.MaxSize, "largest vault size in bytes")
	cmd.PersistentFlags().Int("key-size", secvault.KeySize, "key length in bytes")
	cmd.PersistentFlags().Int("max-vaults", secvault.DefaultMaxVaults, "number of vault ids")
	cmd.PersistentFlags().Int64("memory-limit", 0, "bytes all vault buffers may hold (0 = unlimited)")
	cmd.PersistentFlags().Bool("debug", false, "log every request")
	cmd.PersistentFlags().Uint32("principal", uint32(os.Getuid()), "uid requests are issued as")

	for _, name := range []string{"max-size", "key-size", "max-vaults", "memory-limit", "debug", "principal"} {
		v.BindPFlag(name, cmd.PersistentFlags().Lookup(name))
	}

	cmd.AddCommand(newRunCmd(v))
	cmd.AddCommand(newShellCmd(v))
	return cmd
}

// initConfig reads an optional config file and SVCTL_* environment variables
func initConfig(v *viper.Viper, cfgFile string) error {
	v.SetEnvPrefix("SVCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config %s: %w", cfgFile, err)
		}
		return nil
	}

	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}
	v.SetConfigName(".svctl")
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	return nil
}

// managerConfig builds the manager configuration from v
func managerConfig(v *viper.Viper, logOut io.Writer) *secvault.Config {
	cfg := secvault.DefaultConfig()
	cfg.MaxSize = v.GetInt("max-size")
	cfg.KeySize = v.GetInt("key-size")
	cfg.MaxVaults = v.GetInt("max-vaults")
	cfg.MemoryLimit = v.GetInt64("memory-limit")
	cfg.Debug = v.GetBool("debug")
	cfg.Logger = log.NewWithOptions(logOut, log.Options{
		Prefix: "svctl",
		Level:  log.WarnLevel,
	})
	return cfg
}

// newSession creates a manager and a shell bound to it
func newSession(cmd *cobra.Command, v *viper.Viper, opts ...shell.Option) (*secvault.Manager, *shell.Shell, error) {
	mgr, err := secvault.New(managerConfig(v, cmd.ErrOrStderr()))
	if err != nil {
		return nil, nil, err
	}
	sh, err := shell.New(mgr, secvault.Principal(v.GetUint32("principal")), cmd.OutOrStdout(), opts...)
	if err != nil {
		mgr.Close()
		return nil, nil, err
	}
	return mgr, sh, nil
}

func newRunCmd(v *viper.Viper) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute a script of svctl commands",
		Long: `Executes every line of the script file ("-" reads stdin). Each command
prints "ok ..." or "error <kind>: <message>". With --strict the run stops
at the first failing command and svctl exits non-zero.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			mgr, sh, err := newSession(cmd, v, shell.WithStopOnError(strict))
			if err != nil {
				return err
			}
			defer mgr.Close()
			defer sh.Close()

			return sh.Run(cmd.Context(), in)
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "stop at the first failing command")
	return cmd
}

func newShellCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive svctl session",
		Long: `Reads svctl commands from stdin. "key" without an argument prompts for
the key without echo when stdin is a terminal.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []shell.Option{shell.WithKeyReader(readKey)}
			if isTerminal() {
				opts = append(opts, shell.WithPrompt("svctl> "))
			}

			mgr, sh, err := newSession(cmd, v, opts...)
			if err != nil {
				return err
			}
			defer mgr.Close()
			defer sh.Close()

			return sh.Run(cmd.Context(), cmd.InOrStdin())
		},
	}
}

// readKey prompts for a key without echoing input. It fails when stdin is
// not a terminal.
func readKey() ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("cannot read key: stdin is not a terminal")
	}

	fmt.Fprint(os.Stderr, "key: ")
	key, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}
	return key, nil
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
