package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	apperrors "github.com/reglet-dev/warden/internal/application/errors"
)

type runOptions struct {
	export      string
	input       string
	inputFile   string
	metricsAddr string
	trust       bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <manifest>",
		Short: "Load a plugin and call one of its exports",
		Long: `Run reads the plugin manifest, asks for approval of any capability not
approved before, then calls the export with the given input and prints
what it returns.`,
		Example: `  warden run ./weather/plugin.yaml --export forecast --input '{"city":"Oslo"}'
  warden run plugin.yaml --export main --input-file request.json --trust`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlugin(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.export, "export", "e", "run", "exported function to call")
	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "input passed to the export")
	cmd.Flags().StringVar(&opts.inputFile, "input-file", "", "read the input from a file (- for stdin)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	cmd.Flags().BoolVar(&opts.trust, "trust", false, "approve every requested capability without prompting")
	cmd.MarkFlagsMutuallyExclusive("input", "input-file")
	_ = viper.BindPFlag("trust", cmd.Flags().Lookup("trust"))

	return cmd
}

func runPlugin(cmd *cobra.Command, manifestPath string, opts *runOptions) error {
	input, err := readInput(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := newContainer(opts.metricsAddr)
	if err != nil {
		return err
	}
	defer closeContainer(c)

	plugin, _, err := c.LoadPlugin(ctx, manifestPath, opts.trust || viper.GetBool("trust"))
	if err != nil {
		return err
	}

	out, err := plugin.Call(ctx, opts.export, input)
	if err != nil {
		return apperrors.NewExecutionError(plugin.ID(), "call to "+opts.export+" failed", err)
	}

	w := cmd.OutOrStdout()
	if _, err := w.Write(out); err != nil {
		return err
	}
	if len(out) > 0 && out[len(out)-1] != '\n' {
		_, _ = fmt.Fprintln(w)
	}
	return nil
}

func readInput(opts *runOptions) ([]byte, error) {
	switch opts.inputFile {
	case "":
		return []byte(opts.input), nil
	case "-":
		return io.ReadAll(os.Stdin)
	default:
		//nolint:gosec // G304: operator-supplied input file
		data, err := os.ReadFile(opts.inputFile)
		if err != nil {
			return nil, apperrors.NewValidationError("input-file", "cannot read input file", err.Error())
		}
		return data, nil
	}
}

func init() {
	rootCmd.AddCommand(newRunCmd())
}
