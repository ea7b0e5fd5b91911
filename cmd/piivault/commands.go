package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hfi/pii-vault/internal/anonymizer"
	"github.com/hfi/pii-vault/internal/app"
	"github.com/hfi/pii-vault/internal/mapping"
	"github.com/hfi/pii-vault/pkg/token"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and management server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(runCtx, cfg, logger, Version)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.Run(runCtx)
		},
	}
}

func newAnonymizeCommand(ctx *commandContext) *cobra.Command {
	var lenient bool

	cmd := &cobra.Command{
		Use:   "anonymize [text]",
		Short: "Replace PII in text with tokens",
		Long:  "Replace PII in text with tokens. Reads stdin when no text argument is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			a, err := ctx.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.Anonymizer().Anonymize(cmd.Context(), input, anonymizer.Options{LenientNames: lenient})
			fmt.Fprintln(cmd.OutOrStdout(), res.Text)
			return nil
		},
	}

	cmd.Flags().BoolVar(&lenient, "lenient", false, "Also detect lowercase and indicator-introduced names")
	return cmd
}

func newDeanonymizeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deanonymize [text]",
		Short: "Restore tokens in text to their original values",
		Long:  "Restore tokens in text to their original values. Reads stdin when no text argument is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd, args)
			if err != nil {
				return err
			}

			a, err := ctx.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.Deanonymizer().Deanonymize(cmd.Context(), input, "")
			fmt.Fprintln(cmd.OutOrStdout(), res.Text)
			if res.UnresolvedCount > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "%d token(s) could not be resolved\n", res.UnresolvedCount)
			}
			return nil
		},
	}
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show mapping counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			fmt.Fprintln(cmd.OutOrStdout(), renderStats(a.Store().Stats(cmd.Context())))
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "piivault %s\n", Version)
			fmt.Fprintf(out, "Git Commit: %s\n", GitCommit)
			fmt.Fprintf(out, "Build Time: %s\n", BuildTime)
		},
	}
}

func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

func renderStats(st mapping.Stats) string {
	rows := [][]string{
		{"Tokens in memory", strconv.Itoa(st.TokensInMemory)},
		{"Tokens in persistent store", strconv.FormatInt(st.TokensInPersistentStore, 10)},
		{"Backing store connected", strconv.FormatBool(st.BackingStoreConnected)},
	}

	for _, t := range token.Types {
		rows = append(rows, []string{string(t) + " tokens", strconv.Itoa(st.ByType[t])})
	}

	return renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight})
}
