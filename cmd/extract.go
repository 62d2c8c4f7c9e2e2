package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobinfo-extractor/internal/pipeline"
)

type extractOptions struct {
	timeout time.Duration
	pretty  bool
}

// newExtractCmd creates the 'extract' subcommand, which runs the pipeline
// for one URL and prints the record, or the error object, as JSON on stdout.
func newExtractCmd() *cobra.Command {
	opts := &extractOptions{}
	cmd := &cobra.Command{
		Use:   "extract <url>",
		Short: "Extracts job information from a single URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtractCommand(cmd, args[0], opts)
		},
	}
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 90*time.Second, "overall deadline for the extraction")
	cmd.Flags().BoolVar(&opts.pretty, "pretty", false, "indent the JSON output")
	return cmd
}

type extractFailure struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Stage   string `json:"stage,omitempty"`
	Raw     any    `json:"raw,omitempty"`
}

func runExtractCommand(cmd *cobra.Command, rawURL string, opts *extractOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(cmd.Context(), appInstance)

	ctx := cmd.Context()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	if opts.pretty {
		enc.SetIndent("", "  ")
	}

	rec, err := appInstance.Extract(ctx, pipeline.Request{URL: rawURL})
	if err == nil {
		if encErr := enc.Encode(rec); encErr != nil {
			return fmt.Errorf("write result: %w", encErr)
		}
		return nil
	}

	out := extractFailure{Error: err.Error()}
	var pErr *pipeline.Error
	if errors.As(err, &pErr) {
		out = extractFailure{
			Error:   pErr.Message,
			Details: pErr.Details(),
			Kind:    string(pErr.Kind),
			Stage:   string(pErr.Stage),
			Raw:     pErr.Detail,
		}
	}
	if encErr := enc.Encode(out); encErr != nil {
		appInstance.Logger().Warn("write failure JSON failed", zap.Error(encErr))
	}
	return err
}
