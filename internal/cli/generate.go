package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JohnPlummer/jp-go-aigen/internal/flashcards"
	"github.com/JohnPlummer/jp-go-aigen/problem"
)

// errReported marks a failure whose problem document was already printed.
var errReported = errors.New("generation failed")

func newGenerateCommand(opts Options, flags *globalFlags) *cobra.Command {
	var (
		count int
		model string
		file  string
	)

	cmd := &cobra.Command{
		Use:   "generate [source text]",
		Short: "Generate flashcards once and print them as JSON",
		Long:  "Generate flashcards from the arguments, a file (--file) or standard input. Failures are printed as a problem document.",
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := readSource(cmd.InOrStdin(), file, args)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := buildApp(ctx, opts, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.flashcards.Generate(ctx, flashcards.Input{
				SourceText: source,
				Count:      count,
				Model:      model,
				Caller:     "cli",
			})

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err != nil {
				if encErr := enc.Encode(problem.ToProblem(problem.FromError(err), "")); encErr != nil {
					return encErr
				}
				return fmt.Errorf("%w: %s", errReported, problem.FromError(err).Code())
			}
			return enc.Encode(out)
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", flashcards.DefaultCount, "Number of flashcards")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Override model name (default from settings)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the source text from a file, - for stdin")
	return cmd
}

func readSource(stdin io.Reader, file string, args []string) (string, error) {
	switch {
	case file == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read source: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	case len(args) > 0:
		return strings.Join(args, " "), nil
	}
	return "", errors.New("no source text: pass it as arguments or with --file")
}
