package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/sweetpotato0/veriflow/rag/corrective"
	"github.com/sweetpotato0/veriflow/runner"
)

const chatGreeting = "Hello! I am your VeriFlow Agent. Type 'quit' to exit."

// askFunc is the slice of runner.Runner the interactive commands need.
type askFunc func(ctx context.Context, question string, opts ...corrective.RunOption) (*corrective.Result, error)

func newAskCmd(root *rootOptions) *cobra.Command {
	var (
		asJSON  bool
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a single question and print the verified result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			var opts []corrective.RunOption
			if verbose {
				opts = append(opts, corrective.Observe(progressPrinter(cmd.ErrOrStderr())))
			}
			question := strings.Join(args, " ")
			res, err := a.runner.Ask(cmd.Context(), question, opts...)
			if res == nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(res); encErr != nil {
					return encErr
				}
			} else {
				printResult(out, res)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print each loop step to stderr")
	return cmd
}

func newChatCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Ask questions interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			return chatLoop(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), a.runner.Ask)
		},
	}
}

// chatLoop reads one question per line until EOF, a quit word or ctx ends.
// A failed question is reported and the loop continues.
func chatLoop(ctx context.Context, in io.Reader, out io.Writer, ask askFunc) error {
	fmt.Fprintln(out, chatGreeting)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\nYou: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if isQuit(question) {
			fmt.Fprintln(out, "Goodbye!")
			return nil
		}

		res, err := ask(ctx, question, corrective.Observe(progressPrinter(out)))
		if res != nil {
			printResult(out, res)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}
}

func isQuit(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "quit", "exit", "q":
		return true
	}
	return false
}

func newBatchCmd(root *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "batch <file>",
		Short: "Answer one question per line and write JSON lines",
		Long: `Reads questions from a file (or "-" for stdin), one per line. Blank lines
and lines starting with # are skipped. Each outcome is written as one JSON
object per line in input order.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			questions, err := readQuestionsFrom(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			if len(questions) == 0 {
				return errors.New("no questions found")
			}

			cfg, err := root.load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			return writeBatch(out, a.runner.RunBatch(cmd.Context(), questions))
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write JSON lines to this file instead of stdout")
	return cmd
}

func readQuestionsFrom(stdin io.Reader, path string) ([]string, error) {
	if path == "-" {
		return readQuestions(stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readQuestions(f)
}

func readQuestions(r io.Reader) ([]string, error) {
	var questions []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		questions = append(questions, line)
	}
	return questions, scanner.Err()
}

func writeBatch(w io.Writer, results []runner.BatchResult) error {
	enc := json.NewEncoder(w)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

func newRunsCmd(root *rootOptions) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "runs [id]",
		Short: "List recorded outcomes, or show one by id",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.read()
			if err != nil {
				return err
			}
			configureLogging(cfg.Log, cmd.ErrOrStderr())

			runs, err := openRunLog(cmd.Context(), cfg.RunLog)
			if err != nil {
				return err
			}
			if runs == nil {
				return errors.New("run log is disabled")
			}
			defer runs.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				rec, err := runs.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rec)
			}

			records, err := runs.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return json.NewEncoder(out).Encode(records)
			}
			printRecords(out, records)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum records to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")
	return cmd
}
