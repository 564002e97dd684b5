// Package cli wires the patchdispatch command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/sokinpui/patchdispatch/internal/app"
	"github.com/sokinpui/patchdispatch/internal/config"
	"github.com/sokinpui/patchdispatch/internal/source"
	"github.com/sokinpui/patchdispatch/internal/tui"
	"github.com/sokinpui/patchdispatch/internal/ui"
	"github.com/sokinpui/patchdispatch/model"
)

// ReportedError marks an error that was already shown to the user.
type ReportedError struct {
	Err error
}

func (e *ReportedError) Error() string { return e.Err.Error() }

func (e *ReportedError) Unwrap() error { return e.Err }

type runner struct {
	configPath  string
	noAnimation bool
	markdown    bool
	patchID     string
	yes         bool

	cfg    *config.Config
	logger *slog.Logger
	app    *app.App
}

// NewRootCommand builds the command tree. The returned close function
// releases the history store opened by whichever subcommand ran.
func NewRootCommand() (*cobra.Command, func() error) {
	r := &runner{}

	root := &cobra.Command{
		Use:   "patchdispatch",
		Short: "Apply file-level patch commands and revert them",
		Long: `patchdispatch parses INSERT, UPSERT, DELETE and REVERT commands from
text (a file, piped stdin or the clipboard) and applies them to a project
directory. Every applied patch is recorded so it can be reverted later.`,
		Example:           "  pbpaste | patchdispatch apply\n  patchdispatch apply fix.patch.md\n  patchdispatch revert 2",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: r.setup,
	}
	root.PersistentFlags().StringVarP(&r.configPath, "config", "c", "", "Config file (default "+config.DefaultPath+" when present).")
	root.PersistentFlags().BoolVar(&r.noAnimation, "no-animation", false, "Disable the loading spinner.")
	config.BindFlags(root.PersistentFlags())

	apply := &cobra.Command{
		Use:   "apply [file]",
		Short: "Apply a patch from a file, piped stdin or the clipboard",
		Args:  cobra.MaximumNArgs(1),
		RunE:  r.runApply,
	}
	apply.Flags().StringVar(&r.patchID, "id", "", "History ID for the patch (generated when empty).")
	apply.Flags().BoolVarP(&r.markdown, "markdown", "m", false, "Only parse fenced code blocks of a markdown document.")

	revert := &cobra.Command{
		Use:   "revert [steps]",
		Short: "Revert the most recent patches",
		Args:  cobra.MaximumNArgs(1),
		RunE:  r.runRevert,
	}
	revert.Flags().BoolVarP(&r.yes, "yes", "y", false, "Do not ask for confirmation.")

	history := &cobra.Command{
		Use:   "history",
		Short: "List the recorded patches, newest first",
		Args:  cobra.NoArgs,
		RunE:  r.runHistory,
	}

	retry := &cobra.Command{
		Use:   "retry",
		Short: "Re-apply the last patch that failed",
		Args:  cobra.NoArgs,
		RunE:  r.runRetry,
	}

	watch := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Apply patch files as they are dropped into a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE:  r.runWatch,
	}
	watch.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address.")
	watch.Flags().Bool("keep", false, "Keep patch files after they were applied.")

	root.AddCommand(apply, revert, history, retry, watch)

	closeFn := func() error {
		if r.app == nil {
			return nil
		}
		return r.app.Close()
	}
	return root, closeFn
}

// Run executes the command tree with args.
func Run(ctx context.Context, args []string) error {
	root, closeFn := NewRootCommand()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if cerr := closeFn(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Execute runs the command tree against the process arguments.
func Execute() error {
	return Run(context.Background(), os.Args[1:])
}

func (r *runner) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(r.configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.cfg = cfg
	r.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(r.logger)
	return nil
}

func (r *runner) open() (*app.App, error) {
	if r.app != nil {
		return r.app, nil
	}
	a, err := app.New(r.cfg, r.logger)
	if err != nil {
		return nil, err
	}
	r.app = a
	return a, nil
}

func (r *runner) runApply(cmd *cobra.Command, args []string) error {
	a, err := r.open()
	if err != nil {
		return err
	}
	path := ""
	if len(args) == 1 {
		path = args[0]
	}

	// Read before the TUI starts so it never competes for stdin.
	in, err := source.New().Get(path)
	if err != nil {
		return err
	}
	in.Markdown = in.Markdown || r.markdown

	return r.show(a, "Applying patch", func() (model.Summary, error) {
		return a.ApplyInput(cmd.Context(), in, r.patchID)
	})
}

func (r *runner) runRevert(cmd *cobra.Command, args []string) error {
	steps := 1
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("%w: %q", model.ErrInvalidSteps, args[0])
		}
		steps = n
	}

	a, err := r.open()
	if err != nil {
		return err
	}

	if !r.yes && source.Interactive(os.Stdin) && len(a.History()) > 0 {
		confirmed := false
		err := huh.NewConfirm().
			Title(fmt.Sprintf("Revert the last %d patch(es)?", steps)).
			Affirmative("Revert").
			Negative("Cancel").
			Value(&confirmed).
			Run()
		if err != nil {
			return err
		}
		if !confirmed {
			ui.Info("Revert cancelled.")
			return nil
		}
	}

	return r.show(a, "Reverting", func() (model.Summary, error) {
		return a.Revert(cmd.Context(), steps)
	})
}

func (r *runner) runHistory(_ *cobra.Command, _ []string) error {
	a, err := r.open()
	if err != nil {
		return err
	}
	ui.PrintHistory(a.History())
	return nil
}

func (r *runner) runRetry(cmd *cobra.Command, _ []string) error {
	a, err := r.open()
	if err != nil {
		return err
	}
	return r.show(a, "Retrying last failed patch", func() (model.Summary, error) {
		return a.Retry(cmd.Context())
	})
}

func (r *runner) runWatch(cmd *cobra.Command, args []string) error {
	a, err := r.open()
	if err != nil {
		return err
	}
	dir := ""
	if len(args) == 1 {
		dir = args[0]
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Watch(ctx, dir)
}

// show runs action behind the spinner when stderr is a terminal, otherwise
// it prints the summary as plain lines.
func (r *runner) show(a *app.App, label string, action tui.Action) error {
	guarded := func() (model.Summary, error) { return a.Execute(action) }

	if r.animate() {
		var opts []tea.ProgramOption
		if !source.Interactive(os.Stdin) {
			opts = append(opts, tea.WithInput(nil))
		}
		if _, err := tui.Run(label, guarded, opts...); err != nil {
			return &ReportedError{Err: err}
		}
		return nil
	}

	summary, err := guarded()
	ui.PrintSummary(summary)
	if err == nil {
		return nil
	}
	ui.Error("Error: %v", err)
	var detailed *app.DetailedError
	if errors.As(err, &detailed) {
		fmt.Fprintf(ui.Stderr, "\n--- Stack Trace ---\n%s\n", detailed.Stack)
	}
	return &ReportedError{Err: err}
}

func (r *runner) animate() bool {
	if r.noAnimation {
		return false
	}
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
