package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rendis/chatflow/internal/agents"
	"github.com/rendis/chatflow/internal/conversation"
	"github.com/rendis/chatflow/internal/definitions"
	"github.com/rendis/chatflow/internal/diagram"
	"github.com/rendis/chatflow/internal/engine"
	"github.com/rendis/chatflow/internal/validation"
	"github.com/rendis/chatflow/pkg/mcp"
	"github.com/rendis/chatflow/pkg/schema"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configFile string
	envFile    string
	out        io.Writer
	errOut     io.Writer
}

func (o *globalOptions) config() (*Config, error) {
	return loadConfig(o.configFile, o.envFile)
}

// app opens the runtime. Logs go to stderr so stdout stays machine-readable.
func (o *globalOptions) app(ctx context.Context, loadCatalog bool) (*app, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, o.errOut, loadCatalog)
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	opts := &globalOptions{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:           "chatflow",
		Short:         "Run conversational workflows",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default: ./chatflow.yaml or ~/.chatflow/chatflow.yaml)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "dotenv file loaded before the config")

	root.AddCommand(
		newRunCmd(opts),
		newResumeCmd(opts),
		newStatusCmd(opts),
		newValidateCmd(opts),
		newServeCmd(opts),
		newPruneCmd(opts),
		newDiagramCmd(opts),
		newVersionCmd(opts),
	)
	return root
}

func newRunCmd(opts *globalOptions) *cobra.Command {
	var (
		slug, ver, threadID, message, input string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a workflow run on a thread",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			values, err := parseInput(input)
			if err != nil {
				return err
			}
			a, err := opts.app(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			def, err := a.catalog.Get(ctx, slug, ver)
			if err != nil {
				return err
			}
			req := engine.Request{ThreadID: threadID, Input: values}
			if message != "" {
				req.Message = &conversation.UserMessage{Text: message}
			}
			result, err := a.runner.Run(ctx, def, req)
			if err != nil {
				return err
			}
			return printJSON(opts.out, result)
		},
	}
	cmd.Flags().StringVarP(&slug, "workflow", "w", "", "workflow slug")
	cmd.Flags().StringVar(&ver, "workflow-version", "", "workflow version (default: latest)")
	cmd.Flags().StringVarP(&threadID, "thread", "t", "", "thread id")
	cmd.Flags().StringVarP(&message, "message", "m", "", "current user message")
	cmd.Flags().StringVarP(&input, "input", "i", "", "initial state.input as a JSON object")
	_ = cmd.MarkFlagRequired("workflow")
	_ = cmd.MarkFlagRequired("thread")
	return cmd
}

func newResumeCmd(opts *globalOptions) *cobra.Command {
	var slug, ver, threadID, input string
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume a suspended or failed thread",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			values, err := parseInput(input)
			if err != nil {
				return err
			}
			a, err := opts.app(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			def, err := a.catalog.Get(ctx, slug, ver)
			if err != nil {
				return err
			}
			result, err := a.runner.Resume(ctx, threadID, def, values)
			if err != nil {
				return err
			}
			return printJSON(opts.out, result)
		},
	}
	cmd.Flags().StringVarP(&slug, "workflow", "w", "", "root workflow slug of the thread")
	cmd.Flags().StringVar(&ver, "workflow-version", "", "workflow version (default: latest)")
	cmd.Flags().StringVarP(&threadID, "thread", "t", "", "thread id")
	cmd.Flags().StringVarP(&input, "input", "i", "", "resume payload as a JSON object")
	_ = cmd.MarkFlagRequired("workflow")
	_ = cmd.MarkFlagRequired("thread")
	return cmd
}

func newStatusCmd(opts *globalOptions) *cobra.Command {
	var threadID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the persisted snapshot of a thread",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := opts.app(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			status, err := a.runner.Status(ctx, threadID)
			if err != nil {
				return err
			}
			return printJSON(opts.out, status)
		},
	}
	cmd.Flags().StringVarP(&threadID, "thread", "t", "", "thread id")
	_ = cmd.MarkFlagRequired("thread")
	return cmd
}

// errInvalidDefinitions makes validate exit non-zero after printing the report.
var errInvalidDefinitions = errors.New("invalid workflow definitions")

func newValidateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Validate workflow definition files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			var registry validation.AgentRegistry
			if len(cfg.Agents) > 0 {
				registry = agents.NewRegistry(cfg.Agents...)
			}
			validator, err := validation.NewWorkflowValidator(registry)
			if err != nil {
				return err
			}

			invalid := false
			for _, path := range args {
				def, err := definitions.LoadFile(path)
				if err != nil {
					fmt.Fprintf(opts.out, "%s: %v\n", path, err)
					invalid = true
					continue
				}
				result := validator.Validate(def)
				reportValidation(opts.out, path, result)
				if !result.Valid() {
					invalid = true
				}
			}
			if invalid {
				return errInvalidDefinitions
			}
			return nil
		},
	}
}

func reportValidation(w io.Writer, path string, r *schema.ValidationResult) {
	if r.Valid() && len(r.Warnings) == 0 {
		fmt.Fprintf(w, "%s: ok\n", path)
		return
	}
	for _, issue := range r.Errors {
		fmt.Fprintf(w, "%s: error: %s: %s\n", path, issue.Path, issue.Message)
	}
	for _, issue := range r.Warnings {
		fmt.Fprintf(w, "%s: warning: %s: %s\n", path, issue.Path, issue.Message)
	}
	if r.Valid() {
		fmt.Fprintf(w, "%s: ok\n", path)
	}
}

func newServeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the workflow tools over MCP stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := opts.app(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			j, err := a.newJanitor()
			if err != nil {
				return err
			}
			if err := j.Start(ctx); err != nil {
				return err
			}
			defer j.Stop()

			if addr := a.cfg.Metrics.Addr; addr != "" {
				srv, err := serveMetrics(a, addr)
				if err != nil {
					return err
				}
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			deps := mcp.ServerDeps{
				Engine:      a.runner,
				Definitions: a.catalog,
				Checker:     a.validator,
				Hub:         a.hub,
				Logger:      a.logger,
			}
			if a.history != nil {
				deps.History = a.history
			}
			if a.sql != nil {
				deps.Steps = a.sql
			}
			a.logger.Info("serving MCP on stdio", slog.Int("workflows", len(a.catalog.Slugs())))
			return mcp.NewServer(deps).Serve(ctx)
		},
	}
}

// serveMetrics exposes the runtime's registry on addr/metrics.
func serveMetrics(a *app, addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", slog.String("error", err.Error()))
		}
	}()
	a.logger.Info("metrics server started", slog.String("addr", ln.Addr().String()))
	return srv, nil
}

func newPruneCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete finished snapshots past the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := opts.app(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			j, err := a.newJanitor()
			if err != nil {
				return err
			}
			n, err := j.Prune(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(opts.out, "pruned %d snapshots\n", n)
			return nil
		},
	}
}

func newDiagramCmd(opts *globalOptions) *cobra.Command {
	var slug, ver, threadID, format, output string
	cmd := &cobra.Command{
		Use:   "diagram",
		Short: "Render a workflow graph, optionally with a thread's position",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if format != "mermaid" && format != "png" {
				return fmt.Errorf("format must be mermaid or png")
			}
			if format == "png" && output == "" {
				return fmt.Errorf("png output requires --output")
			}
			a, err := opts.app(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			def, err := a.catalog.Get(ctx, slug, ver)
			if err != nil {
				return err
			}
			var snap *schema.RuntimeSnapshot
			if threadID != "" {
				if snap, err = a.snapshots.Load(ctx, threadID); err != nil {
					return err
				}
			}
			model, err := diagram.Build(def, snap)
			if err != nil {
				return err
			}

			if format == "png" {
				png, err := diagram.RenderImage(ctx, model)
				if err != nil {
					return err
				}
				return os.WriteFile(output, png, 0o644)
			}
			text := diagram.RenderMermaid(model)
			if output != "" {
				return os.WriteFile(output, []byte(text), 0o644)
			}
			_, err = fmt.Fprint(opts.out, text)
			return err
		},
	}
	cmd.Flags().StringVarP(&slug, "workflow", "w", "", "workflow slug")
	cmd.Flags().StringVar(&ver, "workflow-version", "", "workflow version (default: latest)")
	cmd.Flags().StringVarP(&threadID, "thread", "t", "", "overlay the snapshot of this thread")
	cmd.Flags().StringVarP(&format, "format", "f", "mermaid", "mermaid or png")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	_ = cmd.MarkFlagRequired("workflow")
	return cmd
}

func newVersionCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintln(opts.out, version)
		},
	}
}

func parseInput(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var values map[string]any
	if err := sonic.ConfigStd.UnmarshalFromString(raw, &values); err != nil {
		return nil, fmt.Errorf("input must be a JSON object: %w", err)
	}
	return values, nil
}

func printJSON(w io.Writer, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
