package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	extensionengine "github.com/spirefy/go-extension-engine"
	"github.com/spirefy/go-extension-engine/config"
	"github.com/spirefy/go-extension-engine/internal/logx"
	"github.com/spirefy/go-extension-engine/metrics"
)

var validOutputFormats = []string{"json"}

// options are the global flags shared by every command.
type options struct {
	configFile string
	plugins    []string
	logLevel   string
	output     string

	// collects the recorder of the loaded engine
	registry *prometheus.Registry
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "extctl",
		Short:        "Inspect the extension points of a plugin directory",
		Long:         `Loads the plugins found under the plugin paths and reports their extension points, the loading order of their extensions and the built extension lists.`,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.output != "" && !slices.Contains(validOutputFormats, opts.output) {
				return fmt.Errorf("invalid output format: %s (valid: %v)", opts.output, validOutputFormats)
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "config file (default: user config dir/extensions/extensions.yaml)")
	flags.StringSliceVarP(&opts.plugins, "plugins", "p", nil, "plugin directories, overriding the config")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (trace, debug, info, warn, error, none)")
	flags.StringVarP(&opts.output, "output", "o", "", "output format (json)")

	root.AddCommand(
		newPluginsCmd(opts),
		newPointsCmd(opts),
		newOrderCmd(opts),
		newListCmd(opts),
		newMetricsCmd(opts),
	)
	return root
}

// loadEngine builds an engine from the flags and loads the plugin paths. Load errors of single plugins are
// reported on stderr and do not stop the command.
func loadEngine(cmd *cobra.Command, opts *options) (*extensionengine.Engine, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if len(opts.plugins) > 0 {
		cfg.PluginPaths = opts.plugins
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	logx.Configure(cfg.LogLevel)

	rec := metrics.NewRecorder()
	opts.registry = prometheus.NewRegistry()
	if err := rec.Register(opts.registry); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	e := extensionengine.New(
		extensionengine.WithConfig(cfg),
		extensionengine.WithLogger(logx.Log),
		extensionengine.WithRecorder(rec),
	)
	if err := e.Load(cmd.Context(), cfg.PluginPaths...); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}
	return e, nil
}

func withEngine(opts *options, fn func(cmd *cobra.Command, e *extensionengine.Engine, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if nil == cmd.Context() {
			cmd.SetContext(context.Background())
		}
		e, err := loadEngine(cmd, opts)
		if err != nil {
			return err
		}
		defer e.Close(cmd.Context())
		return fn(cmd, e, args)
	}
}

func newPluginsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List the loaded plugins",
		Args:  cobra.NoArgs,
		RunE: withEngine(opts, func(cmd *cobra.Command, e *extensionengine.Engine, _ []string) error {
			type row struct {
				ID       string `json:"id"`
				Version  string `json:"version"`
				Runtime  string `json:"runtime"`
				Resolved bool   `json:"resolved"`
				Path     string `json:"path"`
			}

			plugins := e.GetPlugins()
			ids := make([]string, 0, len(plugins))
			for id := range plugins {
				ids = append(ids, id)
			}
			slices.Sort(ids)

			rows := make([]row, 0, len(ids))
			for _, id := range ids {
				p := plugins[id]
				rows = append(rows, row{ID: id, Version: p.Details.Version, Runtime: p.Details.Runtime, Resolved: p.Resolved, Path: p.Path})
			}

			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), rows)
			}
			w := table(cmd.OutOrStdout())
			fmt.Fprintln(w, "ID\tVERSION\tRUNTIME\tRESOLVED\tPATH")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", r.ID, r.Version, r.Runtime, r.Resolved, r.Path)
			}
			return w.Flush()
		}),
	}
}

func newPointsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "points",
		Short: "List the extension points of the application area",
		Args:  cobra.NoArgs,
		RunE: withEngine(opts, func(cmd *cobra.Command, e *extensionengine.Engine, _ []string) error {
			type row struct {
				Name       string `json:"name"`
				Kind       string `json:"kind"`
				Contract   string `json:"contract"`
				Plugin     string `json:"plugin"`
				Extensions int    `json:"extensions"`
			}

			points := e.Area().ExtensionPoints()
			rows := make([]row, 0, len(points))
			for _, p := range points {
				r := row{Name: p.Name(), Kind: p.Kind().String(), Contract: p.ContractClassName(), Extensions: len(p.Adapters())}
				if nil != p.Plugin() {
					r.Plugin = string(p.Plugin().PluginID())
				}
				rows = append(rows, r)
			}

			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), rows)
			}
			w := table(cmd.OutOrStdout())
			fmt.Fprintln(w, "NAME\tKIND\tCONTRACT\tPLUGIN\tEXTENSIONS")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", r.Name, r.Kind, r.Contract, r.Plugin, r.Extensions)
			}
			return w.Flush()
		}),
	}
}

func newOrderCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "order <point>",
		Short: "Show the registered extensions of a point in loading order",
		Args:  cobra.ExactArgs(1),
		RunE: withEngine(opts, func(cmd *cobra.Command, e *extensionengine.Engine, args []string) error {
			type row struct {
				ID             string `json:"id"`
				Implementation string `json:"implementation"`
				Order          string `json:"order"`
				Plugin         string `json:"plugin"`
			}

			point, err := e.Area().ExtensionPoint(args[0])
			if err != nil {
				return err
			}

			adapters := point.Adapters()
			rows := make([]row, 0, len(adapters))
			for _, a := range adapters {
				r := row{ID: a.OrderID(), Implementation: a.Implementation(), Order: a.LoadingOrder().String()}
				if nil != a.Plugin() {
					r.Plugin = string(a.Plugin().PluginID())
				}
				rows = append(rows, r)
			}

			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), rows)
			}
			w := table(cmd.OutOrStdout())
			fmt.Fprintln(w, "#\tID\tIMPLEMENTATION\tORDER\tPLUGIN")
			for i, r := range rows {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i, r.ID, r.Implementation, r.Order, r.Plugin)
			}
			return w.Flush()
		}),
	}
}

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list <point>",
		Short: "Build a point and print its extensions",
		Args:  cobra.ExactArgs(1),
		RunE: withEngine(opts, func(cmd *cobra.Command, e *extensionengine.Engine, args []string) error {
			type row struct {
				Index int    `json:"index"`
				Type  string `json:"type"`
				Value string `json:"value"`
			}

			if err := e.Lock(cmd.Context()); err != nil {
				return err
			}
			list, err := e.Extensions(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			rows := make([]row, 0, len(list))
			for i, v := range list {
				rows = append(rows, row{Index: i, Type: fmt.Sprintf("%T", v), Value: fmt.Sprintf("%v", v)})
			}

			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), rows)
			}
			w := table(cmd.OutOrStdout())
			fmt.Fprintln(w, "#\tTYPE\tVALUE")
			for _, r := range rows {
				fmt.Fprintf(w, "%d\t%s\t%s\n", r.Index, r.Type, r.Value)
			}
			return w.Flush()
		}),
	}
}

func newMetricsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Build every point and print the collected registry metrics",
		Args:  cobra.NoArgs,
		RunE: withEngine(opts, func(cmd *cobra.Command, e *extensionengine.Engine, _ []string) error {
			type row struct {
				Name   string            `json:"name"`
				Labels map[string]string `json:"labels,omitempty"`
				Value  float64           `json:"value"`
			}

			ctx := cmd.Context()
			if err := e.Lock(ctx); err != nil {
				return err
			}
			for _, p := range e.Area().ExtensionPoints() {
				if _, err := p.Extensions(ctx); err != nil {
					return err
				}
			}

			families, err := opts.registry.Gather()
			if err != nil {
				return fmt.Errorf("gather metrics: %w", err)
			}

			var rows []row
			for _, f := range families {
				for _, m := range f.GetMetric() {
					r := row{Name: f.GetName(), Labels: make(map[string]string)}
					for _, l := range m.GetLabel() {
						r.Labels[l.GetName()] = l.GetValue()
					}
					switch {
					case nil != m.GetCounter():
						r.Value = m.GetCounter().GetValue()
					case nil != m.GetGauge():
						r.Value = m.GetGauge().GetValue()
					case nil != m.GetHistogram():
						r.Value = float64(m.GetHistogram().GetSampleCount())
					}
					rows = append(rows, r)
				}
			}

			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), rows)
			}
			w := table(cmd.OutOrStdout())
			fmt.Fprintln(w, "NAME\tLABELS\tVALUE")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%g\n", r.Name, labelString(r.Labels), r.Value)
			}
			return w.Flush()
		}),
	}
}

func labelString(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+labels[k])
	}
	return strings.Join(parts, ",")
}

func table(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
