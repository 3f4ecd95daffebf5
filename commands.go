package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/madfam-io/sim4d-sub012/pkg/catalog"
	"github.com/madfam-io/sim4d-sub012/pkg/catalog/geometry"
	"github.com/madfam-io/sim4d-sub012/pkg/ctxlog"
	"github.com/madfam-io/sim4d-sub012/pkg/engine"
	"github.com/madfam-io/sim4d-sub012/pkg/graph"
)

// watchDebounce coalesces the burst of events an editor save produces.
const watchDebounce = 100 * time.Millisecond

func newEvalCmd(opts *rootOptions) *cobra.Command {
	var meshes bool
	cmd := &cobra.Command{
		Use:   "eval FILE",
		Short: "Evaluate a script and print every node's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			app, err := NewApp(opts.cfg, opts.log)
			if err != nil {
				return err
			}
			result, err := app.Evaluate(cmd.Context(), string(source), meshes)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(result.Errors) > 0 {
				printEvalErrors(out, args[0], result.Errors)
				return errReported
			}
			printNodes(out, result.Nodes)
			if meshes {
				printMeshes(out, result.Meshes)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&meshes, "mesh", false, "tessellate Ready solids and print triangle counts")
	return cmd
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch FILE",
		Short: "Re-evaluate a script every time it is saved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watch(cmd, opts, args[0])
		},
	}
}

func watch(cmd *cobra.Command, opts *rootOptions, path string) error {
	ctx := cmd.Context()
	log := ctxlog.FromContext(ctx)
	out := cmd.OutOrStdout()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	// Editors often replace the file, so watch its directory.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}
	target := filepath.Clean(path)

	app, err := NewApp(opts.cfg, opts.log)
	if err != nil {
		return err
	}
	events, cancel := app.Engine().Subscribe(0)
	defer cancel()
	go func() {
		for ev := range events {
			printEvent(out, ev)
		}
	}()

	reload := func() {
		source, err := os.ReadFile(path)
		if err != nil {
			log.Warn("Failed to read script", "path", path, "error", err)
			return
		}
		result, err := app.Evaluate(ctx, string(source), false)
		if err != nil {
			log.Error("Evaluation failed", "path", path, "error", err)
			return
		}
		if len(result.Errors) > 0 {
			printEvalErrors(out, path, result.Errors)
			return
		}
		log.Info("Evaluated script", "path", path, "generation", result.Generation,
			"changes", result.Summary.String(), "failed", result.Failed(), "unready", result.Unready())
	}
	reload()

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			debounce = time.After(watchDebounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("Watcher error", "error", err)
		case <-debounce:
			debounce = nil
			reload()
		}
	}
}

func newCatalogCmd(_ *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List the available node types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			printCatalog(cmd.OutOrStdout(), geometry.New())
			return nil
		},
	}
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check FILE",
		Short: "Validate a script's graph without evaluating it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			app, err := NewApp(opts.cfg, opts.log)
			if err != nil {
				return err
			}
			result, err := app.Load(string(source))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(result.Errors) > 0 {
				printEvalErrors(out, args[0], result.Errors)
				return errReported
			}
			findings := app.Engine().Validate()
			for _, f := range findings {
				fmt.Fprintln(out, severityColor(f.Severity).Sprint(f.Error()))
			}
			if graph.HasErrors(findings) {
				return errReported
			}
			fmt.Fprintf(out, "%s: %d nodes, %d edges, ok\n", args[0], len(app.Engine().Nodes()), len(app.Engine().Edges()))
			return nil
		},
	}
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

func printNodes(w io.Writer, nodes []NodeData) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Node", "Type", "Status", "Hash", "Computed", "Error"})
	for _, n := range nodes {
		t.AppendRow(table.Row{n.ID, n.Type, statusColor(n.Status).Sprint(n.Status), n.Hash, n.ComputedAt, n.Error})
	}
	t.Render()
}

func printMeshes(w io.Writer, meshes []MeshData) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Part", "Vertices", "Triangles", "Color"})
	for _, m := range meshes {
		t.AppendRow(table.Row{m.PartName, len(m.Vertices) / 3, len(m.Indices) / 3, m.Color})
	}
	t.Render()
}

func printCatalog(w io.Writer, cat *catalog.Catalog) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Type", "Category", "Inputs", "Outputs", "Params", "Volatile"})
	for _, e := range cat.Entries() {
		var ins, outs, params []string
		for _, in := range e.Inputs {
			s := in.Name + ":" + in.Type
			if in.Kind == catalog.List {
				s += "[]"
			}
			if !in.Required {
				s += "?"
			}
			ins = append(ins, s)
		}
		for _, out := range e.Outputs {
			outs = append(outs, out.Name+":"+out.Type)
		}
		for _, p := range e.Params {
			params = append(params, fmt.Sprintf("%s=%v", p.Name, p.Default))
		}
		volatile := ""
		if e.Volatile {
			volatile = text.FgYellow.Sprint("yes")
		}
		t.AppendRow(table.Row{e.TypeID, e.Category, strings.Join(ins, " "), strings.Join(outs, " "), strings.Join(params, " "), volatile})
	}
	t.Render()
}

func printEvalErrors(w io.Writer, path string, errs []EvalErrorData) {
	for _, e := range errs {
		if e.Line > 0 {
			fmt.Fprintf(w, "%s:%d: %s\n", path, e.Line, text.FgRed.Sprint(e.Message))
		} else {
			fmt.Fprintf(w, "%s: %s\n", path, text.FgRed.Sprint(e.Message))
		}
	}
}

func printEvent(w io.Writer, ev engine.Event) {
	status := ev.Status.String()
	if ev.Removed {
		status = "removed"
	}
	fmt.Fprintf(w, "gen %-4d %-20s %s\n", ev.Generation, ev.NodeID, statusColor(status).Sprint(status))
}

func statusColor(status string) text.Colors {
	switch status {
	case "ready":
		return text.Colors{text.FgGreen}
	case "failed":
		return text.Colors{text.FgRed}
	case "blocked", "unready":
		return text.Colors{text.FgYellow}
	case "removed":
		return text.Colors{text.FgHiBlack}
	}
	return text.Colors{text.FgCyan}
}

func severityColor(s graph.ValidationSeverity) text.Colors {
	if s == graph.SeverityError {
		return text.Colors{text.FgRed}
	}
	return text.Colors{text.FgYellow}
}
