package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ravi-parthasarathy/pipedash/pkg/client"
	"github.com/ravi-parthasarathy/pipedash/pkg/pipeline"
	"github.com/ravi-parthasarathy/pipedash/pkg/render"
)

// unwrap turns a response into Go's value/error pair at the command edge.
func unwrap[T any](r client.Response[T]) (T, error) {
	if e, failed := r.Error(); failed {
		var zero T
		return zero, e
	}
	v, _ := r.Value()
	return v, nil
}

// ─── nodes ────────────────────────────────────────────────────────────────────

func nodesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "List the node templates the server offers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r := a.pipelines.ListNodes(cmd.Context())
			if e, failed := r.Error(); failed {
				return e
			}
			var rec render.Recorder
			render.ProjectNodeTemplates(r, &rec)

			out := cmd.OutOrStdout()
			width := 4
			for _, n := range rec.Nodes {
				width = max(width, len(n.Label))
			}
			for _, n := range rec.Nodes {
				fmt.Fprintf(out, "  %-*s  %-6s  %s\n", width, n.Label, n.Type, n.RegistryName)
			}
			return nil
		},
	}
}

// ─── list ─────────────────────────────────────────────────────────────────────

func listCmd(a *app) *cobra.Command {
	var active string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pipelines, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r := a.pipelines.ListPipelines(cmd.Context())
			if e, failed := r.Error(); failed {
				return e
			}
			var selected *pipeline.Pipeline
			if active != "" {
				selected = &pipeline.Pipeline{ID: active}
			}
			out := cmd.OutOrStdout()
			for _, item := range render.PipelineListItems(r, selected) {
				mark := " "
				if item.Active {
					mark = "*"
				}
				fmt.Fprintf(out, "%s %s  %s\n", mark, item.ID, item.Text)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&active, "active", "", "id of the pipeline to mark as active")
	return cmd
}

// ─── show ─────────────────────────────────────────────────────────────────────

func showCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show <pipeline-id>",
		Short: "Print a pipeline graph as text or DOT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := a.pipelines.GetPipeline(cmd.Context(), args[0])
			out := cmd.OutOrStdout()

			switch strings.ToLower(format) {
			case "dot":
				d := render.NewDOT(args[0])
				render.ProjectPipeline(r, d)
				if err := d.Err(); err != nil {
					return fmt.Errorf("render dot: %w", err)
				}
				fmt.Fprint(out, d.String())
			case "text", "":
				p, err := unwrap(r)
				if err != nil {
					return err
				}
				t := &render.Text{Title: p.Name}
				render.ProjectPipeline(r, t)
				if _, err := t.WriteTo(out); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown format %q: use text or dot", format)
			}
			if e, failed := r.Error(); failed {
				return e
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "output format: text or dot")
	return cmd
}

// ─── create / import / delete ────────────────────────────────────────────────

func createCmd(a *app) *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an empty pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := unwrap(a.pipelines.CreatePipeline(cmd.Context(), args[0], description))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created pipeline %q (%s)\n", p.Name, p.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&description, "description", "", "pipeline description (default \""+client.DefaultDescription+"\")")
	return cmd
}

func importCmd(a *app) *cobra.Command {
	var fromDOT bool

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Create a pipeline from a config file or a DOT graph",
		Long: `Create a pipeline from an import config.

The file holds the JSON config the server expects (workers, nodes, adj,
manager_config, mappings). With --dot it is a Graphviz digraph instead,
whose node ids are registry names.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read file: %w", err)
			}

			var cfg *pipeline.ImportConfig
			if fromDOT {
				cfg, err = pipeline.ParseDOT(string(src))
			} else {
				cfg, err = pipeline.DecodeImportConfig(string(src))
			}
			if err != nil {
				return fmt.Errorf("parse: %w", err)
			}
			blob, err := cfg.Encode()
			if err != nil {
				return err
			}

			p, err := unwrap(a.pipelines.ImportPipeline(cmd.Context(), blob))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported pipeline %q (%s): %d nodes, %d edges\n",
				p.Name, p.ID, len(p.Nodes), len(p.Edges))
			return nil
		},
	}

	cmd.Flags().BoolVar(&fromDOT, "dot", false, "read the file as a DOT digraph")
	return cmd
}

func deleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <pipeline-id>",
		Short: "Remove a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := unwrap(a.pipelines.RemovePipeline(cmd.Context(), args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed pipeline %q (%s)\n", p.Name, p.ID)
			return nil
		},
	}
}

// ─── nodes in a pipeline ─────────────────────────────────────────────────────

func addNodeCmd(a *app) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "add-node <pipeline-id> <registry-name>",
		Short: "Place a node template in a pipeline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pid, registryName := args[0], args[1]

			templates, err := unwrap(a.pipelines.ListNodes(ctx))
			if err != nil {
				return err
			}
			var tmpl *pipeline.Node
			for i := range templates {
				if templates[i].RegistryName == registryName {
					tmpl = &templates[i]
					break
				}
			}
			if tmpl == nil {
				return fmt.Errorf("no node template named %q (see `pipedash nodes`)", registryName)
			}

			node := *tmpl
			node.ID = uuid.NewString()
			if name != "" {
				node.Name = name
			}
			added, err := unwrap(a.pipelines.AddNode(ctx, pid, node))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s node %q (%s)\n", added.Type, added.Name, added.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name (default: the template's name)")
	return cmd
}

func removeNodeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove-node <pipeline-id> <node-id>",
		Short: "Remove a node and its edges from a pipeline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := unwrap(a.pipelines.GetPipeline(ctx, args[0]))
			if err != nil {
				return err
			}
			node, ok := p.Node(args[1])
			if !ok {
				return fmt.Errorf("pipeline %q has no node %q", args[0], args[1])
			}
			removed, err := unwrap(a.pipelines.RemoveNode(ctx, args[0], node))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed node %q (%s)\n", removed.Name, removed.ID)
			return nil
		},
	}
}

// ─── edges ────────────────────────────────────────────────────────────────────

func linkCmd(a *app) *cobra.Command {
	var edgeID string

	cmd := &cobra.Command{
		Use:   "link <pipeline-id> <source-node-id> <sink-node-id>",
		Short: "Connect two nodes of a pipeline",
		Long: `Connect two nodes of a pipeline.

Only SOURCE→STEP, STEP→SINK and SOURCE→SINK connections are allowed; any
other pair is refused before a request is sent.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pid := args[0]
			p, err := unwrap(a.pipelines.GetPipeline(ctx, pid))
			if err != nil {
				return err
			}
			src, ok := p.Node(args[1])
			if !ok {
				return fmt.Errorf("pipeline %q has no node %q", pid, args[1])
			}
			sink, ok := p.Node(args[2])
			if !ok {
				return fmt.Errorf("pipeline %q has no node %q", pid, args[2])
			}
			if err := pipeline.CheckLink(src, sink); err != nil {
				return err
			}

			if edgeID == "" {
				edgeID = uuid.NewString()
			}
			e, err := unwrap(a.pipelines.AddEdge(ctx, pid, src, sink, edgeID))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "linked %s → %s (%s)\n", e.Source, e.Sink, e.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&edgeID, "id", "", "edge id (default: a new UUID)")
	return cmd
}

func unlinkCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unlink <pipeline-id> <edge-id>",
		Short: "Remove an edge from a pipeline",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pid, edgeID := args[0], args[1]
			p, err := unwrap(a.pipelines.GetPipeline(ctx, pid))
			if err != nil {
				return err
			}
			e, ok := p.Edge(edgeID)
			if !ok {
				return fmt.Errorf("pipeline %q has no edge %q", pid, edgeID)
			}
			src, ok := p.Node(e.Source)
			if !ok {
				src = pipeline.Node{ID: e.Source}
			}
			sink, ok := p.Node(e.Sink)
			if !ok {
				sink = pipeline.Node{ID: e.Sink}
			}

			removed, err := unwrap(a.pipelines.RemoveEdge(ctx, pid, src, sink, edgeID))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unlinked %s → %s (%s)\n", removed.Source, removed.Sink, removed.ID)
			return nil
		},
	}
}

// ─── lint ─────────────────────────────────────────────────────────────────────

func lintCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "lint <pipeline-id>",
		Short: "Check a stored pipeline for structural problems",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := unwrap(a.pipelines.GetPipeline(cmd.Context(), args[0]))
			if err != nil {
				return err
			}
			if lintErr := pipeline.ValidateErr(&p); lintErr != nil {
				return lintErr
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: pipeline %q is valid (%d nodes, %d edges)\n",
				p.Name, len(p.Nodes), len(p.Edges))
			return nil
		},
	}
}

// ─── plugins ──────────────────────────────────────────────────────────────────

func pluginsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List node plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			plugins, err := unwrap(a.pipelines.ListPlugins(cmd.Context()))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range plugins {
				mark := " "
				if p.Installed {
					mark = "x"
				}
				fmt.Fprintf(out, "[%s] %s", mark, p.Name)
				if p.Description != "" {
					fmt.Fprintf(out, "  %s", p.Description)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
}

func installPluginCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "install-plugin <name>",
		Short: "Install a plugin and print the templates it adds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes, err := unwrap(a.pipelines.InstallPlugin(cmd.Context(), args[0]))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "installed %s: %d node templates\n", args[0], len(nodes))
			for _, n := range nodes {
				fmt.Fprintf(out, "  %-6s  %s\n", n.Type, n.RegistryName)
			}
			return nil
		},
	}
}

func sourceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "source <registry-name> <package>",
		Short: "Print the source code of a node template",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			node := pipeline.Node{RegistryName: args[0], Package: args[1]}
			src, err := unwrap(a.pipelines.NodeSourceCode(cmd.Context(), node))
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), src)
			if !strings.HasSuffix(src, "\n") {
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	}
}
