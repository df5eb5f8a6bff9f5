package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dshills/hetgraph/graph"
	"github.com/spf13/cobra"
)

func newCompileCmd() *cobra.Command {
	var file string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Partition a graph and print its actor plan",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			_, ag, err := compileFile(file, cfg.Runtime.Priority)
			if err != nil {
				return err
			}
			defer ag.Release()

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Fingerprint string             `json:"fingerprint"`
					Plan        graph.PlanSnapshot `json:"plan"`
				}{ag.Fingerprint(), ag.Snapshot()})
			}
			return printPlan(cmd.OutOrStdout(), ag)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Graph description file (YAML)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the plan snapshot as JSON")

	return cmd
}

func formatPorts(ports []graph.Port) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		layout := string(p.Layout)
		if layout == "" {
			layout = "-"
		}
		parts[i] = fmt.Sprintf("%s(%s@%s)", p.Tensor, layout, p.Device)
	}
	return strings.Join(parts, " ")
}

func printPlan(w io.Writer, ag *graph.ActorGraph) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "graph\t%s\n", ag.Name)
	fmt.Fprintf(tw, "fingerprint\t%s\n", ag.Fingerprint())
	fmt.Fprintf(tw, "adapters\t%d\n\n", ag.Adapters)

	fmt.Fprintln(tw, "SUBGRAPH\tBACKEND\tMODE\tNODES\tINPUTS\tOUTPUTS")
	for _, s := range ag.Subgraphs {
		mode := "batch"
		if s.Delegated {
			mode = "delegated"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.Name(), s.Backend, mode, strings.Join(s.NodeNames(), ","), formatPorts(s.Inputs), formatPorts(s.Outputs))
	}

	fmt.Fprintln(tw, "\nACTOR\tKIND\tINDEX\tTHRESHOLD")
	for _, a := range ag.Actors() {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", a.Name, a.Kind, a.Index, a.Threshold())
	}

	fmt.Fprintln(tw, "\nFROM\tTO\tTENSOR")
	for _, d := range ag.DataArrows() {
		tensor := d.FromTensor
		if d.ToTensor != d.FromTensor {
			tensor += "->" + d.ToTensor
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.From, d.To, tensor)
	}
	for _, c := range ag.ControlArrows() {
		fmt.Fprintf(tw, "%s\t%s\t(control)\n", c.From, c.To)
	}

	if err := tw.Flush(); err != nil {
		return err
	}
	for _, warning := range ag.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	return nil
}
