package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"toolbridge/internal/domain"
)

func newToolsCmd(o *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Compile the OpenAPI document and print the tool catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), o, func(_ context.Context, a *app) error {
				tools := a.catalog.ListTools()
				if asJSON {
					enc := json.NewEncoder(o.out)
					enc.SetIndent("", "  ")
					return enc.Encode(tools)
				}

				tw := tabwriter.NewWriter(o.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tMETHOD\tPATH\tDESCRIPTION")
				for _, t := range tools {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Name, t.Method, t.Path, t.Description)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the catalog as JSON, including input schemas")
	return cmd
}

func newExecCmd(o *rootOptions) *cobra.Command {
	var rawParams string

	cmd := &cobra.Command{
		Use:     "exec <tool>",
		Short:   "Execute one tool against the target API and print the result",
		Example: `  toolbridge exec getproduct --params '{"id":"5"}'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(rawParams)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), o, func(ctx context.Context, a *app) error {
				res, err := a.catalog.ExecuteTool(ctx, args[0], params)
				if err != nil {
					return err
				}

				enc := json.NewEncoder(o.out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
				if !res.Success {
					return fmt.Errorf("tool %s failed: %s", args[0], res.ErrorKind)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&rawParams, "params", "p", "{}", "tool parameters as a JSON object")
	return cmd
}

func parseParams(raw string) (domain.Params, error) {
	params := domain.Params{}
	if raw == "" {
		return params, nil
	}
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, domain.NewDomainError("exec", domain.ErrInvalidInput, fmt.Sprintf("--params must be a JSON object: %v", err))
	}
	return params, nil
}
