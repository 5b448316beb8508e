package main

import (
	"io"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootOptions struct {
	configPath string

	in  io.Reader
	out io.Writer
	err io.Writer
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	o := &rootOptions{
		configPath: "config.yaml",
		in:         in,
		out:        out,
		err:        errOut,
	}

	cmd := &cobra.Command{
		Use:   "toolbridge",
		Short: "Expose an HTTP API described by OpenAPI as model-callable tools",
		Long: `toolbridge compiles an OpenAPI document into tool definitions, executes
tool calls against the target API, and streams model conversations that
use those tools to clients over SSE or WebSocket.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.PersistentFlags().StringVarP(&o.configPath, "config", "c", o.configPath, "path to the YAML config file")

	cmd.AddCommand(
		newServeCmd(o),
		newToolsCmd(o),
		newExecCmd(o),
		newMCPCmd(o),
		newEncryptCmd(o),
	)
	return cmd
}
