// Package cli implements alertctl, the offline companion to the alert
// server: run detection over a local file, classify a single value and
// issue bearer tokens.
package cli

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"
)

type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func NewRootCommand() *cobra.Command {
	return NewRootCommandWithIO(os.Stdin, os.Stdout, os.Stderr)
}

func NewRootCommandWithIO(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{stdin: in, stdout: out, stderr: errOut}

	cmd := &cobra.Command{
		Use:           "alertctl",
		Short:         "Offline tools for the Uruguay climate alert service",
		Long:          "alertctl runs anomaly detection over local observation files, classifies single readings and issues API tokens.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.AddCommand(
		newDetectCmd(a),
		newClassifyCmd(a),
		newTokenCmd(a),
	)
	return cmd
}

func (a *app) printJSON(v interface{}) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
