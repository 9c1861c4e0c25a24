package root

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newToolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools <config>",
		Short: "List the tools a config exposes",
		Args:  cobra.ExactArgs(1),
		RunE:  runToolsCommand,
	}
}

func runToolsCommand(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()

	loaded, err := loadAll(ctx, args[0])
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := loaded.Close(ctx); err == nil {
			err = closeErr
		}
	}()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tFLAGS\tDESCRIPTION")
	for _, name := range loaded.Tools.Names() {
		tool, _ := loaded.Tools.Tool(name)

		var flags []string
		if tool.LongRunning {
			flags = append(flags, "long-running")
		}
		if tool.Stream != nil {
			flags = append(flags, "streaming")
		}
		if tool.Auth != nil {
			flags = append(flags, "auth:"+string(tool.Auth.Scheme.Type))
		}
		if len(flags) == 0 {
			flags = append(flags, "-")
		}

		description, _, _ := strings.Cut(tool.Description, "\n")
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, strings.Join(flags, ","), description)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if instructions := loaded.Instructions(); instructions != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "\nInstructions:\n%s\n", instructions)
	}
	return nil
}
