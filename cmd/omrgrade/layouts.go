package main

import (
	"fmt"
	"text/tabwriter"

	"omr-grader/internal/layout"
	"omr-grader/internal/version"

	"github.com/spf13/cobra"
)

var exportPath string

var layoutsCmd = &cobra.Command{
	Use:   "layouts [name]",
	Short: "List registered sheet layouts",
	Long:  "List the built-in layouts, or with a name and --export write that layout to a YAML or JSON file to use as a starting point for --layout-file.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLayouts,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
	},
}

func init() {
	rootCmd.AddCommand(layoutsCmd, versionCmd)
	layoutsCmd.Flags().StringVar(&exportPath, "export", "", "Write the named layout to this file (.yaml or .json)")
}

func runLayouts(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		l := layout.Get(args[0])
		if l == nil {
			return fmt.Errorf("unknown layout %q", args[0])
		}
		if exportPath == "" {
			return fmt.Errorf("--export is required with a layout name")
		}
		if err := l.SaveToFile(exportPath); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s to %s\n", l.Name(), exportPath)
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tGRID\tQUESTIONS\tCHOICES\tDESCRIPTION")
	for _, name := range layout.List() {
		l := layout.Get(name)
		fmt.Fprintf(w, "%s\t%dx%d\t%d\t%d\t%s\n", l.Name(), l.Rows, l.Cols, l.Answers.Questions, l.Answers.Choices, l.Description)
	}
	return w.Flush()
}
