package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/dandriscoll/devlogs/internal/repository"
	"github.com/spf13/cobra"
)

var indexForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Install the index template and create the index",
	Long: `Remove templates left by older releases, install the current index
template and create the configured index if it does not exist.
Running init again is safe.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		index := cli.index()

		for _, name := range repository.LegacyTemplateNames {
			if _, err := cli.store.DeleteLegacyTemplate(ctx, name); err != nil {
				return err
			}
		}
		if err := cli.store.PutIndexTemplate(ctx, repository.TemplateName, repository.LogIndexTemplate(index)); err != nil {
			return err
		}
		success(out, "installed template %s", repository.TemplateName)

		exists, err := cli.store.IndexExists(ctx, index)
		if err != nil {
			return err
		}
		if exists {
			success(out, "index %s already exists", index)
			return nil
		}
		if err := cli.store.CreateIndex(ctx, index, repository.CreateIndexBody()); err != nil {
			return err
		}
		success(out, "created index %s", index)
		return nil
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete the index and the devlogs templates",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		index := cli.index()
		if !indexForce && !confirm(cmd.InOrStdin(), out, fmt.Sprintf("Delete index %s and all devlogs templates?", index)) {
			warn(out, "aborted")
			return nil
		}

		if err := cli.store.DeleteIndex(ctx, index); err != nil && !repository.IsIndexNotFound(err) {
			return err
		}
		if _, err := cli.store.DeleteIndexTemplate(ctx, repository.TemplateName); err != nil {
			return err
		}
		for _, name := range repository.LegacyTemplateNames {
			if _, err := cli.store.DeleteLegacyTemplate(ctx, name); err != nil {
				return err
			}
		}
		success(out, "removed index %s and templates", index)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [index]",
	Short: "Delete an index (the configured one by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		index := cli.index()
		if len(args) == 1 {
			index = args[0]
		}
		if !indexForce && !confirm(cmd.InOrStdin(), out, fmt.Sprintf("Delete index %s?", index)) {
			warn(out, "aborted")
			return nil
		}
		if err := cli.store.DeleteIndex(cmd.Context(), index); err != nil {
			return err
		}
		success(out, "deleted index %s", index)
		return nil
	},
}

// confirm asks a yes/no question; anything but y or yes is no.
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func init() {
	cleanCmd.Flags().BoolVar(&indexForce, "force", false, "do not ask for confirmation")
	deleteCmd.Flags().BoolVar(&indexForce, "force", false, "do not ask for confirmation")
	rootCmd.AddCommand(initCmd, cleanCmd, deleteCmd)
}
