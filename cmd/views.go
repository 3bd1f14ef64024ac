package cmd

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/zjrosen/tabtree/internal/config"
)

var viewsCmd = &cobra.Command{
	Use:   "views",
	Short: "Manage the views seeded on first start",
	Long: `List and edit the views section of the config file. These views seed
a fresh tree. Views of an existing tree are managed with CREATE_VIEW and
DELETE_VIEW requests.`,
}

var viewsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured views",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := loadedConfig()
		if err != nil {
			return err
		}
		return writeViews(cmd.OutOrStdout(), c.GetViews())
	},
}

var viewColor string

var viewsAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a view to the config file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadedConfig()
		if err != nil {
			return err
		}
		if err := config.AddView(configPath(), config.ViewConfig{Name: args[0], Color: viewColor}, c.GetViews()); err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Added view %q to %s\n", args[0], configPath())
		return err
	},
}

var viewsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Remove a view from the config file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadedConfig()
		if err != nil {
			return err
		}
		if err := config.DeleteView(configPath(), args[0], c.GetViews()); err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Deleted view %q from %s\n", args[0], configPath())
		return err
	},
}

func init() {
	rootCmd.AddCommand(viewsCmd)
	viewsCmd.AddCommand(viewsListCmd, viewsAddCmd, viewsDeleteCmd)

	viewsAddCmd.Flags().StringVar(&viewColor, "color", "", "View color as #RGB or #RRGGBB")
}

func writeViews(w io.Writer, views []config.ViewConfig) error {
	for _, v := range views {
		name := v.Name
		if v.Color != "" {
			name = lipgloss.NewStyle().Foreground(lipgloss.Color(v.Color)).Render(v.Name)
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\n", name, v.Color); err != nil {
			return err
		}
	}
	return nil
}
