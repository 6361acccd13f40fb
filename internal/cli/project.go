package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/harun/collabedit/pkg/projection"
	"github.com/spf13/cobra"
)

var projectJSON bool

var projectCmd = &cobra.Command{
	Use:   "project FILE OFFSET",
	Short: "Project a text offset to its line, column and pixel position",
	Long: `Project a rune offset in FILE to the line, column and pixel position a
remote cursor at that offset is drawn at, using the configured editor metrics.`,
	Args: cobra.ExactArgs(2),
	RunE: runProject,
}

func init() {
	projectCmd.Flags().BoolVar(&projectJSON, "json", false, "print the position as JSON")
	rootCmd.AddCommand(projectCmd)
}

type projectedOffset struct {
	Offset int `json:"offset"`
	projection.Position
}

func runProject(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	content, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	offset, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid offset %q: %w", args[1], err)
	}

	text := string(content)
	if offset > projection.Length(text) {
		offset = projection.Length(text)
	}
	if offset < 0 {
		offset = 0
	}

	result := projectedOffset{
		Offset:   offset,
		Position: cfg.Editor.Metrics.Projection().Project(text, offset),
	}

	out := cmd.OutOrStdout()
	if projectJSON {
		return json.NewEncoder(out).Encode(result)
	}

	fmt.Fprintf(out, "offset %d: line %d, column %d (top %.2fpx, left %.2fpx)\n",
		result.Offset, result.Line, result.Column, result.Top, result.Left)
	return nil
}
