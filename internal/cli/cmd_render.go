package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"survey/internal/domain"
	"survey/internal/etl"
	"survey/internal/schema"
)

// renderCmd converts a report into a standalone HTML page
var renderCmd = &cobra.Command{
	Use:   "render [report.md | report.csv]",
	Short: "Render a Markdown report, or a CSV report as a table, to HTML",
	Long: `Renders a Markdown narrative to a standalone HTML page. With --table the
input is a CSV report and the page holds one HTML table; meta-* columns are
left out unless --meta is set.

Example:
  survey render out/team.md
  survey render --table out/team.csv -o out/team.table.html`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

// schemaCmd prints the resolved question columns
var schemaCmd = &cobra.Command{
	Use:   "schema [questions.yaml]",
	Short: "Show the resolved question columns of a schema",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchema,
}

var (
	renderOut   string
	renderTitle string
	renderTable bool
	renderMeta  bool

	schemaLabels string
	schemaJSON   bool
)

func init() {
	renderCmd.Flags().StringVarP(&renderOut, "output", "o", "", "HTML file (default: input with .html)")
	renderCmd.Flags().StringVar(&renderTitle, "title", "", "Page title (default: input name)")
	renderCmd.Flags().BoolVar(&renderTable, "table", false, "Input is CSV; render it as a table")
	renderCmd.Flags().BoolVar(&renderMeta, "meta", false, "Keep meta-* columns in the table")

	schemaCmd.Flags().StringVar(&schemaLabels, "labels", "plain", "Column label style (plain, indexed, numbered)")
	schemaCmd.Flags().BoolVar(&schemaJSON, "json", false, "Print JSON")
}

func runRender(cmd *cobra.Command, args []string) error {
	in := args[0]
	base := strings.TrimSuffix(in, filepath.Ext(in))
	out := renderOut
	if out == "" {
		if renderTable {
			out = base + ".table" + etl.ExtHTML
		} else {
			out = base + etl.ExtHTML
		}
	}
	title := renderTitle
	if title == "" {
		title = filepath.Base(base)
	}

	var err error
	if renderTable {
		err = etl.RenderTableFile(in, out, title, renderMeta)
	} else {
		err = etl.RenderHTMLFile(in, out, title)
	}
	if err != nil {
		return err
	}
	log().Debug("rendered", zapPath(out))
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

type schemaColumn struct {
	Position int    `json:"position"`
	Label    string `json:"label"`
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`
}

func runSchema(cmd *cobra.Command, args []string) error {
	doc, err := schema.Load(args[0])
	if err != nil {
		return err
	}
	defs, err := doc.Definitions()
	if err != nil {
		return err
	}
	style, err := schema.ParseLabelStyle(schemaLabels)
	if err != nil {
		return err
	}
	labels := schema.Labels(defs, style)
	if _, err := etl.SurveyColumns(labels); err != nil {
		return err
	}

	cols := make([]schemaColumn, len(defs))
	for i, d := range defs {
		cols[i] = schemaColumn{Position: d.Position, Label: labels[i], Type: d.Type, Required: d.Required}
	}

	w := cmd.OutOrStdout()
	if schemaJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cols)
	}
	if doc.Meta.Title != "" {
		fmt.Fprintf(w, "# %s\n", doc.Meta.Title)
	}
	for _, c := range cols {
		req := ""
		if c.Required {
			req = " *"
		}
		fmt.Fprintf(w, "%3d  %s (%s)%s\n", c.Position, c.Label, c.Type, req)
	}
	fmt.Fprintf(w, "     + %s\n", strings.Join(domain.ReservedColumns, ", "))
	return nil
}
