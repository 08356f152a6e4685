package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"survey/internal/etl"
	"survey/internal/schema"
	"survey/internal/service"
)

// stitchCmd aggregates free-form records (corpus mode)
var stitchCmd = &cobra.Command{
	Use:   "stitch [directory | files...]",
	Short: "Stitch free-form response files into one report",
	Long: `Reads every response file under a directory (or the given files) and
writes one Markdown, CSV and JSON report. Columns are the union of all keys,
in the order they first appear.

Unless --no-metadata is set, each record gains a meta-file key holding its
path and one meta-N key per directory segment below the root.

Example:
  survey stitch responses/ -o out/report --html --bundle`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStitch,
}

// aggregateCmd aggregates records against a schema (survey mode)
var aggregateCmd = &cobra.Command{
	Use:   "aggregate [directory | files...]",
	Short: "Aggregate survey responses against a question schema",
	Long: `Aligns every response to the question schema and writes one Markdown,
CSV and JSON report. Response fields are keyed by question position.

Responses come from one or more index manifests (--manifest), a directory,
or the given files.

Example:
  survey aggregate --schema questions.yaml --manifest store/team.index.manifest -o out/team`,
	RunE: runAggregate,
}

var (
	// Shared job flags
	outputName string
	jobTitle   string
	include    []string
	tagFilter  string
	atomic     bool
	withHTML   bool
	withTable  bool
	withBundle bool
	clean      bool

	// stitch
	extensions []string
	noMetadata bool
	lenient    bool
	selectKeys []string
	dropKeys   []string
	renames    []string

	// aggregate
	schemaPath string
	labelStyle string
	manifests  []string
)

func init() {
	for _, c := range []*cobra.Command{stitchCmd, aggregateCmd} {
		c.Flags().StringVarP(&outputName, "output", "o", "", "Output name; .md, .csv and .json are appended (required)")
		c.Flags().StringVar(&jobTitle, "title", "", "Report title")
		c.Flags().StringSliceVar(&include, "include", nil, "Keep only paths containing one of these substrings")
		c.Flags().StringVar(&tagFilter, "tag", "", "Keep only files whose name starts with this tag")
		c.Flags().BoolVar(&atomic, "atomic", false, "Write to temporary files and rename on success")
		c.Flags().BoolVar(&withHTML, "html", false, "Also render the Markdown report as HTML")
		c.Flags().BoolVar(&withTable, "table", false, "Also render the CSV report as an HTML table")
		c.Flags().BoolVar(&withBundle, "bundle", false, "Also pack every artifact into a .tar.gz")
		c.Flags().BoolVar(&clean, "clean", false, "Remove artifacts of a previous run first")
		c.MarkFlagRequired("output")
	}

	stitchCmd.Flags().StringSliceVar(&extensions, "ext", []string{".json"}, `File extensions to read ("*" for all)`)
	stitchCmd.Flags().BoolVar(&noMetadata, "no-metadata", false, "Do not add meta-file and meta-N keys")
	stitchCmd.Flags().BoolVar(&lenient, "lenient", false, "Skip records whose keys collide with metadata keys instead of failing")
	stitchCmd.Flags().StringSliceVar(&selectKeys, "select", nil, "Keep only these keys")
	stitchCmd.Flags().StringSliceVar(&dropKeys, "drop", nil, "Remove these keys")
	stitchCmd.Flags().StringSliceVar(&renames, "rename", nil, "Rename keys (old=new)")

	aggregateCmd.Flags().StringVarP(&schemaPath, "schema", "s", "", "Question schema file (YAML or JSON, required)")
	aggregateCmd.Flags().StringVar(&labelStyle, "labels", "plain", "Column label style (plain, indexed, numbered)")
	aggregateCmd.Flags().StringSliceVarP(&manifests, "manifest", "m", nil, "Index manifest files to read responses from")
	aggregateCmd.MarkFlagRequired("schema")
}

func runStitch(cmd *cobra.Command, args []string) error {
	job := &etl.Job{
		Name:       jobName(),
		Mode:       etl.ModeCorpus,
		NoMetadata: noMetadata,
		Lenient:    lenient,
	}
	if err := pathSource(job, args); err != nil {
		return err
	}
	job.SourceCfg["extensions"] = extensions

	transforms, err := transformFlags()
	if err != nil {
		return err
	}
	job.Transforms = transforms
	return runAdHoc(cmd, job)
}

func runAggregate(cmd *cobra.Command, args []string) error {
	job := &etl.Job{
		Name:   jobName(),
		Mode:   etl.ModeSurvey,
		Schema: schemaPath,
		Labels: schema.LabelStyle(labelStyle),
	}
	switch {
	case len(manifests) > 0:
		if len(args) > 0 {
			return fmt.Errorf("use either --manifest or paths, not both")
		}
		job.Source = "manifest"
		job.SourceCfg = etl.SourceConfig{"manifests": manifests}
	case len(args) > 0:
		if err := pathSource(job, args); err != nil {
			return err
		}
	default:
		return fmt.Errorf("no responses given: pass --manifest, a directory or files")
	}
	return runAdHoc(cmd, job)
}

// pathSource reads a single directory argument with the directory source
// and anything else with the files source.
func pathSource(job *etl.Job, args []string) error {
	if len(args) == 1 {
		info, err := os.Stat(args[0])
		if err != nil {
			return err
		}
		if info.IsDir() {
			job.Source = "directory"
			job.SourceCfg = etl.SourceConfig{"directory": args[0]}
			return nil
		}
	}
	job.Source = "files"
	job.SourceCfg = etl.SourceConfig{"files": args}
	return nil
}

func transformFlags() ([]etl.TransformConfig, error) {
	var ts []etl.TransformConfig
	if len(renames) > 0 {
		mapping := make(map[string]any, len(renames))
		for _, r := range renames {
			from, to, ok := strings.Cut(r, "=")
			if !ok || from == "" || to == "" {
				return nil, fmt.Errorf("invalid --rename %q (want old=new)", r)
			}
			mapping[from] = to
		}
		ts = append(ts, etl.TransformConfig{Type: "rename", Config: map[string]any{"mapping": mapping}})
	}
	if len(selectKeys) > 0 {
		ts = append(ts, etl.TransformConfig{Type: "select", Config: map[string]any{"keys": selectKeys}})
	}
	if len(dropKeys) > 0 {
		ts = append(ts, etl.TransformConfig{Type: "drop", Config: map[string]any{"keys": dropKeys}})
	}
	return ts, nil
}

func jobName() string {
	return filepath.Base(strings.TrimSuffix(outputName, "/"))
}

// runAdHoc applies the shared flags and runs job once.
func runAdHoc(cmd *cobra.Command, job *etl.Job) error {
	job.Title = jobTitle
	job.Output = outputName
	job.Atomic = atomic
	job.HTML = withHTML
	job.Table = withTable
	job.Bundle = withBundle
	if len(include) > 0 {
		job.SourceCfg["include"] = include
	}
	if tagFilter != "" {
		job.SourceCfg["tag"] = tagFilter
	}

	if clean {
		if err := etl.RemoveArtifacts(job.Output); err != nil {
			return fmt.Errorf("clean: %w", err)
		}
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	emitter := &service.LogEmitter{Logger: log(), Out: cmd.OutOrStdout()}
	svc := service.NewStitchService(nil, nil, emitter, log())
	_, err := svc.Run(ctx, job)
	return err
}
