package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"survey/internal/domain"
	"survey/internal/storage"
)

// submitCmd stores responses through the configured response store
var submitCmd = &cobra.Command{
	Use:   "submit [response.json...]",
	Short: "Store response files in the configured response store",
	Long: `Stores each response file as a submission under the current tag using
the configured output method (disk, sqlite or off). The disk store keeps
the tag's index manifest up to date; a client's "save" submission is only
replaced in the index by a later save.

Example:
  survey submit --client 10.0.0.7 --mode web answers.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubmit,
}

var (
	submitMode    string
	submitClient  string
	submitSession string
)

func init() {
	submitCmd.Flags().StringVar(&submitMode, "mode", "survey", `Submission mode ("save" marks a partial submission)`)
	submitCmd.Flags().StringVar(&submitClient, "client", "", "Respondent identifier (required)")
	submitCmd.Flags().StringVar(&submitSession, "session", "", "Session identifier")
	submitCmd.MarkFlagRequired("client")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	opts := storage.StoreOptions{Dir: cfg.Store, Logger: log()}
	if cfg.Output == storage.MethodSQLite {
		db, err := storage.New(cfg.DB)
		if err != nil {
			return err
		}
		defer db.Close()
		opts.DB = db
	}
	store, err := storage.NewResponseStore(cfg.Output, opts)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rec, err := domain.ParseRawRecord(data)
		if err != nil {
			return domain.Malformed(path, err)
		}
		sub := &domain.Submission{
			Tag:        cfg.Tag,
			Mode:       submitMode,
			Client:     submitClient,
			Session:    submitSession,
			Data:       rec,
			ReceivedAt: time.Now(),
		}
		if err := store.Write(ctx, sub); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		log().Info("stored submission", zap.String("id", sub.ID), zap.String("tag", sub.Tag), zapPath(path))
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", sub.ID, path)
	}
	return nil
}

func zapPath(p string) zap.Field {
	return zap.String("path", p)
}
