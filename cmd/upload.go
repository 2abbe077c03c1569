package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/ingest"
	"github.com/sells-group/outreach-cli/internal/server"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Store a CSV or XLSX lead list as a new upload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}

		opts, err := ingestOptions(cmd)
		if err != nil {
			return err
		}
		leads, err := ingest.LoadFile(ctx, args[0], opts)
		if err != nil {
			return eris.Wrap(err, "upload")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		owner, _ := cmd.Flags().GetString("owner")
		id, err := st.CreateBatch(ctx, owner, filepath.Base(args[0]), len(leads))
		if err != nil {
			return eris.Wrap(err, "upload")
		}
		if err := st.SaveItems(ctx, id, leads); err != nil {
			return eris.Wrap(err, "upload")
		}

		zap.L().Info("upload stored",
			zap.String("upload_id", id),
			zap.String("file", args[0]),
			zap.Int("rows", len(leads)),
		)
		fmt.Fprintf(os.Stdout, "%s\t%d leads\n", id, len(leads))
		return nil
	},
}

func ingestOptions(cmd *cobra.Command) (ingest.Options, error) {
	var opts ingest.Options
	delim, _ := cmd.Flags().GetString("delimiter")
	switch {
	case delim == `\t` || delim == "tab":
		opts.CSV.Delimiter = '\t'
	case len([]rune(delim)) == 1:
		opts.CSV.Delimiter = []rune(delim)[0]
	case delim != "":
		return opts, eris.Errorf("upload: delimiter must be a single character, got %q", delim)
	}
	opts.XLSX.SheetName, _ = cmd.Flags().GetString("sheet")
	return opts, nil
}

func init() {
	uploadCmd.Flags().String("owner", server.LocalOwner, "owner recorded on the upload")
	uploadCmd.Flags().String("delimiter", "", "CSV field delimiter (default comma, \"tab\" for TSV)")
	uploadCmd.Flags().String("sheet", "", "worksheet name for XLSX files (default first sheet)")
	rootCmd.AddCommand(uploadCmd)
}
