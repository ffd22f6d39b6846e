package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stevetools/calsync/internal/importer"
)

func newImportCmd() *cobra.Command {
	var flagDir string

	cmd := &cobra.Command{
		Use:   "import [file.ics ...]",
		Short: "Import .ics files into the local store",
		Long: `Import reads iCalendar files and adds their events to the local store,
marked for push on the next sync. Processed files are renamed with an
.imported suffix. With no arguments it scans the configured drop
directory once.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			dir := cfg.Import.Dir
			if flagDir != "" {
				dir = flagDir
			}

			imp := importer.New(st, dir, logger)

			if len(args) > 0 {
				total := 0

				for _, path := range args {
					n, err := imp.IngestFile(cmd.Context(), path)
					if err != nil {
						return fmt.Errorf("importing %s: %w", path, err)
					}

					total += n
				}

				fmt.Printf("imported %d event(s)\n", total)

				return nil
			}

			if dir == "" {
				return fmt.Errorf("no files given and no import directory configured")
			}

			n, err := imp.ScanOnce(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("imported %d event(s)\n", n)

			return nil
		},
	}

	cmd.Flags().StringVar(&flagDir, "dir", "", "directory to scan instead of the configured one")

	return cmd
}
