package app

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	entry "github.com/Blackdeer1524/GraphTxn/src/app"
	"github.com/Blackdeer1524/GraphTxn/src/pkg/utils"
)

func initStart() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Opens the databases and starts the admin server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e := &entry.ServerEntrypoint{
				ConfigPath: rootCmd.Options.ConfigPath,
			}
			// otherwise the logger follows GRAPHDB_ENVIRONMENT
			if rootCmd.Options.Verbose {
				e.Log = utils.Must(zap.NewDevelopment()).Sugar()
			}
			return entry.Run(cmd.Context(), e)
		},
	})
}
