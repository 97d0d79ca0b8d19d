package app

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	srvapp "github.com/Blackdeer1524/PageDB/src/app"
)

func initStart() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Starts the page store server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(
				cmd.Context(),
				os.Interrupt,
				syscall.SIGTERM,
			)
			defer cancel()

			e := &srvapp.Entrypoint{
				ConfigPath: rootCmd.Options.ConfigPath,
			}
			if err := e.Init(ctx); err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			return e.Run(ctx)
		},
	})
}
