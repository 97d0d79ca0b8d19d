package app

import (
	"context"

	"github.com/Blackdeer1524/PageDB/src/cli"
)

var rootCmd = cli.Init("pagedb")

func MustExecute(ctx context.Context) {
	initStart()
	rootCmd.MustExecute(ctx)
}
