package main

import (
	"context"

	"github.com/Blackdeer1524/PageDB/cmd/pagedb/app"
)

func main() {
	app.MustExecute(context.Background())
}
