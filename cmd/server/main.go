package main

import (
	"context"

	"github.com/Blackdeer1524/GraphTxn/cmd/server/app"
)

func main() {
	app.MustExecute(context.Background())
}
