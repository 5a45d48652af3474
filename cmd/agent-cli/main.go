package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/nbenliogludev/go-page-pilot/internal/observability"
)

func main() {
	err := newRootCmd().ExecuteContext(context.Background())
	observability.Sync()
	if err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("command failed", zap.Error(err))
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
