package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ignatij/dealflow/internal/cli"
	"github.com/ignatij/dealflow/internal/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dealflow",
	Short: "Sales pipelines and their ordered stages",
}

func main() {
	cli.SetupCLI(rootCmd)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.GetLogger().Debugf("dealflow %v failed: %v", os.Args[1:], err)
		stop()
		os.Exit(1)
	}
}
