package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dyncron/internal/app"
)

func main() {
	var (
		cfgPath string
		history bool
		check   bool
		taskID  string
		limit   int
	)
	flag.StringVar(&cfgPath, "config", "./dyncron.yaml", "path to config (yaml or json)")
	flag.BoolVar(&check, "check", false, "validate the config, preview fire times and exit")
	flag.BoolVar(&history, "history", false, "print recorded runs and exit")
	flag.StringVar(&taskID, "task", "", "with -history: only show this task")
	flag.IntVar(&limit, "limit", 20, "with -history: number of runs to show")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch {
	case check:
		if err := app.CheckConfig(os.Stdout, cfgPath, time.Now()); err != nil {
			fmt.Fprintln(os.Stderr, "config check failed:", err)
			os.Exit(1)
		}
		return
	case history:
		if err := app.PrintHistory(ctx, os.Stdout, cfgPath, taskID, limit); err != nil {
			fmt.Fprintln(os.Stderr, "fatal:", err)
			os.Exit(1)
		}
		return
	}

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		_ = a.Stop(context.Background())
		os.Exit(1)
	}

	<-a.Done()
	// The stop timeout inside the app bounds the scheduler drain; this only
	// guards against a wedged teardown step.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer stopCancel()
	stopErr := a.Stop(stopCtx)
	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if stopErr != nil {
		fmt.Fprintln(os.Stderr, "stop:", stopErr)
		os.Exit(1)
	}
}
