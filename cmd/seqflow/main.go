package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/RealZimboGuy/seqflow/internal/factory"
	"github.com/RealZimboGuy/seqflow/pkg/seqflow"
)

const usage = `usage:
  seqflow [serve]                                   run the engine and the api
  seqflow submit [-skip-metrics] <run.yaml>         create a run machine
  seqflow useradd [-api-key KEY] <user> <password>  create an api user
`

func main() {
	seqflow.SetupLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = seqflow.Start(ctx, nil)
	case "submit":
		err = submit(ctx, args)
	case "useradd":
		err = useradd(args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("seqflow exited with error", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func submit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	skipMetrics := fs.Bool("skip-metrics", false, "do not collect demultiplex and alignment metrics")
	fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	app, err := seqflow.NewApp()
	if err != nil {
		return err
	}
	defer app.Close()

	m, err := app.SubmitRunFile(ctx, fs.Arg(0), factory.RunOptions{SkipMetrics: *skipMetrics})
	if err != nil {
		return err
	}
	fmt.Println(m.ID)
	return nil
}

func useradd(args []string) error {
	fs := flag.NewFlagSet("useradd", flag.ExitOnError)
	apiKey := fs.String("api-key", "", "key accepted in the X-API-Key header")
	fs.Parse(args)
	if fs.NArg() != 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	app, err := seqflow.NewApp()
	if err != nil {
		return err
	}
	defer app.Close()

	id, err := app.AddUser(fs.Arg(0), fs.Arg(1), *apiKey)
	if err != nil {
		return err
	}
	slog.Info("User created", "id", id, "username", fs.Arg(0))
	return nil
}
