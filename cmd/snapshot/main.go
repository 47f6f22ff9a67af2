package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"snapshot-service/client/credential"
	"snapshot-service/client/discover"
	"snapshot-service/client/negotiator"
	"snapshot-service/client/prompt"
	"snapshot-service/client/stage"
	"snapshot-service/client/uploader"
	"snapshot-service/conf"
	"snapshot-service/logger"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := pflag.NewFlagSet("snapshot", pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: snapshot [flags]")
		fmt.Fprintln(os.Stderr, "Stage the static build of the current project and print its snapshot URL.")
		fmt.Fprintln(os.Stderr)
		fs.PrintDefaults()
	}
	verbose := fs.BoolP("verbose", "v", false, "log every step to stderr")
	askPassword := fs.Bool("ask-password", false, "read the snapshot password from the terminal")

	v := viper.New()
	if err := conf.BindStageFlags(fs, v); err != nil {
		fmt.Fprintf(os.Stderr, "snapshot: %v\n", err)
		return 2
	}
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		return 2
	}

	cfg, err := conf.LoadStage(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "snapshot: %v\n", err)
		return 2
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	log := logger.New(level, "text", os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := negotiator.New(cfg.ServerURL, cfg.RequestTimeout)
	creds := credential.NewAPIKeyProvider(cfg.APIKey, cfg.ServerURL, api, cfg.TokenCachePath)
	api.SetTokenSource(creds)

	executor := uploader.NewExecutor([]uploader.Transport{
		uploader.NewDirectTransport(nil),
		uploader.NewProxyTransport(nil, api, creds),
	}, uploader.Options{
		Workers:       cfg.Concurrency,
		UploadTimeout: cfg.UploadTimeout,
		ShowProgress:  !cfg.Quiet && term.IsTerminal(int(os.Stderr.Fd())),
		Output:        os.Stderr,
		Logger:        log,
	})

	var prompter discover.Prompter
	if cfg.Interactive && prompt.IsInteractive() {
		terminal := prompt.NewTerminal(os.Stderr)
		if *askPassword && cfg.Password == "" && !cfg.GeneratePassword {
			if cfg.Password, err = terminal.Password("Snapshot password: "); err != nil {
				fmt.Fprintf(os.Stderr, "snapshot: %v\n", err)
				return 2
			}
		}
		prompter = terminal
	} else if *askPassword {
		fmt.Fprintln(os.Stderr, "snapshot: --ask-password needs an interactive terminal")
		return 2
	}

	pipeline := stage.New(cfg, stage.Deps{
		API:         api,
		Credentials: creds,
		Discoverer:  discover.New(cfg.OutputDir, prompter, log),
		Uploader:    executor,
		Logger:      log,
		BuildOutput: os.Stderr,
	})

	outcome, err := pipeline.Run(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, stage.Explain(err))
		return 1
	}
	if outcome.Cancelled {
		fmt.Fprintln(os.Stderr, "No output selected.")
		return 0
	}

	fmt.Fprintf(os.Stderr, "Staged %s (%d files, %d bytes)\n",
		discover.RelativeTo(cfg.Root, outcome.OutputDir), len(outcome.Snapshot.Files), outcome.Snapshot.TotalBytes)
	fmt.Fprintf(os.Stderr, "Expires %s\n", outcome.Snapshot.ExpiresAt.Format("2006-01-02 15:04 MST"))
	if outcome.Password != "" {
		fmt.Fprintf(os.Stderr, "Password: %s\n", outcome.Password)
	}
	fmt.Println(outcome.URL)
	return 0
}
