package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/docopt/docopt-go"
	"golang.org/x/term"

	"github.com/folionet/folio/folio"
	"github.com/folionet/folio/ledger"
	"github.com/folionet/folio/prices"
)

const FoliodVersion = "0.1.0"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Folio server.

Usage:
    foliod serve [--listen=<listen>] [--db=<db>] [--files_dir=<files_dir>]
        [--currency=<currency>]
        [--prices_url=<prices_url>] [--prices_api_key=<prices_api_key>]
    foliod setup [--api_url=<api_url>]

Options:
    -h --help                          Show this screen.
    --version                          Show version.
    --listen=<listen>                  Listen address [default: :8077].
    --db=<db>                          Database path [default: folio.db].
    --files_dir=<files_dir>            Server files directory [default: files].
    --currency=<currency>              Base currency [default: USD].
    --prices_url=<prices_url>          Price API base url.
    --prices_api_key=<prices_api_key>  Price API key. Defaults to $PRICES_API_KEY.
    --api_url=<api_url>                Server api url [default: http://127.0.0.1:8077].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], FoliodVersion)
	if err != nil {
		panic(err)
	}

	if serve_, _ := opts.Bool("serve"); serve_ {
		serve(opts)
	} else if setup_, _ := opts.Bool("setup"); setup_ {
		setup(opts)
	}
}

func serve(opts docopt.Opts) {
	listen, _ := opts.String("--listen")
	dbPath, _ := opts.String("--db")
	filesDir, _ := opts.String("--files_dir")
	currency, _ := opts.String("--currency")
	pricesUrl, _ := opts.String("--prices_url")
	pricesApiKey, _ := opts.String("--prices_api_key")
	if pricesApiKey == "" {
		pricesApiKey = os.Getenv("PRICES_API_KEY")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := ledger.NewSqliteStore(dbPath)
	if err != nil {
		Err.Fatalf("open store: %s", err)
	}
	defer store.Close()

	computer := ledger.NewComputer(store, prices.NewHttpProvider(pricesUrl, pricesApiKey), currency)

	settings := folio.DefaultServerSettings()
	settings.FilesDir = filesDir
	server, err := folio.NewServer(ctx, store, computer, settings)
	if err != nil {
		Err.Fatalf("server: %s", err)
	}
	defer server.Close()

	httpServer := &http.Server{
		Addr:    listen,
		Handler: server.Handler(),
	}
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		httpServer.Close()
		cancel()
	}()

	Out.Printf("foliod %s listening on %s", FoliodVersion, listen)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		Err.Fatalf("listen: %s", err)
	}
}

func setup(opts docopt.Opts) {
	apiUrl, _ := opts.String("--api_url")

	fmt.Fprint(os.Stderr, "Password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		Err.Fatalf("read password: %s", err)
	}

	body, _ := json.Marshal(map[string]string{
		"password": string(password),
	})
	resp, err := http.Post(fmt.Sprintf("%s/api/setup", apiUrl), "application/json", bytes.NewReader(body))
	if err != nil {
		Err.Fatalf("setup: %s", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		Out.Printf("setup complete")
	case http.StatusConflict:
		Err.Fatalf("setup already completed")
	default:
		Err.Fatalf("setup failed: %s", resp.Status)
	}
}
