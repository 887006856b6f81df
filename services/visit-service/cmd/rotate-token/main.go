// Command rotate-token replaces the nonce of a page, revoking its current
// manage link, and prints the new one.
//
//	rotate-token [-slots] <reference>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/md-rashed-zaman/visitwindow/libs/config"
	"github.com/md-rashed-zaman/visitwindow/libs/runtime"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/backend"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/booking"
	"github.com/md-rashed-zaman/visitwindow/services/visit-service/internal/tokens"
)

func main() {
	_ = config.LoadDotEnv()

	slots := flag.Bool("slots", false, "also rotate every slot nonce, revoking guest ownership tokens")
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "usage: rotate-token [-slots] <reference>")
		flag.PrintDefaults()
	}
	flag.Parse()
	reference := strings.TrimSpace(flag.Arg(0))
	if reference == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(reference, *slots); err != nil {
		fmt.Fprintln(os.Stderr, "failed to rotate token:", err)
		os.Exit(1)
	}
}

func run(reference string, slots bool) error {
	secret, err := config.RequiredString("TOKEN_SECRET")
	if err != nil {
		return err
	}
	tok, err := tokens.NewService(secret)
	if err != nil {
		return err
	}
	logger := runtime.NewLogger("rotate-token", config.String("LOG_LEVEL", "warn"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	be, err := backend.Open(ctx, backend.ConfigFromEnv(), logger, false)
	if err != nil {
		return err
	}
	defer func() { _ = be.Close(context.Background()) }()

	engine := booking.NewEngine(be.Store, tok, booking.Options{Logger: logger})
	token, err := engine.ForceRotateNonce(ctx, reference, slots)
	if errors.Is(err, booking.ErrNotFound) {
		return fmt.Errorf("page with reference %q not found", reference)
	}
	if err != nil {
		return err
	}

	baseURL := strings.TrimRight(config.String("BASE_URL", "http://localhost:3000"), "/")
	fmt.Println("Token rotated successfully")
	fmt.Printf("Reference: %s\n", reference)
	fmt.Printf("New Management Token: %s\n", token)
	fmt.Println()
	fmt.Println("Management URL:")
	fmt.Printf("%s/page/%s/manage?token=%s\n", baseURL, reference, token)
	return nil
}
