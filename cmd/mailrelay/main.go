// Command mailrelay is a Cloud Function that forwards emails written to a
// Cloud Storage bucket to the underwrite server.
//
// Environment:
//
//	UNDERWRITE_SERVER_URL  base URL of the server (required)
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/jackzampolin/underwrite/internal/api"
	"github.com/jackzampolin/underwrite/internal/relay"
)

var (
	relayInstance *relay.Relay
	once          sync.Once
	initErr       error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("RelayInboundEmail", relayInboundEmail)
}

// main is required by the Go Functions Framework.
func main() {}

func relayInboundEmail(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		relayInstance, initErr = newRelay(context.Background())
	})
	if initErr != nil {
		slog.Error("relay initialization failed", "error", initErr)
		return initErr
	}
	return relayInstance.Handle(ctx, e)
}

func newRelay(ctx context.Context) (*relay.Relay, error) {
	serverURL := os.Getenv("UNDERWRITE_SERVER_URL")
	if serverURL == "" {
		return nil, errors.New("UNDERWRITE_SERVER_URL must be set")
	}
	sc, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return relay.New(relay.Config{
		Client:  api.NewClient(serverURL),
		Storage: sc,
		Logger:  slog.Default(),
	})
}
