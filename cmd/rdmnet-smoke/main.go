// Command rdmnet-smoke runs an interoperability smoke test against a
// live RDMnet broker: connect, establish and bind a broker session,
// optionally query the client and endpoint lists, then disconnect.
//
// Configuration comes from the RDMNET_INTEROP_* environment variables
// (a .env file in the working directory is honored).
package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/Datalab-Rotterdam/node-dmx/internal/config"
	"github.com/Datalab-Rotterdam/node-dmx/internal/logger"
	"github.com/Datalab-Rotterdam/node-dmx/pkg/rdmnet"
)

func main() {
	// Missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	log, err := logger.New(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logrus.Fatalf("rdmnet-smoke: %v", err)
	}

	cfg := config.LoadInterop()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("rdmnet-smoke: %v", err)
	}

	if err := run(cfg, log); err != nil {
		log.Fatalf("rdmnet-smoke: %v", err)
	}
	log.Info("rdmnet-smoke: all checks passed")
}

func run(cfg *config.Interop, log *logrus.Logger) error {
	strict := cfg.TLSStrict
	client := rdmnet.NewClient(rdmnet.ClientConfig{
		Host:                    cfg.Host,
		Port:                    cfg.Port,
		TLS:                     cfg.TLS,
		RequireTLSAuthorization: &strict,
		RequestTimeout:          cfg.Timeout,
		Logger:                  log,
	})
	client.OnError(func(err error) {
		log.Warnf("rdmnet-smoke: client error: %v", err)
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Disconnect()

	if err := client.StartBrokerSession(rdmnet.SessionOptions{
		Scope:      cfg.Scope,
		Role:       rdmnet.RoleController,
		EndpointID: uint16(cfg.EndpointID),
		AutoBind:   true,
		Timeout:    cfg.Timeout,
	}); err != nil {
		return err
	}
	log.Infof("rdmnet-smoke: session bound, client id %d, state %v", client.ClientID(), client.State())

	if cfg.CheckLists {
		clients, err := client.ClientList(cfg.Timeout)
		if err != nil {
			return err
		}
		log.Infof("rdmnet-smoke: broker reports %d clients: %v", len(clients), clients)

		endpoints, err := client.EndpointList(cfg.Timeout)
		if err != nil {
			return err
		}
		log.Infof("rdmnet-smoke: broker reports %d endpoints: %v", len(endpoints), endpoints)
	}

	return client.StopBrokerSession(rdmnet.DisconnectUserRequest, "smoke test complete")
}
