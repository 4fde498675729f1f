package main

import (
	"fmt"
	"time"

	"github.com/alejandrodnm/daitrader/config"
	"github.com/alejandrodnm/daitrader/internal/adapters/natsbus"
	"github.com/alejandrodnm/daitrader/internal/adapters/schwab"
	"github.com/alejandrodnm/daitrader/internal/adapters/storage"
	"github.com/alejandrodnm/daitrader/internal/adapters/tokenfile"
	"github.com/alejandrodnm/daitrader/internal/application/credentials"
	"github.com/alejandrodnm/daitrader/internal/application/funds"
	"github.com/alejandrodnm/daitrader/internal/ports"
)

const httpTimeout = 15 * time.Second

func openStore(c *config.Config) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(c.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("open storage %q: %w", c.Storage.DSN, err)
	}
	return store, nil
}

// venueConfigured es false sin app OAuth configurada: todo lo que necesita el
// venue se omite.
func venueConfigured(c *config.Config) bool {
	return c.Auth.ClientID != "" && c.Auth.ClientSecret != ""
}

func newClient(c *config.Config, tokens ports.TokenSource) *schwab.Client {
	return schwab.NewClient(schwab.Config{
		APIBase:       c.Broker.APIBase,
		TokenURL:      c.Auth.TokenURL,
		AuthorizeURL:  c.Auth.AuthorizeURL,
		ClientID:      c.Auth.ClientID,
		ClientSecret:  c.Auth.ClientSecret,
		RedirectURI:   c.Auth.RedirectURI,
		AccountHash:   c.Broker.AccountHash,
		RatePerSecond: c.Broker.RequestsPerSecond,
		Timeout:       httpTimeout,
	}, tokens)
}

func newCredentials(c *config.Config) (*credentials.Manager, *schwab.Client) {
	store := tokenfile.New(c.Auth.TokenFile)
	client := newClient(c, store)
	mgr := credentials.NewManager(store, client, credentials.Options{
		Freshness: c.FreshnessThreshold(),
	})
	return mgr, client
}

func fundsOptions(c *config.Config) funds.Options {
	return funds.Options{
		PollInterval:        c.PollInterval(),
		StalenessMultiplier: c.Broker.StalenessMultiplier,
		Location:            c.Location(),
	}
}

// activitySource elige el transporte del stream. nil significa solo polling.
func activitySource(c *config.Config, client *schwab.Client) ports.ActivitySource {
	if !c.StreamingEnabled() {
		return nil
	}
	if c.Stream.Transport == "nats" {
		return natsbus.New(natsbus.Config{
			URL:      c.Stream.NATSURL,
			Stream:   c.Stream.NATSStream,
			Subject:  c.Stream.NATSSubject,
			Consumer: c.Stream.NATSConsumer,
		})
	}
	return schwab.NewStreamer(client)
}
