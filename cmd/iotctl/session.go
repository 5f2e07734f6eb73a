package main

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-iot/internal/credentials"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqttstore"
	"github.com/nerrad567/gray-logic-iot/internal/iotclient"
	"github.com/nerrad567/gray-logic-iot/internal/loopback"
)

// session is a connected client plus the infrastructure it depends on.
type session struct {
	cfg    *config.Config
	log    *logging.Logger
	client *iotclient.Client
	broker *loopback.Broker // nil unless --loopback

	closers []func()
}

// openSession loads the configuration and returns a connected client.
// The caller must Close the session.
func openSession(ctx context.Context, opts *rootOptions) (_ *session, err error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.Logging, version)
	log.Debug("configuration loaded", "path", opts.configPath)

	s := &session{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	clientOpts := []iotclient.Option{iotclient.WithLogger(log)}

	if cfg.InfluxDB.Enabled {
		recorder, influxErr := influxdb.Connect(cfg.InfluxDB, influxdb.WithDefaultTag("client_id", cfg.Client.ClientID))
		if influxErr != nil {
			return nil, fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		recorder.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		s.onClose(func() {
			if closeErr := recorder.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		})
		clientOpts = append(clientOpts, iotclient.WithRecorder(recorder))
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	clientCfg, err := clientConfig(cfg)
	if err != nil {
		return nil, err
	}
	mode := iotclient.AuthMode(cfg.Client.AuthMode)
	tunables := tunablesFrom(cfg.Connection)

	if opts.loopback {
		s.broker = loopback.NewBroker(loopback.WithLogger(log))
		conn, buildErr := iotclient.BuildConnection(mode, clientCfg, s.broker.Connector())
		if buildErr != nil {
			return nil, buildErr
		}
		conn.UpdateTunables(func(t *mqtt.Tunables) { *t = tunables })
		s.client = iotclient.New(conn, clientOpts...)
	} else {
		clientOpts = append(clientOpts, iotclient.WithConnectionOptions(mqtt.WithTunables(tunables)))
		if cfg.Store.Enabled {
			store, storeErr := s.openStore(ctx)
			if storeErr != nil {
				return nil, storeErr
			}
			clientOpts = append(clientOpts, iotclient.WithConnectionOptions(mqtt.WithStore(store)))
		}
		client, buildErr := iotclient.NewClient(mode, clientCfg, clientOpts...)
		if buildErr != nil {
			return nil, buildErr
		}
		s.client = client
	}

	if w := cfg.Client.Will; w != nil {
		if _, willErr := s.client.SetWillMessage(iotclient.WillMessage{
			Topic:   w.Topic,
			QoS:     w.QoS,
			Payload: []byte(w.Payload),
		}); willErr != nil {
			return nil, fmt.Errorf("setting will message: %w", willErr)
		}
	}

	if _, err := s.client.Connect(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Client.Endpoint, err)
	}
	return s, nil
}

// Close disconnects the client and releases infrastructure in reverse order.
func (s *session) Close() {
	if s.client != nil && s.client.ConnectionStatus() != "disconnected" {
		if _, err := s.client.Disconnect(); err != nil {
			s.log.Warn("error disconnecting", "error", err)
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func (s *session) onClose(fn func()) {
	s.closers = append(s.closers, fn)
}

// openStore opens the SQLite database holding in-flight packets.
func (s *session) openStore(ctx context.Context) (*mqttstore.Store, error) {
	db, err := database.Open(database.Config{
		Path:        s.cfg.Store.Path,
		WALMode:     s.cfg.Store.WALMode,
		BusyTimeout: s.cfg.Store.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	s.onClose(func() {
		if closeErr := db.Close(); closeErr != nil {
			s.log.Error("error closing store", "error", closeErr)
		}
	})

	store, err := mqttstore.New(ctx, db, s.cfg.Client.ClientID, s.log)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	s.log.Info("in-flight store opened", "path", db.Path())
	return store, nil
}

// clientConfig translates the file configuration into a ClientConfig,
// loading the TLS credential bundle when the auth mode needs it.
func clientConfig(cfg *config.Config) (iotclient.ClientConfig, error) {
	cc := iotclient.ClientConfig{
		Endpoint:        cfg.Client.Endpoint,
		Port:            cfg.Client.Port,
		ClientID:        cfg.Client.ClientID,
		AccessKeyID:     cfg.Client.SigV4.AccessKeyID,
		SecretAccessKey: cfg.Client.SigV4.SecretAccessKey,
		SessionToken:    cfg.Client.SigV4.SessionToken,
		Region:          cfg.Client.Region,
	}

	if cfg.Client.AuthMode != config.AuthModeTLS {
		return cc, nil
	}

	tlsCfg := cfg.Client.TLS
	store := credentials.NewFileStore(tlsCfg.CredentialsDir)
	bundle, err := store.Open(tlsCfg.Keystore, tlsCfg.KeystorePassphrase)
	if err != nil {
		return cc, fmt.Errorf("loading credentials from %s: %w", store.Dir(), err)
	}
	if tlsCfg.CAFile != "" {
		pool, poolErr := store.LoadRootCAs(tlsCfg.CAFile)
		if poolErr != nil {
			return cc, fmt.Errorf("loading root CAs: %w", poolErr)
		}
		bundle = bundle.WithRootCAs(pool)
	}

	cc.CredentialBundle = bundle
	cc.KeyPassphrase = tlsCfg.KeyPassphrase
	return cc, nil
}

// tunablesFrom overlays the configured tunables on the connection
// defaults. Zero values keep the default.
func tunablesFrom(cc config.ConnectionConfig) mqtt.Tunables {
	t := mqtt.DefaultTunables()
	if cc.BaseRetryDelay > 0 {
		t.BaseRetryDelay = cc.BaseRetryDelay
	}
	if cc.MaxRetryDelay > 0 {
		t.MaxRetryDelay = cc.MaxRetryDelay
	}
	if cc.MaxConnectionRetries > 0 {
		t.MaxConnectionRetries = cc.MaxConnectionRetries
	}
	if cc.ConnectionTimeout > 0 {
		t.ConnectionTimeout = cc.ConnectionTimeout
	}
	if cc.KeepAliveInterval > 0 {
		t.KeepAliveInterval = cc.KeepAliveInterval
	}
	if cc.MaxOfflineQueueSize > 0 {
		t.MaxOfflineQueueSize = cc.MaxOfflineQueueSize
	}
	if cc.NumOfClientThreads > 0 {
		t.NumOfClientThreads = cc.NumOfClientThreads
	}
	if cc.ServerAckTimeout > 0 {
		t.ServerAckTimeout = cc.ServerAckTimeout
	}
	return t
}
