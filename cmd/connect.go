package main

import (
	"errors"
	"fmt"

	"factory_device/internal/config"
	"factory_device/internal/logger"
	"factory_device/internal/service"
	"factory_device/internal/sink/influxdb"
	"factory_device/internal/transport"
	"factory_device/internal/transport/mqtt"
)

var errNoHub = errors.New("transport.hub is required for certificate connections")

// connect opens the connections for the configured mode. It returns the
// connection the services use and the device id telemetry is sent under.
func connect(cfg *config.Config, log *logger.Logger) (transport.Connection, string, error) {
	switch cfg.Transport.Mode {
	case config.ModeIoTHub:
		c, id, err := dialCertificate(cfg, log)
		if err != nil {
			return nil, "", err
		}
		return c, id, nil
	case config.ModeIoTCentral:
		c, id, err := dialConnectionString(cfg, log)
		if err != nil {
			return nil, "", err
		}
		return c, id, nil
	default:
		primary, id, err := dialConnectionString(cfg, log)
		if err != nil {
			return nil, "", err
		}
		secondary, _, err := dialCertificate(cfg, log)
		if err != nil {
			_ = primary.Close()
			return nil, "", fmt.Errorf("secondary connection: %w", err)
		}
		return transport.NewFanout(primary, secondary), id, nil
	}
}

// mqttConfig maps the transport settings onto one device connection.
func mqttConfig(cfg *config.Config, host, deviceID string) mqtt.Config {
	t := cfg.Transport
	return mqtt.Config{
		Host:           host,
		Port:           t.Port,
		DeviceID:       deviceID,
		APIVersion:     t.APIVersion,
		QoS:            byte(t.QoS),
		ConnectTimeout: t.ConnectTimeout,
		RequestTimeout: t.RequestTimeout,
		ReconnectMax:   t.ReconnectMax,
		InboxSize:      t.InboxSize,
	}
}

// dialConnectionString connects with a shared access key. The device id
// comes from the connection string.
func dialConnectionString(cfg *config.Config, log *logger.Logger) (*mqtt.Client, string, error) {
	cs, err := mqtt.ParseConnectionString(cfg.Transport.ConnectionString)
	if err != nil {
		return nil, "", err
	}
	creds := mqtt.Credentials{
		SharedAccessKey: cs.SharedAccessKey,
		TokenTTL:        cfg.Transport.SASTokenTTL,
	}
	c, err := mqtt.Dial(mqttConfig(cfg, cs.HostName, cs.DeviceID), creds, log)
	if err != nil {
		return nil, "", err
	}
	return c, cs.DeviceID, nil
}

// dialCertificate connects with the PKCS#12 device certificate. Without a
// configured device id the certificate's common name is used.
func dialCertificate(cfg *config.Config, log *logger.Logger) (*mqtt.Client, string, error) {
	if cfg.Transport.Hub == "" {
		return nil, "", errNoHub
	}
	secret := transport.FirstSecret{
		transport.EnvSecret{Key: cfg.Transport.PasswordEnv},
		transport.ConsoleSecret{},
	}
	password, err := secret.Secret()
	if err != nil {
		return nil, "", fmt.Errorf("certificate password: %w", err)
	}
	cert, err := mqtt.LoadCertificate(cfg.Transport.CertPath, password)
	clear(password)
	if err != nil {
		return nil, "", err
	}
	deviceID, err := mqtt.DeviceIDFromCertificate(cert.Leaf, cfg.Device.ID)
	if err != nil {
		return nil, "", err
	}
	c, err := mqtt.Dial(mqttConfig(cfg, cfg.Transport.Hub, deviceID), mqtt.Credentials{Certificate: &cert}, log)
	if err != nil {
		return nil, "", err
	}
	return c, deviceID, nil
}

// openSinks connects the optional telemetry exporters. An unreachable
// exporter is logged and skipped; the device runs without it.
func openSinks(cfg *config.Config, log *logger.Logger) ([]service.TelemetrySink, func()) {
	sink, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		return nil, func() {}
	case err != nil:
		log.Warnw("influxdb_unavailable", "url", cfg.InfluxDB.URL, "err", err)
		return nil, func() {}
	}
	sink.SetOnError(func(err error) {
		log.Warnw("influxdb_write_failed", "err", err)
	})
	log.Infow("influxdb_connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	return []service.TelemetrySink{sink}, func() {
		if err := sink.Close(); err != nil {
			log.Warnw("influxdb_close_failed", "err", err)
		}
	}
}
