package mqtt

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/crypto/pkcs12"

	"factory_device/internal/transport"
)

// Connection constants.
const (
	defaultPort           = 8883
	defaultAPIVersion     = "2021-04-12"
	defaultConnectTimeout = 10 * time.Second
	defaultRequestTimeout = 10 * time.Second
	defaultReconnectMax   = time.Minute
	defaultSASTokenTTL    = time.Hour
	defaultInboxSize      = 64
	defaultKeepAlive      = 60 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	tlsMinVersion = tls.VersionTLS12
)

// Config describes one device connection.
type Config struct {
	Host           string
	Port           int
	DeviceID       string
	APIVersion     string
	QoS            byte
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	ReconnectMax   time.Duration
	InboxSize      int
}

// Credentials authenticate the device. Exactly one of SharedAccessKey or
// Certificate is expected.
type Credentials struct {
	// SharedAccessKey is the base64 device key used to sign SAS tokens.
	SharedAccessKey string
	TokenTTL        time.Duration

	Certificate *tls.Certificate
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.APIVersion == "" {
		c.APIVersion = defaultAPIVersion
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = defaultReconnectMax
	}
	if c.InboxSize <= 0 {
		c.InboxSize = defaultInboxSize
	}
	return c
}

// ConnectionString is a parsed "HostName=..;DeviceId=..;SharedAccessKey=.." string.
type ConnectionString struct {
	HostName        string
	DeviceID        string
	SharedAccessKey string
}

// ParseConnectionString parses a device connection string.
func ParseConnectionString(s string) (ConnectionString, error) {
	var cs ConnectionString
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return ConnectionString{}, fmt.Errorf("%w: segment %q has no value", ErrInvalidConnectionString, key)
		}
		switch key {
		case "HostName":
			cs.HostName = value
		case "DeviceId":
			cs.DeviceID = value
		case "SharedAccessKey":
			cs.SharedAccessKey = value
		}
	}
	switch {
	case cs.HostName == "":
		return ConnectionString{}, fmt.Errorf("%w: missing HostName", ErrInvalidConnectionString)
	case cs.DeviceID == "":
		return ConnectionString{}, fmt.Errorf("%w: missing DeviceId", ErrInvalidConnectionString)
	case cs.SharedAccessKey == "":
		return ConnectionString{}, fmt.Errorf("%w: missing SharedAccessKey", ErrInvalidConnectionString)
	}
	return cs, nil
}

// SASToken signs a shared access signature for resourceURI valid until expiry.
func SASToken(resourceURI, key string, expiry time.Time) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return "", fmt.Errorf("decode shared access key: %w", err)
	}
	sr := url.QueryEscape(resourceURI)
	se := strconv.FormatInt(expiry.Unix(), 10)

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(sr + "\n" + se))
	sig := url.QueryEscape(base64.StdEncoding.EncodeToString(mac.Sum(nil)))

	return fmt.Sprintf("SharedAccessSignature sr=%s&sig=%s&se=%s", sr, sig, se), nil
}

// LoadCertificate reads a PKCS#12 (.pfx) file and unlocks it with password.
func LoadCertificate(path string, password []byte) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read certificate %q: %w", path, err)
	}
	return DecodeCertificate(data, password)
}

// DecodeCertificate unlocks PKCS#12 data holding one certificate and its key.
func DecodeCertificate(data, password []byte) (tls.Certificate, error) {
	key, cert, err := pkcs12.Decode(data, string(password))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decode pkcs12: %w", err)
	}
	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}, nil
}

// DeviceIDFromCertificate returns configured when set, otherwise the
// certificate's common name, which must be a valid registration id.
func DeviceIDFromCertificate(cert *x509.Certificate, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if cert == nil {
		return "", fmt.Errorf("%w: no certificate to derive the device id from", transport.ErrFormatViolation)
	}
	id := cert.Subject.CommonName
	if err := transport.ValidateRegistrationID(id); err != nil {
		return "", err
	}
	return id, nil
}

// username is the IoT hub MQTT user name for a device.
func username(cfg Config) string {
	return fmt.Sprintf("%s/%s/?api-version=%s", cfg.Host, cfg.DeviceID, cfg.APIVersion)
}

// buildClientOptions creates paho MQTT options for a device connection.
func buildClientOptions(cfg Config, creds Credentials) (*pahomqtt.ClientOptions, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("ssl://%s:%d", cfg.Host, cfg.Port))
	opts.SetClientID(cfg.DeviceID)
	opts.SetProtocolVersion(4)

	tlsConfig := &tls.Config{
		MinVersion: tlsMinVersion,
		ServerName: cfg.Host,
	}

	switch {
	case creds.Certificate != nil:
		tlsConfig.Certificates = []tls.Certificate{*creds.Certificate}
		opts.SetUsername(username(cfg))
	case creds.SharedAccessKey != "":
		ttl := creds.TokenTTL
		if ttl <= 0 {
			ttl = defaultSASTokenTTL
		}
		resource := cfg.Host + "/devices/" + cfg.DeviceID
		if _, err := SASToken(resource, creds.SharedAccessKey, time.Now()); err != nil {
			return nil, err
		}
		// a fresh token is signed on every (re)connect
		opts.SetCredentialsProvider(func() (string, string) {
			token, _ := SASToken(resource, creds.SharedAccessKey, time.Now().Add(ttl))
			return username(cfg), token
		})
	default:
		return nil, ErrNoCredentials
	}
	opts.SetTLSConfig(tlsConfig)

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(cfg.ReconnectMax)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)
	opts.SetOrderMatters(true)

	return opts, nil
}
