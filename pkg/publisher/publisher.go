package publisher

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/shoplens/shoplens/pkg/ingest"
)

const (
	DefaultBufferSize = 1000
	DefaultHeader     = "x-api-key"

	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second
)

// ErrNoEndpoint is returned by New when Config.Endpoint is empty.
var ErrNoEndpoint = errors.New("publisher: endpoint is required")

// AuthConfig selects how the publisher authenticates to shoplens-server.
type AuthConfig struct {
	// Mode is one of: apikey | mtls | none.
	Mode string `yaml:"mode"`

	// Header is the gRPC metadata key the API key is sent in (default x-api-key).
	Header string `yaml:"header"`

	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`
}

// Key returns the API key value resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

func (a AuthConfig) header() string {
	if a.Header == "" {
		return DefaultHeader
	}
	return strings.ToLower(a.Header)
}

// Config configures a Publisher.
type Config struct {
	// Endpoint is the gRPC address of shoplens-server (host:port).
	Endpoint string `yaml:"server_endpoint"`

	// BufferSize is the maximum number of events held in memory while the
	// server is unreachable.
	BufferSize int `yaml:"buffer_size"`

	Auth AuthConfig `yaml:"auth"`
}

// Publisher buffers events and sends them to shoplens-server's
// IngestService. Publish is non-blocking; when the buffer is full the oldest
// event is evicted. Run must be called in a goroutine to drain the buffer and
// handle reconnection.
type Publisher struct {
	cfg    Config
	buf    chan *ingest.Event
	dialFn dialFunc // injectable for tests

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// dialFunc opens a gRPC connection. Abstracted so tests can dial an
// in-process server.
type dialFunc func(ctx context.Context, endpoint string, cfg Config) (*grpc.ClientConn, error)

// New creates a Publisher using the given config.
func New(cfg Config) (*Publisher, error) {
	if cfg.Endpoint == "" {
		return nil, ErrNoEndpoint
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	return &Publisher{
		cfg:    cfg,
		buf:    make(chan *ingest.Event, cfg.BufferSize),
		dialFn: defaultDial,
	}, nil
}

// Publish enqueues ev. If the buffer is full the oldest entry is evicted to
// make room. Callers must not modify ev after calling Publish.
func (p *Publisher) Publish(ev *ingest.Event) {
	for {
		select {
		case p.buf <- ev:
			return
		default:
		}
		select {
		case old := <-p.buf:
			p.dropped.Add(1)
			slog.Warn("publisher: buffer full, evicted oldest event",
				"org_id", old.OrgID, "table", old.Table, "buffer_cap", cap(p.buf))
		default:
		}
	}
}

// Delivered returns the number of events the server accepted.
func (p *Publisher) Delivered() uint64 { return p.delivered.Load() }

// Dropped returns the number of events evicted or permanently rejected.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

// Pending returns the number of buffered events.
func (p *Publisher) Pending() int { return len(p.buf) }

// Run drains the buffer, sending events to the server.
// It reconnects with exponential backoff when the connection is lost.
// Run blocks until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	bo := newBackoff()

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := p.dialFn(ctx, p.cfg.Endpoint, p.cfg)
		if err != nil {
			wait := bo.next()
			slog.Error("publisher: dial failed, will retry",
				"endpoint", p.cfg.Endpoint,
				"err", err,
				"retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
				continue
			}
		}

		slog.Info("publisher: connected", "endpoint", p.cfg.Endpoint)
		bo.reset()

		err = p.drain(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			return
		}

		wait := bo.next()
		slog.Warn("publisher: connection lost, will reconnect",
			"endpoint", p.cfg.Endpoint,
			"err", err,
			"retry_in", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// drain reads from the buffer and sends events until the connection fails
// or ctx is cancelled.
func (p *Publisher) drain(ctx context.Context, conn grpc.ClientConnInterface) error {
	client := ingest.NewClient(conn)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev := <-p.buf:
			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			if p.cfg.Auth.Mode == "apikey" && p.cfg.Auth.KeyEnv != "" {
				sendCtx = metadata.AppendToOutgoingContext(sendCtx, p.cfg.Auth.header(), p.cfg.Auth.Key())
			}

			resp, err := client.Publish(sendCtx, ev)
			cancel()

			if err != nil {
				// Permanent errors (unauthenticated, invalid arg): log and discard.
				if isPermanentError(err) {
					p.dropped.Add(1)
					slog.Error("publisher: permanent send error, discarding event",
						"org_id", ev.OrgID, "table", ev.Table, "err", err)
					continue
				}
				// Transient: put the event back if there's room, then reconnect.
				select {
				case p.buf <- ev:
				default:
					p.dropped.Add(1)
				}
				return fmt.Errorf("send: %w", err)
			}

			p.delivered.Add(1)
			slog.Debug("publisher: event delivered",
				"org_id", ev.OrgID, "table", ev.Table, "sockets", resp.Delivered)
		}
	}
}

// isPermanentError returns true for gRPC errors that indicate the event
// itself (or our credentials) is invalid and should not be retried.
func isPermanentError(err error) bool {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.Unauthenticated, codes.PermissionDenied:
		return true
	}
	return false
}

// defaultDial opens a gRPC connection to endpoint with auth configured from cfg.
func defaultDial(ctx context.Context, endpoint string, cfg Config) (*grpc.ClientConn, error) {
	opts, err := dialOptions(cfg)
	if err != nil {
		return nil, err
	}
	return grpc.DialContext(ctx, endpoint, opts...) //nolint:staticcheck // deprecated in 1.63 but DialContext is used for compat
}

// dialOptions builds grpc.DialOption slice based on the auth config.
func dialOptions(cfg Config) ([]grpc.DialOption, error) {
	if cfg.Auth.Mode == "mtls" {
		creds, err := buildMTLSCreds(cfg.Auth)
		if err != nil {
			return nil, fmt.Errorf("publisher: build mtls creds: %w", err)
		}
		return []grpc.DialOption{grpc.WithTransportCredentials(creds)}, nil
	}
	// apikey is injected per call in drain.
	return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, nil
}

// buildMTLSCreds loads client certificate and optional CA from the auth config.
func buildMTLSCreds(auth AuthConfig) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(auth.CertFile, auth.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if auth.CAFile != "" {
		caPEM, err := os.ReadFile(auth.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs in ca file %q", auth.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	return credentials.NewTLS(tlsCfg), nil
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
