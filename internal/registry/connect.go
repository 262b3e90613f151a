package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/os-climate/osc-dm-proxy-srv/internal/config"
	"github.com/os-climate/osc-dm-proxy-srv/internal/observability"
)

// Connect dials the registry and verifies it responds. Each attempt
// dials and probes the endpoint; failed attempts are retried at the
// configured fixed backoff until the configured attempts run out.
func Connect(ctx context.Context, cfg config.RegistryConfig, logger observability.Logger) (*Registry, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	endpoint := cfg.Endpoint()

	var client *clientv3.Client
	attempt := 0
	operation := func() error {
		attempt++
		c, err := dial(ctx, cfg)
		if err != nil {
			logger.Warn("registry connection attempt failed",
				observability.String("endpoint", endpoint),
				observability.Int("attempt", attempt),
				observability.Error(err))
			return err
		}
		client = c
		return nil
	}

	policy := backoff.WithMaxRetries(
		backoff.NewConstantBackOff(cfg.ConnectBackoff.Duration()),
		uint64(cfg.ConnectAttempts-1),
	)
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, fmt.Errorf("failed to connect to registry at %s after %d attempts: %w",
			endpoint, attempt, err)
	}

	logger.Info("registry connected",
		observability.String("endpoint", endpoint))

	return &Registry{
		client:   client,
		status:   client,
		closer:   client.Close,
		endpoint: endpoint,
		logger:   logger,
	}, nil
}

// dial opens a client and probes the endpoint. The probe is what
// actually exercises the connection; client construction alone does
// not touch the network.
func dial(ctx context.Context, cfg config.RegistryConfig) (*clientv3.Client, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{cfg.Endpoint()},
		DialTimeout: cfg.DialTimeout.Duration(),
		Username:    cfg.Username,
		Password:    cfg.Password,
		DialOptions: []grpc.DialOption{
			grpc.WithKeepaliveParams(keepalive.ClientParameters{
				Time:                30 * time.Second,
				Timeout:             10 * time.Second,
				PermitWithoutStream: true,
			}),
		},
		Logger: zap.NewNop(),
	})
	if err != nil {
		return nil, err
	}

	probeCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout.Duration())
	defer cancel()

	if _, err := client.Status(probeCtx, cfg.Endpoint()); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}

// newWithClient builds a Registry over an existing client. Tests use
// it to substitute fakes.
func newWithClient(client kv, status statuser, logger observability.Logger) *Registry {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Registry{
		client: client,
		status: status,
		logger: logger,
	}
}
