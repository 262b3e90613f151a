package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/os-climate/osc-dm-proxy-srv/internal/observability"
)

// ServiceKeyPrefix is where service announcement records live.
const ServiceKeyPrefix = "/proxy/"

// ServiceRecord is the document a service publishes to announce its
// presence.
type ServiceRecord struct {
	Name            string `json:"name"`
	Address         string `json:"address"`
	CreateTimestamp string `json:"createtimestamp"`
}

// kv is the subset of the etcd client the registry uses. The real
// client satisfies it; tests substitute a fake.
type kv interface {
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
	Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error)
}

// statuser is the connectivity probe subset of the etcd client.
type statuser interface {
	Status(ctx context.Context, endpoint string) (*clientv3.StatusResponse, error)
}

// Registry is the etcd-backed key-value store used for service
// discovery records. Values are JSON documents.
type Registry struct {
	client   kv
	status   statuser
	closer   func() error
	endpoint string
	logger   observability.Logger
}

// Upsert stores the value at the key, replacing any previous value.
func (r *Registry) Upsert(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for key %q: %w", key, err)
	}

	if _, err := r.client.Put(ctx, key, string(data)); err != nil {
		return fmt.Errorf("registry put %q: %w", key, err)
	}

	r.logger.Debug("registry upsert",
		observability.String("key", key))

	return nil
}

// Retrieve returns the JSON document at the key, or nil when the key
// does not exist.
func (r *Registry) Retrieve(ctx context.Context, key string) (map[string]interface{}, error) {
	resp, err := r.client.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("registry get %q: %w", key, err)
	}

	if len(resp.Kvs) == 0 {
		return nil, nil
	}

	var value map[string]interface{}
	if err := json.Unmarshal(resp.Kvs[0].Value, &value); err != nil {
		return nil, fmt.Errorf("registry value at %q is not valid JSON: %w", key, err)
	}

	return value, nil
}

// RetrievePrefix returns every document whose key starts with the
// prefix, the key itself included, in key order. No match yields nil.
func (r *Registry) RetrievePrefix(ctx context.Context, prefix string) ([]map[string]interface{}, error) {
	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("registry get prefix %q: %w", prefix, err)
	}

	var values []map[string]interface{}
	for _, item := range resp.Kvs {
		var value map[string]interface{}
		if err := json.Unmarshal(item.Value, &value); err != nil {
			return nil, fmt.Errorf("registry value at %q is not valid JSON: %w", item.Key, err)
		}
		values = append(values, value)
	}

	return values, nil
}

// RetrieveWildcard returns the documents whose keys match the pattern
// segment by segment. Keys with a different number of segments never
// match, so "/product/*" selects "/product/1" but not "/product/1/1".
// Each segment is matched with path.Match semantics. No match yields
// nil.
func (r *Registry) RetrieveWildcard(ctx context.Context, pattern string) ([]map[string]interface{}, error) {
	resp, err := r.client.Get(ctx, "/", clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("registry get wildcard %q: %w", pattern, err)
	}

	patternSegments := strings.Split(pattern, "/")

	var values []map[string]interface{}
	for _, item := range resp.Kvs {
		key := string(item.Key)
		if !segmentsMatch(patternSegments, strings.Split(key, "/")) {
			continue
		}

		var value map[string]interface{}
		if err := json.Unmarshal(item.Value, &value); err != nil {
			return nil, fmt.Errorf("registry value at %q is not valid JSON: %w", key, err)
		}
		values = append(values, value)
	}

	return values, nil
}

// segmentsMatch reports whether every path segment matches the
// corresponding pattern segment. Segment counts must be equal.
func segmentsMatch(patternSegments, keySegments []string) bool {
	if len(patternSegments) != len(keySegments) {
		return false
	}

	for i, patternSegment := range patternSegments {
		matched, err := path.Match(patternSegment, keySegments[i])
		if err != nil || !matched {
			return false
		}
	}

	return true
}

// Remove deletes the key. Removing a missing key is not an error.
func (r *Registry) Remove(ctx context.Context, key string) error {
	if _, err := r.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("registry delete %q: %w", key, err)
	}

	r.logger.Debug("registry remove",
		observability.String("key", key))

	return nil
}

// Announce publishes this service's presence record.
func (r *Registry) Announce(ctx context.Context, name, address string) error {
	record := ServiceRecord{
		Name:            name,
		Address:         address,
		CreateTimestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if err := r.Upsert(ctx, ServiceKeyPrefix+name, record); err != nil {
		return err
	}

	r.logger.Info("service announced",
		observability.String("name", name),
		observability.String("address", address))

	return nil
}

// Withdraw removes this service's presence record.
func (r *Registry) Withdraw(ctx context.Context, name string) error {
	if err := r.Remove(ctx, ServiceKeyPrefix+name); err != nil {
		return err
	}

	r.logger.Info("service withdrawn",
		observability.String("name", name))

	return nil
}

// Ping verifies the registry is reachable.
func (r *Registry) Ping(ctx context.Context) error {
	if r.status == nil {
		return nil
	}
	if _, err := r.status.Status(ctx, r.endpoint); err != nil {
		return fmt.Errorf("registry unreachable at %s: %w", r.endpoint, err)
	}
	return nil
}

// Close releases the underlying client connection.
func (r *Registry) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
