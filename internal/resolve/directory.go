package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/os-climate/osc-dm-proxy-srv/internal/observability"
	"github.com/os-climate/osc-dm-proxy-srv/internal/util"
)

// Headers forwarded to the registrar on directory lookups.
const (
	UserHeader        = "X-User"
	CorrelationHeader = "X-Correlation-ID"
)

// productEndpoint is the registrar path answering product lookups by
// UUID.
const productEndpoint = "/api/registrar/products/uuid/"

// DefaultDirectoryTimeout bounds a single directory lookup.
const DefaultDirectoryTimeout = 5 * time.Second

// Product is the registrar's product record. Only the address matters
// for resolution; the rest is carried for logging and introspection.
type Product struct {
	UUID            string   `json:"uuid"`
	Namespace       string   `json:"namespace"`
	Name            string   `json:"name"`
	Publisher       string   `json:"publisher"`
	Description     string   `json:"description"`
	Tags            []string `json:"tags"`
	Address         string   `json:"address"`
	CreateTimestamp string   `json:"createtimestamp,omitempty"`
	UpdateTimestamp string   `json:"updatetimestamp,omitempty"`
}

// Directory answers "given a product UUID, where is its backend".
type Directory interface {
	// ProductAddress returns the backend address for the product, or
	// an error satisfying errors.Is(err, util.ErrNotFound) when the
	// directory has no usable record for it.
	ProductAddress(ctx context.Context, uuid string) (string, error)
}

// RegistrarClient is the HTTP Directory implementation backed by the
// registrar service.
type RegistrarClient struct {
	baseURL string
	client  *http.Client
	logger  observability.Logger
}

// RegistrarOption is a functional option for the registrar client.
type RegistrarOption func(*RegistrarClient)

// WithRegistrarLogger sets the logger for the registrar client.
func WithRegistrarLogger(logger observability.Logger) RegistrarOption {
	return func(c *RegistrarClient) {
		c.logger = logger
	}
}

// WithRegistrarHTTPClient sets the HTTP client used for lookups.
func WithRegistrarHTTPClient(client *http.Client) RegistrarOption {
	return func(c *RegistrarClient) {
		c.client = client
	}
}

// NewRegistrarClient creates a directory client for the registrar at
// the given base URL.
func NewRegistrarClient(baseURL string, opts ...RegistrarOption) *RegistrarClient {
	c := &RegistrarClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: DefaultDirectoryTimeout,
		},
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ProductAddress looks up the product record and returns its address.
// The caller's user identity and correlation id are forwarded as
// headers so the registrar can attribute and correlate the lookup.
func (c *RegistrarClient) ProductAddress(ctx context.Context, uuid string) (string, error) {
	url := c.baseURL + productEndpoint + uuid

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return "", util.NewDirectoryError(uuid, 0, "failed to build lookup request", err)
	}

	if user := util.UserFromContext(ctx); user != "" {
		req.Header.Set(UserHeader, user)
	}
	if correlationID := util.CorrelationIDFromContext(ctx); correlationID != "" {
		req.Header.Set(CorrelationHeader, correlationID)
	}
	observability.InjectTraceContext(ctx, req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", util.NewDirectoryError(uuid, 0, "registrar unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", &util.ProductNotFoundError{UUID: uuid}
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", util.NewDirectoryError(uuid, resp.StatusCode,
			fmt.Sprintf("registrar returned status %d: %s", resp.StatusCode, body), nil)
	}

	var product Product
	if err := json.NewDecoder(resp.Body).Decode(&product); err != nil {
		return "", util.NewDirectoryError(uuid, resp.StatusCode, "malformed registrar response", err)
	}

	if product.Address == "" {
		c.logger.Warn("product record has no address",
			observability.String("uuid", uuid),
			observability.String("name", product.Name))
		return "", &util.ProductNotFoundError{UUID: uuid}
	}

	c.logger.Debug("product address retrieved",
		observability.String("uuid", uuid),
		observability.String("address", product.Address))

	return product.Address, nil
}
