package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/os-climate/osc-dm-proxy-srv/internal/util"
)

// fakeDirectory records the UUIDs it is asked about and answers from a
// fixed map.
type fakeDirectory struct {
	addresses map[string]string
	err       error
	asked     []string
}

func (d *fakeDirectory) ProductAddress(_ context.Context, uuid string) (string, error) {
	d.asked = append(d.asked, uuid)
	if d.err != nil {
		return "", d.err
	}
	address, ok := d.addresses[uuid]
	if !ok {
		return "", &util.ProductNotFoundError{UUID: uuid}
	}
	return address, nil
}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()

	directory := &fakeDirectory{
		addresses: map[string]string{
			testUUID: "http://product-backend:8000",
		},
	}
	resolver := NewResolver(directory)

	address, err := resolver.Resolve(context.Background(),
		"api/products/uuid/"+testUUID+"/data")

	require.NoError(t, err)
	assert.Equal(t, "http://product-backend:8000", address)
	assert.Equal(t, []string{testUUID}, directory.asked)
}

func TestResolver_Resolve_NoUUID(t *testing.T) {
	t.Parallel()

	directory := &fakeDirectory{}
	resolver := NewResolver(directory)

	_, err := resolver.Resolve(context.Background(), "api/products/name/widget")

	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrNotFound))
	assert.Empty(t, directory.asked, "directory must not be called without a UUID")

	var notFound *util.ProductNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "api/products/name/widget", notFound.Path)
	assert.Empty(t, notFound.UUID)
}

func TestResolver_Resolve_FirstUUIDWins(t *testing.T) {
	t.Parallel()

	second := "00000000-1111-2222-3333-444444444444"
	directory := &fakeDirectory{
		addresses: map[string]string{
			testUUID: "http://first:8000",
			second:   "http://second:8000",
		},
	}
	resolver := NewResolver(directory)

	address, err := resolver.Resolve(context.Background(),
		"a/"+testUUID+"/b/"+second)

	require.NoError(t, err)
	assert.Equal(t, "http://first:8000", address)
	assert.Equal(t, []string{testUUID}, directory.asked)
}

func TestResolver_Resolve_DirectoryNotFound(t *testing.T) {
	t.Parallel()

	directory := &fakeDirectory{addresses: map[string]string{}}
	resolver := NewResolver(directory)

	_, err := resolver.Resolve(context.Background(), "api/"+testUUID)

	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrNotFound))
}

func TestResolver_Resolve_DirectoryErrorPropagates(t *testing.T) {
	t.Parallel()

	dirErr := util.NewDirectoryError(testUUID, 500, "registrar exploded", nil)
	directory := &fakeDirectory{err: dirErr}
	resolver := NewResolver(directory)

	_, err := resolver.Resolve(context.Background(), "api/"+testUUID)

	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrBadGateway))
	assert.ErrorIs(t, err, dirErr)
}
