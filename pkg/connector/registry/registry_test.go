package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/syncforge/pkg/config"
	"github.com/ajitpratap0/syncforge/pkg/connector/core"
	"github.com/ajitpratap0/syncforge/pkg/errors"
)

type fakeConnector struct{ name string }

func (f *fakeConnector) Name() string { return f.name }
func (f *fakeConnector) Connect(context.Context, *config.SourceConfig) (core.Connection, error) {
	return nil, nil
}

func TestRegisterAndCreate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("fakedb", func() core.Connector {
		return &fakeConnector{name: "fakedb"}
	}))

	conn, err := r.Create("fakedb")
	require.NoError(t, err)
	assert.Equal(t, "fakedb", conn.Name())
	assert.True(t, r.Exists("fakedb"))
	assert.False(t, r.Exists("otherdb"))
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	factory := func() core.Connector { return &fakeConnector{name: "dup"} }
	require.NoError(t, r.Register("dup", factory))

	err := r.Register("dup", factory)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestCreateUnknown(t *testing.T) {
	err := func() error {
		_, err := NewRegistry().Create("nope")
		return err
	}()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestListSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		n := name
		require.NoError(t, r.Register(n, func() core.Connector {
			return &fakeConnector{name: n}
		}))
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.List())
}

func TestCreateReturnsFreshInstances(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("fresh", func() core.Connector {
		return &fakeConnector{name: "fresh"}
	}))

	a, err := r.Create("fresh")
	require.NoError(t, err)
	b, err := r.Create("fresh")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}
