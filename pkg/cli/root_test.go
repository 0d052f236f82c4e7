package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwp-platform/guard/pkg/cache"
	"github.com/dwp-platform/guard/pkg/engine"
	"github.com/dwp-platform/guard/pkg/observability"
	"github.com/dwp-platform/guard/pkg/rbac"
	"github.com/dwp-platform/guard/pkg/scope"
)

const testTenant int64 = 1

type cliFixture struct {
	store *rbac.MemoryStore
	out   *bytes.Buffer
	root  *Command
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	store := rbac.NewMemoryStore()
	e := engine.Assemble(engine.Dependencies{
		RBACStore:  store,
		ScopeStore: scope.NewMemoryStore(),
		Decisions:  cache.NewMemoryCache[*rbac.Decisions](16, time.Minute),
		Scopes:     cache.NewMemoryCache[*scope.Scope](16, time.Minute),
		Logger:     observability.NewNopLogger(),
	})

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	out := &bytes.Buffer{}
	root := NewRootCommand(&Runtime{
		Open:   func(ctx context.Context) (Engine, error) { return e, nil },
		Out:    out,
		Logger: logger,
	})
	return &cliFixture{store: store, out: out, root: root}
}

func (f *cliFixture) decode(t *testing.T, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(f.out.Bytes(), v))
	f.out.Reset()
}

func TestNewRootCommand(t *testing.T) {
	root := newCLIFixture(t).root

	assert.Equal(t, "guardctl", root.Name)
	for _, name := range []string{"migrate", "health", "check", "menu", "grant", "scope"} {
		assert.Contains(t, root.Subcommands, name)
	}
	assert.Len(t, root.Subcommands, 6)
}

func TestCommandUsage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--HELP"}} {
		f := newCLIFixture(t)
		require.NoError(t, f.root.Execute(args))
		assert.Contains(t, f.out.String(), "Usage: guardctl <command> [args]")
		assert.Contains(t, f.out.String(), "scope")
	}
}

func TestCommandExecute_Unknown(t *testing.T) {
	err := newCLIFixture(t).root.Execute([]string{"push"})
	assert.EqualError(t, err, "unknown command: push")
}

func TestOpenFailure(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	root := NewRootCommand(&Runtime{
		Open:   func(ctx context.Context) (Engine, error) { return nil, errors.New("connection refused") },
		Out:    io.Discard,
		Logger: logger,
	})
	assert.EqualError(t, root.Execute([]string{"migrate"}), "connection refused")
}

func TestSplitCodes(t *testing.T) {
	assert.Equal(t, []string{"1000", "2000"}, splitCodes(" 1000, ,2000"))
	assert.Equal(t, []string{}, splitCodes(""))
}

func TestParseEffect(t *testing.T) {
	e, err := parseEffect("deny")
	require.NoError(t, err)
	assert.Equal(t, rbac.EffectDeny, *e)

	e, err = parseEffect("NONE")
	require.NoError(t, err)
	assert.Nil(t, e)

	_, err = parseEffect("MAYBE")
	assert.Error(t, err)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
