package options

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddFlagsOverridesDefaults(t *testing.T) {
	opts := NewOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	opts.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{
		"--store-type=inmemory",
		"--log-level=debug",
		"--usage-flush-interval=5s",
	}))

	assert.Equal(t, "inmemory", opts.Store.Type)
	assert.Equal(t, "debug", opts.Log.Level)
	assert.Equal(t, 5*time.Second, opts.Usage.FlushInterval)
	// Untouched flags keep their defaults.
	assert.Equal(t, "basic_chat", opts.Playbook.DefaultPlaybook)
	assert.True(t, opts.Playbook.Watch)
}

func TestCompleteFillsDerivedDefaults(t *testing.T) {
	opts := NewOptions()
	opts.Store.DataDir = filepath.Join(t.TempDir(), "data")
	opts.Playbook.DefaultPlaybook = ""
	opts.Usage.FlushInterval = 0

	require.NoError(t, opts.Complete())

	assert.True(t, filepath.IsAbs(opts.Store.DataDir))
	assert.DirExists(t, opts.Store.DataDir)
	assert.Equal(t, "basic_chat", opts.Playbook.DefaultPlaybook)
	assert.Equal(t, 30*time.Second, opts.Usage.FlushInterval)
}

func TestValidateStoreType(t *testing.T) {
	opts := NewOptions()
	assert.NoError(t, opts.Validate())

	opts.Store.Type = "inmemory"
	assert.NoError(t, opts.Validate())

	opts.Store.Type = "postgres"
	assert.Error(t, opts.Validate())
}
