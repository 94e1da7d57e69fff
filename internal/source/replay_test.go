package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCapture(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "run.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReplay(t *testing.T) {
	path := writeCapture(t, `t_ms,servo_deg,v_div,v_rf,v_photo
100,0,0.95,0.60,0.10
150,5,0.96,0.59,0.11
200,10,0.94,0.61,0.12
`)

	src := NewReplay(path)
	require.NoError(t, src.Connect())
	defer src.Close()

	want := []struct {
		tMillis  int64
		servoDeg int
	}{
		{100, 0}, {150, 5}, {200, 10},
	}

	for _, w := range want {
		raw, err := src.ReadSample()
		require.NoError(t, err)
		assert.Equal(t, w.tMillis, raw.TMillis)
		assert.Equal(t, w.servoDeg, raw.ServoDeg)
	}

	// Exhaustion is end-of-data, not a transient failure.
	_, err := src.ReadSample()
	assert.ErrorIs(t, err, ErrEndOfData)
}

func TestReplay_ExtraColumnsIgnored(t *testing.T) {
	// A full export carries more columns; the replay source only needs
	// the raw five.
	path := writeCapture(t, `t_ms,t_ms_rel,t_s_rel,servo_deg,v_div,v_rf,v_photo,r_m
100,0,0,5,0.95,0.60,0.10,0.39
`)

	src := NewReplay(path)
	require.NoError(t, src.Connect())
	defer src.Close()

	raw, err := src.ReadSample()
	require.NoError(t, err)
	assert.Equal(t, int64(100), raw.TMillis)
	assert.Equal(t, 5, raw.ServoDeg)
	assert.Equal(t, 0.95, raw.VDiv)
}

func TestReplay_MissingColumn(t *testing.T) {
	path := writeCapture(t, "t_ms,servo_deg,v_div,v_rf\n1,0,0.9,0.6\n")

	src := NewReplay(path)
	err := src.Connect()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "v_photo")
}

func TestReplay_BadRow(t *testing.T) {
	path := writeCapture(t, "t_ms,servo_deg,v_div,v_rf,v_photo\nnope,0,0.9,0.6,0.1\n")

	src := NewReplay(path)
	require.NoError(t, src.Connect())
	defer src.Close()

	_, err := src.ReadSample()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEndOfData)
}

func TestReplay_Lifecycle(t *testing.T) {
	path := writeCapture(t, "t_ms,servo_deg,v_div,v_rf,v_photo\n")

	src := NewReplay(path)

	// Reading before Connect is a contract violation, not a crash.
	_, err := src.ReadSample()
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, src.Connect())
	require.NoError(t, src.Connect()) // idempotent

	require.NoError(t, src.Close())
	require.NoError(t, src.Close()) // idempotent

	_, err = src.ReadSample()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestReplay_MissingFile(t *testing.T) {
	src := NewReplay(filepath.Join(t.TempDir(), "absent.csv"))
	assert.Error(t, src.Connect())
}
