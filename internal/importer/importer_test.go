package importer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/bazaar/internal/domain/coupon"
	"github.com/xenking/bazaar/internal/domain/shop"
)

type memSink struct {
	mu      sync.Mutex
	coupons map[string]coupon.Coupon
	writes  int
	fail    error
	// shops, when set, limits the shops coupons may belong to.
	shops map[string]bool
}

func newMemSink() *memSink {
	return &memSink{coupons: make(map[string]coupon.Coupon)}
}

func (s *memSink) Upsert(_ context.Context, c coupon.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	if s.shops != nil && !s.shops[c.ShopID] {
		return shop.ErrNotFound
	}
	s.writes++
	s.coupons[c.ShopID+"/"+c.Name] = c
	return nil
}

func (s *memSink) value(t *testing.T, key string) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coupons[key]
	require.True(t, ok, "coupon %s not written", key)
	return c.Value.String()
}

func writeGz(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)

	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func newTestImporter(sink Sink) *Importer {
	return New(sink, zap.NewNop(), Options{Capacity: 1000})
}

func TestImporter_SingleFile(t *testing.T) {
	dir := t.TempDir()
	path := writeGz(t, dir, "coupons1.gz",
		`{"shopId":"S1","name":"A","value":10}`,
		`{"shopId":"S1","name":"B","value":5,"minAmount":50,"maxAmount":null}`,
		``,
		`not json`,
		`{"shopId":"S2","name":"C","value":12.5,"maxAmount":20,"extra":{"nested":[1,2]}}`,
	)

	sink := newMemSink()
	stats, err := newTestImporter(sink).Run(context.Background(), []string{path})
	require.NoError(t, err)

	assert.Equal(t, Stats{Lines: 4, Invalid: 1, Written: 3}, stats)
	assert.Equal(t, "12.5", sink.value(t, "S2/C"))

	sink.mu.Lock()
	b := sink.coupons["S1/B"]
	sink.mu.Unlock()
	assert.True(t, b.MinAmount.Valid)
	assert.Equal(t, "50", b.MinAmount.Decimal.String())
	assert.False(t, b.MaxAmount.Valid)
	assert.NotEmpty(t, b.ID)
	assert.False(t, b.CreatedAt.IsZero())
}

func TestImporter_LastFileWins(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeGz(t, dir, "1.gz",
			`{"shopId":"S1","name":"A","value":10}`,
			`{"shopId":"S1","name":"B","value":1}`,
		),
		writeGz(t, dir, "2.gz",
			`{"shopId":"S1","name":"A","value":20}`,
			`{"shopId":"S2","name":"C","value":2}`,
		),
		writeGz(t, dir, "3.gz",
			`{"shopId":"S1","name":"A","value":30}`,
		),
	}

	sink := newMemSink()
	stats, err := newTestImporter(sink).Run(context.Background(), files)
	require.NoError(t, err)

	assert.Equal(t, uint64(5), stats.Lines)
	assert.Equal(t, uint64(5), stats.Written)
	assert.GreaterOrEqual(t, stats.Deferred, uint64(3))
	assert.Equal(t, "30", sink.value(t, "S1/A"))
	assert.Equal(t, "1", sink.value(t, "S1/B"))
	assert.Equal(t, "2", sink.value(t, "S2/C"))
}

func TestImporter_SameKeyInOneFile(t *testing.T) {
	dir := t.TempDir()
	path := writeGz(t, dir, "1.gz",
		`{"shopId":"S1","name":"A","value":10}`,
		`{"shopId":"S1","name":"A","value":15}`,
	)

	sink := newMemSink()
	stats, err := newTestImporter(sink).Run(context.Background(), []string{path})
	require.NoError(t, err)

	assert.Equal(t, uint64(2), stats.Written)
	assert.Equal(t, "15", sink.value(t, "S1/A"))
}

func TestImporter_UnknownShop(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeGz(t, dir, "1.gz",
			`{"shopId":"S1","name":"A","value":10}`,
			`{"shopId":"GONE","name":"B","value":5}`,
			`{"shopId":"GONE","name":"C","value":5}`,
		),
		writeGz(t, dir, "2.gz",
			`{"shopId":"GONE","name":"C","value":7}`,
			`{"shopId":"S1","name":"D","value":1}`,
		),
	}

	sink := newMemSink()
	sink.shops = map[string]bool{"S1": true}
	stats, err := newTestImporter(sink).Run(context.Background(), files)
	require.NoError(t, err)

	assert.Equal(t, uint64(5), stats.Lines)
	assert.Equal(t, uint64(3), stats.Invalid)
	assert.Equal(t, uint64(2), stats.Written)
	assert.Equal(t, "10", sink.value(t, "S1/A"))
	assert.Equal(t, "1", sink.value(t, "S1/D"))
}

func TestImporter_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := newTestImporter(newMemSink()).Run(context.Background(),
			[]string{filepath.Join(t.TempDir(), "absent.gz")})
		require.Error(t, err)
	})

	t.Run("not gzip", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "plain.gz")
		require.NoError(t, os.WriteFile(path, []byte(`{"shopId":"S1"}`), 0o600))
		_, err := newTestImporter(newMemSink()).Run(context.Background(), []string{path})
		require.Error(t, err)
	})

	t.Run("sink failure", func(t *testing.T) {
		path := writeGz(t, t.TempDir(), "1.gz", `{"shopId":"S1","name":"A","value":10}`)
		sink := newMemSink()
		sink.fail = errors.New("connection refused")

		_, err := newTestImporter(sink).Run(context.Background(), []string{path})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("canceled", func(t *testing.T) {
		path := writeGz(t, t.TempDir(), "1.gz", `{"shopId":"S1","name":"A","value":10}`)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := newTestImporter(newMemSink()).Run(ctx, []string{path})
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestParseRecord(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		wantErr bool
	}{
		{name: "minimal", line: `{"shopId":"S1","name":"A","value":10}`},
		{name: "trimmed", line: `{"shopId":" S1 ","name":" A ","value":10}`},
		{name: "all amounts", line: `{"shopId":"S1","name":"A","value":10,"minAmount":0,"maxAmount":5}`},
		{name: "missing shop", line: `{"name":"A","value":10}`, wantErr: true},
		{name: "missing name", line: `{"shopId":"S1","value":10}`, wantErr: true},
		{name: "value too high", line: `{"shopId":"S1","name":"A","value":101}`, wantErr: true},
		{name: "zero value", line: `{"shopId":"S1","name":"A","value":0}`, wantErr: true},
		{name: "negative min", line: `{"shopId":"S1","name":"A","value":10,"minAmount":-1}`, wantErr: true},
		{name: "array", line: `[1,2]`, wantErr: true},
		{name: "truncated", line: `{"shopId":"S1"`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := parseRecord([]byte(tt.line))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "S1", req.ShopID)
			assert.Equal(t, "A", req.Name)
		})
	}
}
