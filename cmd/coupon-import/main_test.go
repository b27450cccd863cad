package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/store-core/internal/domain/coupon"
	"github.com/xenking/store-core/internal/storage/memory"
)

func TestParseLine(t *testing.T) {
	c, err := parseLine(" spring25 ,percentage,25,100,5.00,2026-06-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, "SPRING25", c.Code)
	assert.Equal(t, coupon.DiscountPercentage, c.Type)
	assert.True(t, decimal.NewFromInt(25).Equal(c.Value))
	assert.Equal(t, 100, c.MaxUses)
	assert.Equal(t, "5", c.MinAmount.String())
	require.NotNil(t, c.ExpiresAt)
	assert.Equal(t, 2026, c.ExpiresAt.Year())
	assert.True(t, c.Active)

	c, err = parseLine("FLAT2,fixed,2,10")
	require.NoError(t, err)
	assert.True(t, c.MinAmount.IsZero())
	assert.Nil(t, c.ExpiresAt)

	for _, line := range []string{
		"X,percentage,10",
		",fixed,1,1",
		"X,bogo,1,1",
		"X,fixed,-1,1",
		"X,percentage,150,1",
		"X,fixed,1,0",
		"X,fixed,1,1,abc",
		"X,fixed,1,1,0,tomorrow",
	} {
		_, err := parseLine(line)
		assert.Error(t, err, line)
	}
}

func writeGz(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
}

func TestReadFiles(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "a.csv")
	require.NoError(t, os.WriteFile(plain, []byte("# campaign A\nA1,fixed,1,5\n\nDUP,fixed,1,5\n"), 0o600))
	gz := filepath.Join(dir, "b.csv.gz")
	writeGz(t, gz, "B1,percentage,10,3\nDUP,fixed,3,7\n")

	batches, err := readFiles(context.Background(), []string{plain, gz})
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[1], 2)

	coupons := dedupe(batches)
	require.Len(t, coupons, 3)
	assert.Equal(t, "DUP", coupons[1].Code)
	assert.Equal(t, 7, coupons[1].MaxUses, "later definition wins")
}

func TestReadFiles_ReportsLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("A1,fixed,1,5\nbroken\n"), 0o600))

	_, err := readFiles(context.Background(), []string{path})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "line 2"), err.Error())
}

func TestImport_KeepExisting(t *testing.T) {
	ctx := context.Background()
	repo := memory.New().Coupons()
	require.NoError(t, repo.Upsert(ctx, &coupon.Coupon{
		Code: "OLD", Type: coupon.DiscountFixed, Value: decimal.NewFromInt(1), MaxUses: 1, Active: true,
	}))

	incoming := []coupon.Coupon{
		{Code: "OLD", Type: coupon.DiscountFixed, Value: decimal.NewFromInt(5), MaxUses: 50, Active: true},
		{Code: "NEW", Type: coupon.DiscountFixed, Value: decimal.NewFromInt(2), MaxUses: 10, Active: true},
	}
	kept, err := dropExisting(ctx, repo, incoming)
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, "NEW", kept[0].Code)

	require.NoError(t, writeCoupons(ctx, repo, kept))
	old, err := repo.FindByCode(ctx, "OLD")
	require.NoError(t, err)
	assert.Equal(t, 1, old.MaxUses)
	_, err = repo.FindByCode(ctx, "NEW")
	require.NoError(t, err)
}
