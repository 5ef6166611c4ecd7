package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athwifi/voucher-api/internal/domain/voucher"
)

func TestDecodeBatch(t *testing.T) {
	items, err := decodeBatch(strings.NewReader(`[
		{"username":"qs-001","password":"x1","plan":"QUICK_SURF"},
		{"username":"pu-001","password":"x2","plan":"POWER_USER"}
	]`))
	require.NoError(t, err)
	assert.Equal(t, []voucher.ImportItem{
		{Username: "qs-001", Password: "x1", Plan: "QUICK_SURF"},
		{Username: "pu-001", Password: "x2", Plan: "POWER_USER"},
	}, items)

	_, err = decodeBatch(strings.NewReader(`[]`))
	assert.Error(t, err)

	_, err = decodeBatch(strings.NewReader(`{"username":"x"}`))
	assert.Error(t, err)
}
