package notify

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/heating-shop/internal/domain/order"
)

func decode(t *testing.T, raw []byte) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := jx.DecodeBytes(raw).ObjBytes(func(d *jx.Decoder, key []byte) error {
		raw, err := d.Raw()
		out[string(key)] = raw.String()
		return err
	})
	require.NoError(t, err)
	return out
}

func TestEvent_Encode(t *testing.T) {
	client := "c-1"
	o := &order.Order{
		ID:         "3f2a9c1e-7b4d-4e0a-9c3b-1d2e3f4a5b6c",
		ClientID:   &client,
		Status:     order.StatusConfirmed,
		GrandTotal: 2500,
	}
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

	e := &jx.Encoder{}
	newEvent(KeyOrderStatusChanged, o, order.StatusPending, at).Encode(e)
	got := decode(t, e.Bytes())

	assert.Equal(t, `"order.status_changed"`, got["type"])
	assert.Equal(t, `"3f2a9c1e-7b4d-4e0a-9c3b-1d2e3f4a5b6c"`, got["orderId"])
	assert.Equal(t, `"HS-3F2A9C1E"`, got["confirmation"])
	assert.Equal(t, `"confirmed"`, got["status"])
	assert.Equal(t, `"pending"`, got["previousStatus"])
	assert.Equal(t, `"c-1"`, got["clientId"])
	assert.Equal(t, `2500`, got["grandTotal"])
	assert.Equal(t, `"2026-02-03T04:05:06Z"`, got["occurredAt"])
	assert.NotContains(t, got, "guestEmail")
}

func TestEvent_Encode_Guest(t *testing.T) {
	o := &order.Order{ID: "o-1", GuestEmail: "ana@example.com", Status: order.StatusPending}

	e := &jx.Encoder{}
	newEvent(KeyOrderPlaced, o, "", time.Now()).Encode(e)
	got := decode(t, e.Bytes())

	assert.Equal(t, `"ana@example.com"`, got["guestEmail"])
	assert.NotContains(t, got, "clientId")
	assert.NotContains(t, got, "previousStatus")
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx := zctx.Base(context.Background(), zap.New(core))
	o := &order.Order{ID: "o-1", Status: order.StatusShipped}

	require.NoError(t, LogNotifier{}.OrderPlaced(ctx, o))
	require.NoError(t, LogNotifier{}.StatusChanged(ctx, o, order.StatusProcessing))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, KeyOrderPlaced, entries[0].ContextMap()["type"])
	assert.Equal(t, "processing", entries[1].ContextMap()["from"])
	assert.Equal(t, "shipped", entries[1].ContextMap()["to"])
}
