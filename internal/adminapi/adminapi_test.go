package adminapi

import (
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/smmsync/internal/domain"
	"github.com/vladislavdragonenkov/smmsync/internal/service/reconcile"
)

func TestKeySetVerify(t *testing.T) {
	keys := NewKeySet(" alpha ", "", "beta", "alpha")
	assert.Equal(t, 2, keys.Len())

	require.NoError(t, keys.Verify("alpha"))
	require.NoError(t, keys.Verify("beta"))
	require.ErrorIs(t, keys.Verify("alph"), ErrUnauthorized)
	require.ErrorIs(t, keys.Verify(""), ErrUnauthorized)

	var empty *KeySet
	require.ErrorIs(t, empty.Verify("alpha"), ErrUnauthorized)
	require.ErrorIs(t, NewKeySet().Verify("alpha"), ErrUnauthorized)
}

func TestExtractKey(t *testing.T) {
	assert.Equal(t, "k1", ExtractKey("Bearer k1", "k2"))
	assert.Equal(t, "k1", ExtractKey("bearer  k1 ", ""))
	assert.Equal(t, "", ExtractKey("Basic abc", "k2"))
	assert.Equal(t, "k2", ExtractKey("", " k2 "))
	assert.Equal(t, "", ExtractKey("", ""))
}

func TestSyncRequestValidate(t *testing.T) {
	cases := []struct {
		name string
		req  SyncRequest
		ok   bool
	}{
		{name: "ids", req: SyncRequest{OrderIDs: []string{"o1"}}, ok: true},
		{name: "sync all", req: SyncRequest{SyncAll: true, ProviderID: "p1"}, ok: true},
		{name: "empty", req: SyncRequest{}},
		{name: "blank ids", req: SyncRequest{OrderIDs: []string{" "}}},
		{name: "empty id", req: SyncRequest{OrderIDs: []string{""}}},
		{name: "budget too large", req: SyncRequest{SyncAll: true, TimeBudgetSeconds: 301}},
		{name: "negative max", req: SyncRequest{SyncAll: true, MaxOrders: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrValidation)
		})
	}

	ids := make([]string, maxOrderIDs+1)
	for i := range ids {
		ids[i] = "o"
	}
	err := SyncRequest{OrderIDs: ids}.Validate()
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, map[string]string{"OrderIDs": "max"}, FieldErrors(err))
}

func TestSyncRequestRunRequest(t *testing.T) {
	req := SyncRequest{OrderIDs: []string{" o1 ", "", "o2"}, ProviderID: " p1 ", TimeBudgetSeconds: 20, MaxOrders: 5}.RunRequest()
	assert.Equal(t, []string{"o1", "o2"}, req.OrderIDs)
	assert.Equal(t, "p1", req.ProviderID)
	assert.Equal(t, 20*time.Second, req.TimeBudget)
	assert.Equal(t, 5, req.MaxOrders)

	all := SyncRequest{SyncAll: true, OrderIDs: []string{"ignored"}}.RunRequest()
	assert.True(t, all.SyncAll)
	assert.Empty(t, all.OrderIDs)
	assert.Zero(t, all.TimeBudget)
}

func TestParseLogQuery(t *testing.T) {
	values := url.Values{}
	values.Set("orderId", "o1")
	values.Set("action", "bulk_sync")
	values.Set("status", "failed")
	values.Set("page", "2")
	values.Set("limit", "50")

	q, err := ParseLogQuery(values.Get)
	require.NoError(t, err)
	assert.Equal(t, domain.LogFilter{
		OrderID: "o1",
		Action:  domain.SyncActionBulk,
		Status:  domain.LogStatusFailed,
		Page:    2,
		Limit:   50,
	}, q.Filter())

	values.Set("page", "two")
	_, err = ParseLogQuery(values.Get)
	require.ErrorIs(t, err, ErrValidation)

	values.Set("page", "1")
	values.Set("action", "refund")
	_, err = ParseLogQuery(values.Get)
	require.ErrorIs(t, err, ErrValidation)
}

func TestEnvelopes(t *testing.T) {
	env := SyncEnvelope(reconcile.Summary{SyncedCount: 1, TotalProcessed: 3, FailedCount: 1, Partial: true, StopReason: reconcile.StopTimeBudget})
	assert.True(t, env.Success)
	assert.Equal(t, "synced 1 of 3 processed orders, 1 failed (partial: time_budget_exhausted)", env.Message)

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	logs := LogsEnvelope(domain.LogPage{
		Items: []domain.ProviderOrderLog{
			{ID: "l1", OrderID: "o1", Action: domain.SyncActionManual, Status: domain.LogStatusSuccess, Response: `{"status":"Completed"}`, CreatedAt: created},
			{ID: "l2", OrderID: "o2", Action: domain.SyncActionManual, Status: domain.LogStatusFailed, Response: "bad gateway", ErrorMessage: "502", CreatedAt: created},
		},
		Total: 41,
		Page:  1,
		Limit: 20,
	})

	raw, err := json.Marshal(logs)
	require.NoError(t, err)

	var decoded struct {
		Success bool `json:"success"`
		Data    struct {
			Logs []struct {
				ID       string          `json:"id"`
				Response json.RawMessage `json:"response"`
			} `json:"logs"`
			Pagination Pagination `json:"pagination"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.True(t, decoded.Success)
	require.Len(t, decoded.Data.Logs, 2)
	assert.JSONEq(t, `{"status":"Completed"}`, string(decoded.Data.Logs[0].Response))
	assert.Equal(t, `"bad gateway"`, string(decoded.Data.Logs[1].Response))
	assert.Equal(t, Pagination{Page: 1, Limit: 20, Total: 41, TotalPages: 3}, decoded.Data.Pagination)
}
