package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"offlinesync/internal/domain"
	"offlinesync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

func setupMockServer(t *testing.T) (*http.ServeMux, *SheetsRemote) {
	t.Helper()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	srv, err := sheets.NewService(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	return mux, newSheetsRemote(srv, "sync_tid", "Sync", nil)
}

func testAction(actionType, key string) models.PendingAction {
	return models.NewPendingAction(actionType, key, json.RawMessage(`{"amount":50}`))
}

func TestSheetsRemote_WarmUpCache(t *testing.T) {
	mux, s := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/sync_tid/values/Sync!A:A", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{
			Values: [][]interface{}{{"Key"}, {"budget"}, {}, {"goals"}},
		})
	})

	require.NoError(t, s.WarmUpCache(context.Background()))
	row, ok := s.getCachedRow("budget")
	assert.True(t, ok)
	assert.Equal(t, 2, row)
	row, _ = s.getCachedRow("goals")
	assert.Equal(t, 4, row)
}

func TestSheetsRemote_SyncAppendsNewKey(t *testing.T) {
	mux, s := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/sync_tid/values/Sync!A:A", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"Key"}}})
	})

	var appended sheets.ValueRange
	mux.HandleFunc("/v4/spreadsheets/sync_tid/values/Sync!A:A:append", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &appended))
		_ = json.NewEncoder(w).Encode(sheets.AppendValuesResponse{
			Updates: &sheets.UpdateValuesResponse{UpdatedRange: "Sync!A7:E7"},
		})
	})

	action := testAction(models.ActionUpdate, "budget")
	require.NoError(t, s.Sync(context.Background(), action))

	require.Len(t, appended.Values, 1)
	assert.Equal(t, "budget", appended.Values[0][0])
	assert.Equal(t, `{"amount":50}`, appended.Values[0][2])
	assert.Equal(t, action.ID, appended.Values[0][4])

	row, ok := s.getCachedRow("budget")
	assert.True(t, ok)
	assert.Equal(t, 7, row)
}

func TestSheetsRemote_SyncUpdatesCachedRow(t *testing.T) {
	mux, s := setupMockServer(t)
	s.setCachedRow("budget", 3)

	called := false
	mux.HandleFunc("/v4/spreadsheets/sync_tid/values/Sync!A3:E3", func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, http.MethodPut, r.Method)
		_ = json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{})
	})

	require.NoError(t, s.Sync(context.Background(), testAction(models.ActionUpdate, "budget")))
	assert.True(t, called)
}

func TestSheetsRemote_SyncDelete(t *testing.T) {
	mux, s := setupMockServer(t)
	s.setCachedRow("budget", 4)
	mux.HandleFunc("/v4/spreadsheets/sync_tid/values/Sync!A4:E4:clear", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ClearValuesResponse{})
	})

	require.NoError(t, s.Sync(context.Background(), testAction(models.ActionDelete, "budget")))
	_, ok := s.getCachedRow("budget")
	assert.False(t, ok)
}

func TestSheetsRemote_DeleteMissingKeyIsNoop(t *testing.T) {
	mux, s := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/sync_tid/values/Sync!A:A", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"other"}}})
	})

	assert.NoError(t, s.Sync(context.Background(), testAction(models.ActionDelete, "budget")))
}

func TestSheetsRemote_ErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   domain.Kind
	}{
		{"unauthorized", http.StatusUnauthorized, domain.KindAuth},
		{"forbidden", http.StatusForbidden, domain.KindPermission},
		{"missing sheet", http.StatusNotFound, domain.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux, s := setupMockServer(t)
			mux.HandleFunc("/v4/spreadsheets/sync_tid/values/Sync!A:A", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":"nope"}}`, tt.status)
			})

			err := s.Sync(context.Background(), testAction(models.ActionUpdate, "budget"))
			require.Error(t, err)
			assert.Equal(t, tt.kind, domain.KindOf(err))
			assert.False(t, domain.IsRetryable(err))
		})
	}
}

func TestSheetsRemote_EmptyKey(t *testing.T) {
	_, s := setupMockServer(t)
	err := s.Sync(context.Background(), models.PendingAction{Type: models.ActionUpdate})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestFirstRow(t *testing.T) {
	row, ok := firstRow("Sync!A10:E10")
	assert.True(t, ok)
	assert.Equal(t, 10, row)

	_, ok = firstRow("garbage")
	assert.False(t, ok)
}
