// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/bot-engine/internal/entity"
	"github.com/pdiddy/bot-engine/pkg/types"
)

// --- test helpers ---

func testSetup(t *testing.T) *Store {
	t.Helper()
	cfg := types.StoreConfig{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "data", "bot.db"),
	}
	s, err := NewStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// --- schema ---

func TestNewStore_Reopen(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "bot.db")
	s, err := NewStore(types.StoreConfig{DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewStore(types.StoreConfig{DSN: dsn})
	require.NoError(t, err)
	s.Close()
}

func TestNewStore_UnknownDriver(t *testing.T) {
	_, err := NewStore(types.StoreConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &Store{postgres: true}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	lite := &Store{}
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
}

// --- entities ---

func TestObserve(t *testing.T) {
	s := testSetup(t)
	ctx := context.Background()
	e := types.Entity{Type: "size", Value: "large", Removable: true}
	uid := entity.UID("size", "large")

	changed, err := s.Observe(ctx, uid, e, "K1")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.Observe(ctx, uid, e, "K1")
	require.NoError(t, err)
	assert.False(t, changed, "existing link is left untouched")

	changed, err = s.Observe(ctx, uid, e, "K2")
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := s.FindByValue(ctx, "large")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, types.Entity{Type: "size", Value: "large", Length: 5, Removable: true, Knowledge: []string{"K1", "K2"}}, got[0])
}

func TestFindByValue_Missing(t *testing.T) {
	s := testSetup(t)
	got, err := s.FindByValue(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Empty(t, got)
}

const seeds = `
- type: size
  values: [Large, small]
  knowledge: [K1]
- type: city
  removable: false
  values: [new york]
`

func TestImportExportEntities(t *testing.T) {
	s := testSetup(t)
	ctx := context.Background()

	n, err := s.ImportEntities(ctx, strings.NewReader(seeds))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.ImportEntities(ctx, strings.NewReader(seeds))
	require.NoError(t, err)
	assert.Zero(t, n, "importing twice adds nothing")

	got, err := s.FindByValue(ctx, "new york")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].Removable)
	assert.Empty(t, got[0].Knowledge)

	got, err = s.FindByValue(ctx, "large")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"K1"}, got[0].Knowledge)

	var buf bytes.Buffer
	require.NoError(t, s.ExportEntities(ctx, &buf))
	out := buf.String()
	assert.Contains(t, out, "type: city")
	assert.Contains(t, out, "- large")
	assert.Contains(t, out, "- small")

	other := testSetup(t)
	n, err = other.ImportEntities(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestImportEntities_Errors(t *testing.T) {
	s := testSetup(t)
	ctx := context.Background()

	_, err := s.ImportEntities(ctx, strings.NewReader("- values: [x]"))
	assert.Error(t, err)

	_, err = s.ImportEntities(ctx, strings.NewReader("{not: [yaml"))
	assert.Error(t, err)

	n, err := s.ImportEntities(ctx, strings.NewReader(""))
	require.NoError(t, err)
	assert.Zero(t, n)
}

// --- contexts ---

func record(uid, session string, at time.Time, tags ...string) types.ConversationContext {
	return types.ConversationContext{
		UID:           uid,
		SessionID:     session,
		Timestamp:     at,
		KnowledgeID:   "K1",
		KnowledgeTags: tags,
		Payload:       map[string]any{"size": "large"},
	}
}

func TestContexts(t *testing.T) {
	s := testSetup(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, record("a", "s1", t0, "food")))
	require.NoError(t, s.Append(ctx, record("b", "s1", t0.Add(time.Minute), "drink")))
	require.NoError(t, s.Append(ctx, record("c", "s1", t0.Add(2*time.Minute))))
	require.NoError(t, s.Append(ctx, record("d", "s2", t0.Add(3*time.Minute), "food")))

	got, err := s.QuerySession(ctx, "s1", t0, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].UID)
	assert.Equal(t, "b", got[1].UID)
	assert.True(t, got[1].Timestamp.Equal(t0.Add(time.Minute)))
	assert.Equal(t, "large", got[1].Payload["size"])

	got, err = s.QuerySession(ctx, "s1", t0.Add(30*time.Second), 0)
	require.NoError(t, err)
	assert.Len(t, got, 2, "records before since are excluded")

	got, err = s.QueryTags(ctx, "s1", t0, []string{"food", "other"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].UID)
}

func TestAppend_ReplacesSameUID(t *testing.T) {
	s := testSetup(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, record("a", "s1", t0)))
	updated := record("a", "s1", t0)
	updated.KnowledgeID = "K2"
	require.NoError(t, s.Append(ctx, updated))

	got, err := s.QuerySession(ctx, "s1", t0, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "K2", got[0].KnowledgeID)
}

// --- states ---

func TestStates(t *testing.T) {
	s := testSetup(t)
	ctx := context.Background()

	st, err := s.LoadState(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, st)

	want := types.ConversationState{
		SessionID:   "s1",
		KnowledgeID: "K4",
		Kind:        types.StateSync,
		Step:        1,
		Retries:     2,
		Payload:     map[string]string{"size": "large"},
		UpdatedAt:   t0,
	}
	require.NoError(t, s.SaveState(ctx, want))

	want.Step = 2
	require.NoError(t, s.SaveState(ctx, want))

	st, err = s.LoadState(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 2, st.Step)
	assert.Equal(t, 2, st.Retries)
	assert.Equal(t, "large", st.Payload["size"])

	require.NoError(t, s.DeleteState(ctx, "s1"))
	st, err = s.LoadState(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, st)

	assert.Error(t, s.SaveState(ctx, types.ConversationState{}))
}

// --- logs ---

func TestLogs(t *testing.T) {
	s := testSetup(t)
	ctx := context.Background()

	for i, nif := range []bool{true, false, true, true} {
		require.NoError(t, s.AppendLog(ctx, types.ConversationLog{
			UID:       "s1-" + string(rune('a'+i)),
			SessionID: "s1",
			Timestamp: t0.Add(time.Duration(i) * time.Second),
			NIF:       nif,
		}))
	}

	got, err := s.RecentLogs(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "s1-d", got[0].UID)
	assert.Equal(t, "s1-c", got[1].UID)
	assert.True(t, got[0].NIF)

	got, err = s.RecentLogs(ctx, "other", 2)
	require.NoError(t, err)
	assert.Empty(t, got)
}
