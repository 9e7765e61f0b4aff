package badgerstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemaevo/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var t0 = time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

func commitAt(datasetID string, seq int64) domain.EvaluationCommit {
	schema := domain.Schema{Fields: []domain.Field{
		{Name: "id", Type: domain.Primitive(domain.KindString)},
		{Name: fmt.Sprintf("c%d", seq), Type: domain.Primitive(domain.KindInt64), Nullable: true},
	}}
	hash, err := schema.ContentHash()
	if err != nil {
		panic(err)
	}
	at := t0.Add(time.Duration(seq) * time.Hour)
	c := domain.EvaluationCommit{
		Snapshot: domain.Snapshot{DatasetID: datasetID, Sequence: seq, Schema: schema, ContentHash: hash, CreatedAt: at},
		Version: domain.VersionRecord{
			DatasetID:       datasetID,
			Sequence:        seq,
			SemanticVersion: domain.SemanticVersion{Major: int(seq)},
			CloudVersion:    40 + seq,
			Timestamp:       at,
		},
	}
	if seq > 1 {
		c.Diff = &domain.SchemaDiff{
			ID:              fmt.Sprintf("d%d", seq),
			DatasetID:       datasetID,
			FromSequence:    seq - 1,
			ToSequence:      seq,
			OverallSeverity: domain.SeverityBreaking,
			Changes:         []domain.ChangeRecord{{Kind: domain.ChangeFieldRemoved, FieldPath: fmt.Sprintf("c%d", seq-1), Severity: domain.SeverityBreaking}},
			CreatedAt:       at,
		}
		c.Version.BasedOnDiff = c.Diff.ID
		c.Version.Severity = domain.SeverityBreaking
	}
	return c
}

func TestStore_Empty(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	var nf *domain.NotFoundError

	_, err := s.Latest(ctx, "orders")
	require.ErrorAs(t, err, &nf)
	_, err = s.LatestVersion(ctx, "orders")
	require.ErrorAs(t, err, &nf)
	_, err = s.LatestDiff(ctx, "orders")
	require.ErrorAs(t, err, &nf)
	_, err = s.VersionForSequence(ctx, "orders", 1)
	require.ErrorAs(t, err, &nf)

	history, err := s.History(ctx, "orders", 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestStore_CommitAndRead(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Sequences past 9 check that keys sort numerically.
	for seq := int64(1); seq <= 12; seq++ {
		require.NoError(t, s.Commit(ctx, commitAt("orders", seq)))
	}

	snap, err := s.Latest(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(12), snap.Sequence)
	assert.Equal(t, "c12", snap.Schema.Fields[1].Name)

	v, err := s.LatestVersion(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, commitAt("orders", 12).Version, *v)

	v3, err := s.VersionForSequence(ctx, "orders", 3)
	require.NoError(t, err)
	assert.Equal(t, "d3", v3.BasedOnDiff)

	d, err := s.LatestDiff(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, "d12", d.ID)
	assert.Equal(t, int64(11), d.FromSequence)

	history, err := s.History(ctx, "orders", 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []int64{12, 11, 10}, []int64{
		history[0].Snapshot.Sequence, history[1].Snapshot.Sequence, history[2].Snapshot.Sequence,
	})
}

func TestStore_DatasetsDoNotBleed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Commit(ctx, commitAt("a", 1)))
	require.NoError(t, s.Commit(ctx, commitAt("a/b", 1)))
	require.NoError(t, s.Commit(ctx, commitAt("a/b", 2)))

	history, err := s.History(ctx, "a", 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	ids, total, err := s.ListDatasets(ctx, domain.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, []string{"a", "a/b"}, ids)
}

func TestStore_CommitRejects(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	var (
		conflict   *domain.ConflictError
		validation *domain.ValidationError
	)

	require.ErrorAs(t, s.Commit(ctx, commitAt("orders", 2)), &conflict)
	require.NoError(t, s.Commit(ctx, commitAt("orders", 1)))
	require.ErrorAs(t, s.Commit(ctx, commitAt("orders", 1)), &conflict)

	bad := commitAt("orders", 2)
	bad.Version.Sequence = 5
	require.ErrorAs(t, s.Commit(ctx, bad), &validation)

	require.ErrorAs(t, s.Commit(ctx, commitAt("bad\x00id", 1)), &validation)
}

func TestStore_ListDatasetsPaging(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"d", "b", "a", "c"} {
		require.NoError(t, s.Commit(ctx, commitAt(id, 1)))
	}

	ids, total, err := s.ListDatasets(ctx, domain.PageRequest{MaxResults: 2, PageToken: domain.NextPageToken(0, 2, 4)})
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	assert.Equal(t, []string{"c", "d"}, ids)
}

func TestStore_EnvelopeIsForwardReadable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	raw := []byte(`{
		"datasetId": "orders", "sequence": 1, "contentHash": "sha256:abc",
		"schema": {"fields": [{"name": "id", "type": {"kind": "string"}, "nullable": false}]},
		"version": {"semanticVersion": {"major": 2, "minor": 1, "patch": 0}, "cloudVersion": 42, "severity": "ADDITIVE"},
		"createdAt": "2024-01-15T09:00:00Z",
		"retentionPolicy": {"days": 30}
	}`)
	require.NoError(t, s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(seqKey(prefixRecord, "orders", 1), raw)
	}))

	snap, err := s.Latest(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, "sha256:abc", snap.ContentHash)
	assert.Equal(t, t0, snap.CreatedAt)

	v, err := s.LatestVersion(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.CloudVersion)
	assert.Equal(t, "2.1.0", v.SemanticVersion.String())

	var back map[string]any
	require.NoError(t, s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, seqKey(prefixRecord, "orders", 1), &back)
	}))
	assert.Contains(t, back, "retentionPolicy", "reading never rewrites the record")
}

func TestStore_CollectGarbageInMemory(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.CollectGarbage(0.5))
}
