package main

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/af-corp/inkwell/internal/auth"
	"github.com/af-corp/inkwell/internal/types"
)

func TestCommandTree(t *testing.T) {
	root := newRootCommand()
	for _, path := range [][]string{
		{"keys", "create"},
		{"keys", "revoke"},
		{"cache", "stats"},
		{"cache", "flush"},
		{"cache", "prune"},
		{"usage"},
		{"history"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		require.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestHistoryRequiresDocumentArgument(t *testing.T) {
	root := newRootCommand()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"--config", t.TempDir(), "history"})
	require.Error(t, root.Execute())
}

func TestPrintEntries(t *testing.T) {
	var buf bytes.Buffer
	printEntries(&buf, nil)
	require.Equal(t, "No history.\n", buf.String())

	buf.Reset()
	printEntries(&buf, []*types.HistoryEntry{{
		Sequence:   3,
		ChangeKind: types.ChangeAIImproved,
		ActorID:    "alice",
		TokensUsed: 42,
		Diff:       types.DiffSummary{WordDelta: -2, Similarity: 0.5},
		CreatedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}})
	out := buf.String()
	require.Contains(t, out, "SEQ")
	require.Contains(t, out, "ai_improved")
	require.Contains(t, out, "-2")
	require.Contains(t, out, "0.50")
	require.Contains(t, out, "2026-03-01T12:00:00Z")
}

func TestPrintIssuedKey(t *testing.T) {
	var buf bytes.Buffer
	printIssuedKey(&buf, &auth.IssuedKey{
		ID:        "k1",
		Key:       "inkwell-dev-abc",
		Prefix:    "inkwell-dev-abc",
		ExpiresAt: time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
	}, "alice", []string{"editor", "admin"})
	out := buf.String()
	require.Contains(t, out, "k1")
	require.Contains(t, out, "editor,admin")
	require.Contains(t, out, "2027-01-01T00:00:00Z")
	require.Contains(t, out, "shown once")
}
