package source

import (
	"context"
	stderrs "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"

	"github.com/bobg/tokensync"
	"github.com/bobg/tokensync/testutil"
)

func TestEnumerate(t *testing.T) {
	root := t.TempDir()
	testutil.Node(t, root, "node2", true, nil)
	testutil.Node(t, root, "node1", true, nil)
	testutil.Node(t, filepath.Join(root, "deep", "er"), "node3", false, nil)

	// Decoys: wrong subdir, wrong file name.
	testutil.WriteLedger(t, filepath.Join(root, "node4", "Other", "rubix.db"), nil, nil)
	testutil.WriteLedger(t, filepath.Join(root, "node5", "Rubix", "other.db"), nil, nil)

	got, err := Enumerate(context.Background(), root, DefaultLayout, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}

	var nodes []string
	for _, s := range got {
		nodes = append(nodes, s.Node)
		if s.ModTime.IsZero() {
			t.Errorf("%s: zero mod time", s.Path)
		}
		if s.ModTime.Nanosecond()%1000 != 0 {
			t.Errorf("%s: mod time %s not truncated to microseconds", s.Path, s.ModTime)
		}
		if want := filepath.Join(s.NodeDir, "Rubix", "rubix.db"); s.Path != want {
			t.Errorf("got path %s, want %s", s.Path, want)
		}
	}
	if diff := cmp.Diff([]string{"node3", "node1", "node2"}, nodes); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestEnumerateMissingRoot(t *testing.T) {
	_, err := Enumerate(context.Background(), filepath.Join(t.TempDir(), "nope"), DefaultLayout, nil)
	if err == nil {
		t.Error("expected error for missing root")
	}
}

func TestEnumerateUnreadableDir(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}

	root := t.TempDir()
	testutil.Node(t, root, "good", true, nil)
	testutil.Node(t, root, "locked", true, nil)

	locked := filepath.Join(root, "locked")
	if err := os.Chmod(locked, 0); err != nil {
		t.Fatal(err)
	}
	defer os.Chmod(locked, 0o755)

	got, err := Enumerate(context.Background(), root, DefaultLayout, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Node != "good" {
		t.Errorf("got %+v, want only node good", got)
	}
}

func TestResolve(t *testing.T) {
	root := t.TempDir()
	testutil.Node(t, root, "own", true, nil)
	testutil.Node(t, filepath.Join(root, "shared"), "child", false, nil)
	if err := os.MkdirAll(filepath.Join(root, "shared", ".ipfs"), 0o755); err != nil {
		t.Fatal(err)
	}
	testutil.Node(t, root, "orphan", false, nil)

	// A node-local executable takes precedence over the configured binary.
	bin := filepath.Join(root, "own", "ipfs")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	conf := tokensync.DefaultConfig()
	conf.Fetcher.Binary = "ipfs"
	r := NewResolver(conf)

	cases := []struct {
		node    string
		wantDir string
		wantBin string
		wantErr error
	}{
		{node: filepath.Join(root, "own"), wantDir: filepath.Join(root, "own", ".ipfs"), wantBin: bin},
		{node: filepath.Join(root, "shared", "child"), wantDir: filepath.Join(root, "shared", ".ipfs"), wantBin: "ipfs"},
		{node: filepath.Join(root, "orphan"), wantErr: tokensync.ErrEndpointNotFound},
	}

	for _, tc := range cases {
		t.Run(filepath.Base(tc.node), func(t *testing.T) {
			got, err := r.Resolve(tc.node)
			if tc.wantErr != nil {
				if !stderrs.Is(err, tc.wantErr) {
					t.Fatalf("got error %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			want := tokensync.Endpoint{Dir: tc.wantDir, Binary: tc.wantBin}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
