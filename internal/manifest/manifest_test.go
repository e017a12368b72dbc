package manifest

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	calls []call
	err   error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) error {
	f.calls = append(f.calls, call{name: name, args: args})
	return f.err
}

func TestAccumulator_Add(t *testing.T) {
	runner := &fakeRunner{}
	acc := NewAccumulator(runner, "wb_command")
	ctx := context.Background()

	adds := []struct {
		spec, structure, path string
	}{
		{"native.wb.spec", "CORTEX_LEFT", "L.white"},
		{"32k.wb.spec", "CORTEX_LEFT", "L.white.32k"},
		{"native.wb.spec", "CORTEX_RIGHT", "R.white"},
		{"native.wb.spec", "INVALID", "T1w.nii.gz"},
	}
	for _, a := range adds {
		if err := acc.Add(ctx, a.spec, a.structure, a.path); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	if len(runner.calls) != len(adds) {
		t.Fatalf("invocations = %d, want %d", len(runner.calls), len(adds))
	}
	wantFirst := []string{"-add-to-spec-file", "native.wb.spec", "CORTEX_LEFT", "L.white"}
	if diff := cmp.Diff(wantFirst, runner.calls[0].args); diff != "" {
		t.Errorf("first invocation mismatch (-want +got):\n%s", diff)
	}
	if runner.calls[0].name != "wb_command" {
		t.Errorf("binary = %q, want wb_command", runner.calls[0].name)
	}

	if diff := cmp.Diff([]string{"native.wb.spec", "32k.wb.spec"}, acc.Specs()); diff != "" {
		t.Errorf("Specs() mismatch (-want +got):\n%s", diff)
	}

	wantNative := []Entry{
		{Structure: "CORTEX_LEFT", Path: "L.white"},
		{Structure: "CORTEX_RIGHT", Path: "R.white"},
		{Structure: "INVALID", Path: "T1w.nii.gz"},
	}
	if diff := cmp.Diff(wantNative, acc.Entries("native.wb.spec")); diff != "" {
		t.Errorf("Entries() mismatch (-want +got):\n%s", diff)
	}
	if acc.Len() != 4 {
		t.Errorf("Len() = %d, want 4", acc.Len())
	}
	if got := acc.Manifests(); len(got) != 2 || got[1].Spec != "32k.wb.spec" {
		t.Errorf("Manifests() = %+v", got)
	}
}

func TestAccumulator_EntriesIsACopy(t *testing.T) {
	acc := NewAccumulator(&fakeRunner{}, "wb_command")
	if err := acc.Add(context.Background(), "s", "CORTEX_LEFT", "a"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	entries := acc.Entries("s")
	entries[0].Path = "mutated"

	if acc.Entries("s")[0].Path != "a" {
		t.Error("Entries() should return a copy")
	}
}

func TestAccumulator_FailedAddIsNotRecorded(t *testing.T) {
	boom := errors.New("boom")
	acc := NewAccumulator(&fakeRunner{err: boom}, "wb_command")

	if err := acc.Add(context.Background(), "s", "CORTEX_LEFT", "a"); !errors.Is(err, boom) {
		t.Fatalf("Add() error = %v, want boom", err)
	}
	if acc.Len() != 0 || len(acc.Specs()) != 0 {
		t.Error("failed add should not be recorded")
	}
}
