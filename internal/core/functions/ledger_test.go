package functions

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

func TestLedgerReleasesInReverseOrderOnce(t *testing.T) {
	rec := &recorder{}
	l := NewLedger(zerolog.Nop())
	for _, id := range []string{"image", "container", "stack"} {
		l.Track(HandleKind(id), id, func(context.Context) error {
			rec.add("release %s", id)
			return nil
		})
	}

	l.Teardown(context.Background())
	l.Teardown(context.Background())

	want := []string{"release stack", "release container", "release image"}
	if diff := cmp.Diff(want, rec.list()); diff != "" {
		t.Errorf("release order mismatch (-want +got):\n%s", diff)
	}
	for _, h := range l.Handles() {
		if !h.Released {
			t.Errorf("handle %s not marked released", h.ID)
		}
	}
}

func TestLedgerFailureDoesNotStopTeardown(t *testing.T) {
	rec := &recorder{}
	l := NewLedger(zerolog.Nop())
	l.Track(HandleImage, "img", func(context.Context) error {
		rec.add("image")
		return nil
	})
	l.Track(HandleContainer, "ctr", func(context.Context) error {
		rec.add("container")
		return errors.New("daemon gone")
	})

	l.Teardown(context.Background())

	if diff := cmp.Diff([]string{"container", "image"}, rec.list()); diff != "" {
		t.Errorf("release calls mismatch (-want +got):\n%s", diff)
	}
	hs := l.Handles()
	if hs[1].Error != "daemon gone" {
		t.Errorf("failed handle error = %q", hs[1].Error)
	}
	if hs[0].Error != "" {
		t.Errorf("successful handle error = %q", hs[0].Error)
	}
}

func TestLedgerTracksAfterTeardown(t *testing.T) {
	rec := &recorder{}
	l := NewLedger(zerolog.Nop())
	l.Track(HandleImage, "a", func(context.Context) error { rec.add("a"); return nil })
	l.Teardown(context.Background())
	l.Track(HandleImage, "b", func(context.Context) error { rec.add("b"); return nil })
	l.Teardown(context.Background())

	if diff := cmp.Diff([]string{"a", "b"}, rec.list()); diff != "" {
		t.Errorf("release calls mismatch (-want +got):\n%s", diff)
	}
}
