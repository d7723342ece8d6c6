package server

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/giantswarm/oauth2-server/internal/testutil"
	"github.com/giantswarm/oauth2-server/storage/mock"
)

func TestScopeResolver_Resolve(t *testing.T) {
	store := testutil.NewSeededStore(t)
	resolver := NewScopeResolver(store, store)

	tests := []struct {
		name     string
		raw      string
		clientID string
		username string
		want     []string
		wantKind Kind
	}{
		{
			name:     "empty request",
			raw:      "",
			clientID: testutil.DemoClient1,
			username: testutil.DemoUser1,
			want:     nil,
		},
		{
			name:     "authorized single scope",
			raw:      "demoscope1",
			clientID: testutil.DemoClient1,
			username: testutil.DemoUser1,
			want:     []string{"demoscope1"},
		},
		{
			name:     "requested order is kept",
			raw:      "demoscope3 demoscope1 demoscope2",
			clientID: testutil.DemoClient3,
			username: testutil.DemoUser3,
			want:     []string{"demoscope3", "demoscope1", "demoscope2"},
		},
		{
			name:     "duplicates are removed",
			raw:      "demoscope1  demoscope1",
			clientID: testutil.DemoClient2,
			username: testutil.DemoUser2,
			want:     []string{"demoscope1"},
		},
		{
			name:     "client consent for client credentials",
			raw:      "demoscope1 demoscope2 demoscope3",
			clientID: testutil.DemoClient1,
			username: "",
			want:     []string{"demoscope1", "demoscope2", "demoscope3"},
		},
		{
			name:     "scope outside authorization",
			raw:      "demoscope2",
			clientID: testutil.DemoClient1,
			username: testutil.DemoUser1,
			wantKind: KindInvalidScope,
		},
		{
			name:     "scope outside supported set",
			raw:      "unknownscope",
			clientID: testutil.DemoClient3,
			username: testutil.DemoUser3,
			wantKind: KindInvalidScope,
		},
		{
			name:     "no standing authorization",
			raw:      "demoscope1",
			clientID: testutil.DemoClient4,
			username: testutil.DemoUser1,
			wantKind: KindInvalidScope,
		},
		{
			name:     "malformed scope",
			raw:      `demo"scope`,
			clientID: testutil.DemoClient1,
			username: testutil.DemoUser1,
			wantKind: KindInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.Resolve(context.Background(), tt.raw, tt.clientID, tt.username)
			if tt.wantKind != 0 {
				if e := Classify(err); e == nil || e.Kind != tt.wantKind {
					t.Fatalf("Resolve() error = %v, want %v", err, tt.wantKind)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("Resolve() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScopeResolver_ResultIsSubsetOfSupported(t *testing.T) {
	store := testutil.NewSeededStore(t)
	resolver := NewScopeResolver(store, store)
	supported, _ := store.ListScopes(context.Background())

	requests := []string{
		"demoscope1",
		"demoscope1 demoscope2",
		"demoscope3 demoscope2 demoscope1",
		"demoscope1 demoscope4",
		"other",
	}

	for _, raw := range requests {
		got, err := resolver.Resolve(context.Background(), raw, testutil.DemoClient3, testutil.DemoUser3)
		if err != nil {
			continue
		}
		for _, s := range got {
			if !slices.Contains(supported, s) {
				t.Errorf("Resolve(%q) returned unsupported scope %q", raw, s)
			}
		}
	}
}

func TestScopeResolver_StorageFailure(t *testing.T) {
	store := mock.New(testutil.NewSeededStore(t))
	store.ListScopesFunc = func(ctx context.Context) ([]string, error) {
		return nil, errors.New("connection reset")
	}
	resolver := NewScopeResolver(store, store)

	_, err := resolver.Resolve(context.Background(), "demoscope1", testutil.DemoClient1, testutil.DemoUser1)
	if e := Classify(err); e.Kind != KindServerError {
		t.Errorf("Resolve() error kind = %v, want server_error", e.Kind)
	}
}

func TestScopeResolver_ResolveSupported(t *testing.T) {
	store := testutil.NewSeededStore(t)
	resolver := NewScopeResolver(store, store)

	// democlient2 has no client consent but every supported scope is allowed.
	got, err := resolver.ResolveSupported(context.Background(), "demoscope3 demoscope1")
	if err != nil {
		t.Fatalf("ResolveSupported() error = %v", err)
	}
	if !slices.Equal(got, []string{"demoscope3", "demoscope1"}) {
		t.Errorf("ResolveSupported() = %v", got)
	}

	if _, err := resolver.ResolveSupported(context.Background(), "unknown"); Classify(err).Kind != KindInvalidScope {
		t.Errorf("ResolveSupported(unknown) error = %v, want invalid_scope", err)
	}
}

func TestResolveWithin(t *testing.T) {
	original := []string{"demoscope1", "demoscope2"}

	got, err := ResolveWithin("demoscope2", original)
	if err != nil || !slices.Equal(got, []string{"demoscope2"}) {
		t.Errorf("ResolveWithin() = %v, %v", got, err)
	}

	if _, err := ResolveWithin("demoscope3", original); Classify(err).Kind != KindInvalidScope {
		t.Errorf("ResolveWithin() error = %v, want invalid_scope", err)
	}

	if got, err := ResolveWithin("", original); got != nil || err != nil {
		t.Errorf("ResolveWithin(\"\") = %v, %v, want nil, nil", got, err)
	}
}
