package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/kozaktomas/face-sorter/internal/database"
	"github.com/kozaktomas/face-sorter/internal/database/storetest"
)

func TestMockStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) database.Store {
		return NewMockStore()
	})
}

func TestErrorInjection(t *testing.T) {
	m := NewMockStore()
	injected := errors.New("boom")
	m.LookupError = injected

	if _, _, err := m.LookupImageForPath(context.Background(), 1, "h"); !errors.Is(err, injected) {
		t.Errorf("expected injected error, got %v", err)
	}
	if got := m.Calls("LookupImageForPath"); got != 1 {
		t.Errorf("expected 1 call, got %d", got)
	}
}
