package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func testAPIKey(id, key, clientID string) *APIKey {
	return &APIKey{
		ID:          id,
		Key:         key,
		ClientID:    clientID,
		Name:        "Test Key " + id,
		Permissions: []string{"scans:read"},
		CreatedAt:   time.Now(),
		Active:      true,
	}
}

func TestInMemoryKeyStoreAddAndFind(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	store := NewInMemoryKeyStore()

	apiKey := testAPIKey("key-1", "ciwatch_ak_test1", "triage-dashboard")

	if err := store.Add(ctx, apiKey); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	found, ok := store.FindByKey(ctx, "ciwatch_ak_test1")
	if !ok {
		t.Fatal("FindByKey() did not find stored key")
	}

	if found.ID != "key-1" || found.ClientID != "triage-dashboard" {
		t.Errorf("FindByKey() = %+v, want ID key-1 for triage-dashboard", found)
	}

	if _, ok := store.FindByKey(ctx, "ciwatch_ak_missing"); ok {
		t.Error("FindByKey() found a key that was never added")
	}
}

func TestInMemoryKeyStoreAddErrors(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	store := NewInMemoryKeyStore()

	if err := store.Add(ctx, nil); !errors.Is(err, ErrKeyNil) {
		t.Errorf("Add(nil) = %v, want ErrKeyNil", err)
	}

	apiKey := testAPIKey("key-1", "ciwatch_ak_test1", "triage-dashboard")
	if err := store.Add(ctx, apiKey); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	// Same ID
	dup := testAPIKey("key-1", "ciwatch_ak_other", "triage-dashboard")
	if err := store.Add(ctx, dup); !errors.Is(err, ErrKeyAlreadyExists) {
		t.Errorf("Add() with duplicate ID = %v, want ErrKeyAlreadyExists", err)
	}

	// Same key string
	dup = testAPIKey("key-2", "ciwatch_ak_test1", "triage-dashboard")
	if err := store.Add(ctx, dup); !errors.Is(err, ErrKeyAlreadyExists) {
		t.Errorf("Add() with duplicate key string = %v, want ErrKeyAlreadyExists", err)
	}
}

func TestInMemoryKeyStoreUpdate(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	store := NewInMemoryKeyStore()

	apiKey := testAPIKey("key-1", "ciwatch_ak_test1", "triage-dashboard")
	if err := store.Add(ctx, apiKey); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	updated := testAPIKey("key-1", "ciwatch_ak_test1", "triage-dashboard")
	updated.Name = "Renamed Key"
	updated.Active = false

	if err := store.Update(ctx, updated); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	found, ok := store.FindByKey(ctx, "ciwatch_ak_test1")
	if !ok {
		t.Fatal("FindByKey() did not find updated key")
	}

	if found.Name != "Renamed Key" || found.Active {
		t.Errorf("Update() not applied, got %+v", found)
	}

	t.Run("nonexistent key", func(t *testing.T) {
		missing := testAPIKey("key-404", "ciwatch_ak_missing", "triage-dashboard")
		if err := store.Update(ctx, missing); !errors.Is(err, ErrKeyNotFound) {
			t.Errorf("Update() = %v, want ErrKeyNotFound", err)
		}
	})

	t.Run("nil key", func(t *testing.T) {
		if err := store.Update(ctx, nil); !errors.Is(err, ErrKeyNil) {
			t.Errorf("Update(nil) = %v, want ErrKeyNil", err)
		}
	})

	t.Run("key rotation removes old key string", func(t *testing.T) {
		rotated := testAPIKey("key-1", "ciwatch_ak_rotated", "triage-dashboard")
		if err := store.Update(ctx, rotated); err != nil {
			t.Fatalf("Update() error: %v", err)
		}

		if _, ok := store.FindByKey(ctx, "ciwatch_ak_test1"); ok {
			t.Error("FindByKey() still resolves the pre-rotation key string")
		}

		if _, ok := store.FindByKey(ctx, "ciwatch_ak_rotated"); !ok {
			t.Error("FindByKey() does not resolve the rotated key string")
		}
	})
}

func TestInMemoryKeyStoreDelete(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	store := NewInMemoryKeyStore()

	apiKey := testAPIKey("key-1", "ciwatch_ak_test1", "triage-dashboard")
	if err := store.Add(ctx, apiKey); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	if err := store.Delete(ctx, "key-1"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}

	if _, ok := store.FindByKey(ctx, "ciwatch_ak_test1"); ok {
		t.Error("FindByKey() found key after Delete()")
	}

	keys, err := store.ListByClient(ctx, "triage-dashboard")
	if err != nil {
		t.Fatalf("ListByClient() error: %v", err)
	}

	if len(keys) != 0 {
		t.Errorf("ListByClient() after delete = %d keys, want 0", len(keys))
	}

	if err := store.Delete(ctx, "key-1"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Delete() on missing key = %v, want ErrKeyNotFound", err)
	}
}

func TestInMemoryKeyStoreListByClient(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	store := NewInMemoryKeyStore()

	for i := range 3 {
		apiKey := testAPIKey(
			fmt.Sprintf("dash-key-%d", i),
			fmt.Sprintf("ciwatch_ak_dash%d", i),
			"triage-dashboard",
		)
		if err := store.Add(ctx, apiKey); err != nil {
			t.Fatalf("Add() error: %v", err)
		}
	}

	botKey := testAPIKey("bot-key-1", "ciwatch_ak_bot1", "standup-bot")
	if err := store.Add(ctx, botKey); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	dashKeys, err := store.ListByClient(ctx, "triage-dashboard")
	if err != nil {
		t.Fatalf("ListByClient() error: %v", err)
	}

	if len(dashKeys) != 3 {
		t.Errorf("ListByClient(triage-dashboard) = %d keys, want 3", len(dashKeys))
	}

	botKeys, err := store.ListByClient(ctx, "standup-bot")
	if err != nil {
		t.Fatalf("ListByClient() error: %v", err)
	}

	if len(botKeys) != 1 {
		t.Errorf("ListByClient(standup-bot) = %d keys, want 1", len(botKeys))
	}

	noKeys, err := store.ListByClient(ctx, "unknown-client")
	if err != nil {
		t.Fatalf("ListByClient() error: %v", err)
	}

	if len(noKeys) != 0 {
		t.Errorf("ListByClient(unknown-client) = %d keys, want 0", len(noKeys))
	}
}

func TestInMemoryKeyStoreReturnsCopies(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	store := NewInMemoryKeyStore()

	apiKey := testAPIKey("key-1", "ciwatch_ak_test1", "triage-dashboard")
	if err := store.Add(ctx, apiKey); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	found, _ := store.FindByKey(ctx, "ciwatch_ak_test1")
	found.Active = false
	found.Name = "mutated"

	again, _ := store.FindByKey(ctx, "ciwatch_ak_test1")
	if !again.Active || again.Name == "mutated" {
		t.Error("mutating a returned key leaked into the store")
	}
}

func TestInMemoryKeyStoreConcurrentAccess(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx := context.Background()
	store := NewInMemoryKeyStore()

	const workers = 10

	var wg sync.WaitGroup

	for i := range workers {
		wg.Add(1)

		go func(n int) {
			defer wg.Done()

			apiKey := testAPIKey(
				fmt.Sprintf("key-%d", n),
				fmt.Sprintf("ciwatch_ak_concurrent%d", n),
				"load-test",
			)
			if err := store.Add(ctx, apiKey); err != nil {
				t.Errorf("Add() error: %v", err)

				return
			}

			if _, ok := store.FindByKey(ctx, apiKey.Key); !ok {
				t.Errorf("FindByKey(%q) missed key just added", apiKey.Key)
			}
		}(i)
	}

	wg.Wait()

	keys, err := store.ListByClient(ctx, "load-test")
	if err != nil {
		t.Fatalf("ListByClient() error: %v", err)
	}

	if len(keys) != workers {
		t.Errorf("ListByClient() = %d keys, want %d", len(keys), workers)
	}
}
