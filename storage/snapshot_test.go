package storage

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"board-sync/domain"
	"board-sync/remote"
)

func newCache(t *testing.T, ttl time.Duration) (*SnapshotCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger, _ := test.NewNullLogger()
	return NewSnapshotCache(client, ttl, logger), mr
}

func TestSnapshotCacheMissThenHit(t *testing.T) {
	cache, mr := newCache(t, time.Minute)
	ctx := context.Background()

	if _, ok := cache.Load(ctx, "main"); ok {
		t.Fatalf("expected miss on empty cache")
	}

	pos := 2
	snap := domain.Snapshot{
		Lanes: []domain.Lane{{ID: "1", Name: "Backend", Position: 0, Collapsed: true, TasksLoaded: true}},
		Tasks: []domain.Task{{ID: "7", Name: "ship", Status: domain.StatusInProgress, LaneID: "1", Position: &pos, Tags: []string{"x"}}},
	}
	if err := cache.Save(ctx, "main", snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ttl := mr.TTL(snapshotKey("main")); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	data, ok := cache.Load(ctx, "main")
	if !ok {
		t.Fatalf("expected hit after save")
	}
	got, err := remote.DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("decode cached payload: %v", err)
	}
	if len(got.Lanes) != 1 || got.Lanes[0].Name != "Backend" || got.Lanes[0].Collapsed {
		t.Fatalf("unexpected cached lanes: %#v", got.Lanes)
	}
	if len(got.Tasks) != 1 || got.Tasks[0].ID != "7" || got.Tasks[0].LaneID != "1" {
		t.Fatalf("unexpected cached tasks: %#v", got.Tasks)
	}
	if p := got.Tasks[0].Position; p == nil || *p != 2 {
		t.Fatalf("cached position lost: %v", p)
	}
}

func TestSnapshotCacheEvictsUnreadableEntry(t *testing.T) {
	cache, mr := newCache(t, time.Minute)
	if err := mr.Set(snapshotKey("main"), `{"lanes": [`); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, ok := cache.Load(context.Background(), "main"); ok {
		t.Fatalf("expected corrupt entry to miss")
	}
	if mr.Exists(snapshotKey("main")) {
		t.Fatalf("corrupt entry should be evicted")
	}
}

func TestSnapshotCacheZeroTTLDisablesWrites(t *testing.T) {
	cache, mr := newCache(t, 0)
	if err := cache.Save(context.Background(), "main", domain.Snapshot{}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if mr.Exists(snapshotKey("main")) {
		t.Fatalf("nothing should be written with a zero TTL")
	}
}

func TestSnapshotCacheEvict(t *testing.T) {
	cache, mr := newCache(t, time.Minute)
	ctx := context.Background()
	if err := cache.Save(ctx, "main", domain.Snapshot{Lanes: []domain.Lane{{ID: "1", Name: "a"}}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := cache.Evict(ctx, "main"); err != nil {
		t.Fatalf("evict: %v", err)
	}
	if mr.Exists(snapshotKey("main")) {
		t.Fatalf("entry should be gone")
	}
}

func TestNilClientDisablesCache(t *testing.T) {
	cache := NewSnapshotCache(nil, time.Minute, nil)
	ctx := context.Background()
	if err := cache.Save(ctx, "main", domain.Snapshot{}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok := cache.Load(ctx, "main"); ok {
		t.Fatalf("nil client should always miss")
	}
}

func TestRedisOptions(t *testing.T) {
	opts := RedisOptions("redis://:pw@localhost:6380/2")
	if opts.Addr != "localhost:6380" || opts.Password != "pw" || opts.DB != 2 {
		t.Fatalf("unexpected url options: %#v", opts)
	}

	opts = RedisOptions("cache.example.net:6380,password=secret,ssl=True,abortConnect=False")
	if opts.Addr != "cache.example.net:6380" || opts.Password != "secret" || opts.TLSConfig == nil {
		t.Fatalf("unexpected connection string options: %#v", opts)
	}

	opts = RedisOptions("localhost:6379, ssl=false, defaultDatabase=3")
	if opts.Addr != "localhost:6379" || opts.TLSConfig != nil || opts.DB != 3 {
		t.Fatalf("unexpected connection string options: %#v", opts)
	}

	if NewRedisClient("  ") != nil {
		t.Fatalf("empty connection string should yield no client")
	}
}

func TestSnapshotCacheLogsFailedEviction(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	logger, hook := test.NewNullLogger()
	cache := NewSnapshotCache(client, time.Minute, logger)

	mr.SetError("LOADING dataset in memory")
	if _, ok := cache.Load(context.Background(), "main"); ok {
		t.Fatalf("expected miss while redis fails")
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Message != "snapshot eviction failed" || entry.Data["board"] != "main" {
		t.Fatalf("eviction failure not logged: %#v", entry)
	}
}
