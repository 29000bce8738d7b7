// cmd/mczdemo/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/momentumcache/mcz"
	"github.com/momentumcache/mcz/internal/admin"
)

const Version = "0.1.0"

// memItem is a toy in-memory stand-in for a host cache's stored item:
// just enough state for mcz.Item plus the raw bytes themselves.
type memItem struct {
	compressed bool
	dictID     uint16
	data       []byte
}

func (i *memItem) Compressed() bool     { return i.compressed }
func (i *memItem) SetCompressed(v bool) { i.compressed = v }
func (i *memItem) Chunked() bool        { return false }
func (i *memItem) DictID() uint16       { return i.dictID }
func (i *memItem) SetDictID(id uint16)  { i.dictID = id }

// store is a toy key/value cache wired to an Engine: every Set runs
// through MaybeCompress, every Get through MaybeDecompress.
type store struct {
	mu     sync.RWMutex
	items  map[string]*memItem
	engine *mcz.Engine
}

func newStore(e *mcz.Engine) *store {
	return &store{items: make(map[string]*memItem), engine: e}
}

func (s *store) Set(ctx context.Context, workerID int, key string, value []byte) {
	status, out, dictID := s.engine.MaybeCompress(ctx, workerID, key, value)

	item := &memItem{}
	switch status {
	case mcz.StatusStored:
		item.compressed = true
		item.dictID = dictID
		item.data = append([]byte(nil), out...)
	default:
		item.data = append([]byte(nil), value...)
	}

	s.mu.Lock()
	s.items[key] = item
	s.mu.Unlock()
}

func (s *store) Get(ctx context.Context, workerID int, key string) ([]byte, error) {
	s.mu.RLock()
	item, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("key %q not found", key)
	}

	status, out, err := s.engine.MaybeDecompress(ctx, workerID, key, item, item.data)
	if err != nil {
		return nil, err
	}
	if status == mcz.StatusNoOp {
		return item.data, nil
	}
	return out, nil
}

func main() {
	runtime.GOMAXPROCS(runtime.NumCPU())

	fmt.Printf("mcz demo v%s\n", Version)
	fmt.Printf("cpus=%d gomaxprocs=%d\n", runtime.NumCPU(), runtime.GOMAXPROCS(0))

	dictDir, err := os.MkdirTemp("", "mczdemo-dicts-")
	if err != nil {
		log.Fatalf("create dict dir: %v", err)
	}
	defer os.RemoveAll(dictDir)

	cfg := mcz.DefaultConfig()
	cfg.DictDir = dictDir
	cfg.MinTrainingSize = 256 * 1024
	cfg.DictSize = 32 * 1024
	cfg.RetrainingIntervalS = 1
	cfg.WorkerCount = runtime.NumCPU()

	engine, err := mcz.New(cfg)
	if err != nil {
		log.Fatalf("build engine: %v", err)
	}

	s := newStore(engine)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("warming the cache with synthetic feed payloads...")
	seedTraffic(ctx, s)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nshutdown signal received")
	case <-time.After(5 * time.Second):
		fmt.Println("\ndemo window elapsed")
	}

	printAdmin(engine)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := engine.Shutdown(shutdownCtx); err != nil {
		log.Printf("engine shutdown error: %v", err)
	}
	fmt.Println("engine stopped")
}

// seedTraffic writes a batch of repetitive, compressible payloads across
// a couple of synthetic namespaces, then reads every key back to
// exercise the decompress path too.
func seedTraffic(ctx context.Context, s *store) {
	prefixes := []string{"feed:", "profile:"}
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 512; i++ {
		prefix := prefixes[i%len(prefixes)]
		key := fmt.Sprintf("%s%d", prefix, i)
		value := []byte(fmt.Sprintf(
			"{\"id\":%d,\"kind\":%q,\"payload\":\"the quick brown fox jumps over the lazy dog %d\"}",
			i, prefix, rng.Intn(1000)))
		s.Set(ctx, i%4, key, value)
	}

	var misses int
	for i := 0; i < 512; i++ {
		prefix := prefixes[i%len(prefixes)]
		key := fmt.Sprintf("%s%d", prefix, i)
		if _, err := s.Get(ctx, i%4, key); err != nil {
			misses++
		}
	}
	fmt.Printf("seeded 512 keys, %d read errors\n", misses)
}

func printAdmin(e *mcz.Engine) {
	namespaces := e.Stats().List()
	out, _ := admin.RenderNamespaces(namespaces, admin.FormatText)
	fmt.Print("\nnamespaces:\n", string(out))

	snaps := e.AllSnapshots()
	statsOut, _ := admin.RenderStats(snaps, admin.FormatText)
	fmt.Print("\nstats:\n", string(statsOut))

	cfgOut, _ := admin.RenderConfig(e.Config(), admin.FormatText)
	fmt.Print("\nconfig:\n", string(cfgOut))
}
