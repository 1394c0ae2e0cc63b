package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nightdose/nightdose/internal/biz/domain"
	"github.com/nightdose/nightdose/internal/biz/repo"
	"github.com/nightdose/nightdose/internal/biz/usecase"
	"github.com/nightdose/nightdose/internal/data"
)

func newTestOutbox(t *testing.T) repo.OutboxRepo {
	t.Helper()
	db, err := data.OpenDB(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	outbox, err := data.NewOutboxRepo(db)
	if err != nil {
		t.Fatalf("NewOutboxRepo failed: %v", err)
	}
	return outbox
}

func TestSyncScheduler_DeliversQueuedTasks(t *testing.T) {
	var mu sync.Mutex
	keys := make(map[string]int)
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys[r.Header.Get("Idempotency-Key")]++
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer remote.Close()

	outbox := newTestOutbox(t)
	backoff := domain.BackoffConfig{Base: 2, MaxDelay: time.Second, MaxAttempts: 3}
	queue := usecase.NewRetryQueue(outbox, data.NewRemoteRepo(remote.URL), backoff, domain.SystemClock{}, 8)

	scheduler := NewSyncScheduler(queue, 10*time.Millisecond)
	scheduler.Start()

	for seq := int64(1); seq <= 3; seq++ {
		queue.Enqueue(&domain.SyncTask{
			ID:             domain.IdempotencyKey("s1", seq),
			SessionID:      "s1",
			IdempotencyKey: domain.IdempotencyKey("s1", seq),
			Payload:        []byte(`{}`),
		})
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		delivered, _ := outbox.ListByStatus(context.Background(), domain.SyncDelivered, 10)
		if len(delivered) == 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	scheduler.Stop()

	delivered, err := outbox.ListByStatus(context.Background(), domain.SyncDelivered, 10)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(delivered) != 3 {
		t.Fatalf("Expected 3 delivered tasks, got %d", len(delivered))
	}

	mu.Lock()
	defer mu.Unlock()
	for key, n := range keys {
		if n != 1 {
			t.Errorf("Key %s submitted %d times", key, n)
		}
	}
}

func TestSyncScheduler_StopPersistsIntake(t *testing.T) {
	outbox := newTestOutbox(t)
	backoff := domain.DefaultBackoffConfig()
	queue := usecase.NewRetryQueue(outbox, data.NewRemoteRepo("http://127.0.0.1:1"), backoff, domain.SystemClock{}, 8)

	// Never started, so tasks sit in the intake until Stop drains them
	scheduler := NewSyncScheduler(queue, time.Hour)
	queue.Enqueue(&domain.SyncTask{
		ID:             "t1",
		SessionID:      "s1",
		IdempotencyKey: domain.IdempotencyKey("s1", 1),
		Payload:        []byte(`{}`),
	})
	scheduler.Stop()

	pending, err := outbox.ListByStatus(context.Background(), domain.SyncPending, 10)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("Expected 1 pending task after stop, got %d", len(pending))
	}
}
