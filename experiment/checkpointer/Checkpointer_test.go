package checkpointer

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	want := []byte{1, 2, 3, 4}
	if err := store.Save(ctx, "agent.bin", want); err != nil {
		t.Fatal(err)
	}
	have, err := store.Load(ctx, "agent.bin")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(want, have) {
		t.Errorf("load: \n\twant(%v) \n\thave(%v)", want, have)
	}

	// Overwrite
	want = []byte{9}
	if err := store.Save(ctx, "agent.bin", want); err != nil {
		t.Fatal(err)
	}
	have, _ = store.Load(ctx, "agent.bin")
	if !bytes.Equal(want, have) {
		t.Errorf("load after overwrite: \n\twant(%v) \n\thave(%v)", want,
			have)
	}
}

func TestFileStoreNotFound(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	_, err = store.Load(context.Background(), "missing")
	if !IsNotFound(err) {
		t.Errorf("load: \n\twant(%v) \n\thave(%v)", ErrNotFound, err)
	}
}

func TestFileStoreCancelled(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Save(ctx, "agent.bin", []byte{1}); err == nil {
		t.Error("save: expected error on cancelled context")
	}
	if _, err := store.Load(context.Background(), "agent.bin"); !IsNotFound(err) {
		t.Errorf("load: \n\twant(%v) \n\thave(%v)", ErrNotFound, err)
	}
}

func TestRedisStoreUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	store := NewRedisStore(client, "flappydqn:", 0)

	ctx := context.Background()
	if err := store.Save(ctx, "agent", []byte{1}); err == nil {
		t.Error("save: expected error for unreachable server")
	}
	_, err := store.Load(ctx, "agent")
	if err == nil || IsNotFound(err) {
		t.Errorf("load: expected connection error, have(%v)", err)
	}
}

func TestNEpisode(t *testing.T) {
	schedule := NewNEpisode(3, FilenameEnumerator(0, "agent", ".bin"))

	var names []string
	for episode := 0; episode <= 9; episode++ {
		if name, ok := schedule.Due(episode); ok {
			names = append(names, name)
		}
	}

	want := "agent1.bin agent2.bin agent3.bin"
	if have := strings.Join(names, " "); have != want {
		t.Errorf("due: \n\twant(%v) \n\thave(%v)", want, have)
	}

	if _, ok := NewNEpisode(0, Fixed("x")).Due(5); ok {
		t.Error("due: zero interval schedule was due")
	}
}

func TestFileTimer(t *testing.T) {
	name := FileTimer("agent", ".bin")()
	if !strings.HasPrefix(name, "agent-") || !strings.HasSuffix(name, ".bin") {
		t.Errorf("filetimer: unexpected name %v", name)
	}
}
