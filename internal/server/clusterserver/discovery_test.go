package clusterserver

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/memberlist"

	"github.com/yndnr/segmesh-go/internal/core/domain"
)

func newTestDiscovery(t *testing.T, name string, id domain.ServerID, role Role, seeds ...string) *Discovery {
	t.Helper()
	d, err := NewDiscovery(DiscoveryConfig{
		NodeID:    name,
		BindAddr:  "127.0.0.1",
		BindPort:  0,
		RaftAddr:  "127.0.0.1:7000",
		ServerID:  id,
		Role:      role,
		SeedNodes: seeds,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewDiscovery(%s) failed: %v", name, err)
	}
	t.Cleanup(func() { d.Shutdown() })
	return d
}

func TestNewDiscovery(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		d := newTestDiscovery(t, "cseg-1", 1, RoleCSEG)

		local := d.LocalNode()
		if local.Name != "cseg-1" {
			t.Errorf("Name = %q", local.Name)
		}
		if local.ServerID != 1 || local.Role != RoleCSEG || local.RaftAddr != "127.0.0.1:7000" {
			t.Errorf("metadata not advertised: %+v", local)
		}
		if local.GossipAddr != d.GossipAddr() {
			t.Errorf("GossipAddr = %q, local %q", d.GossipAddr(), local.GossipAddr)
		}
	})

	t.Run("DefaultRole", func(t *testing.T) {
		d, err := NewDiscovery(DiscoveryConfig{NodeID: "n", BindAddr: "127.0.0.1"})
		if err != nil {
			t.Fatalf("NewDiscovery failed: %v", err)
		}
		defer d.Shutdown()
		if d.LocalNode().Role != RoleCSEG {
			t.Errorf("Role = %q, want cseg", d.LocalNode().Role)
		}
	})

	t.Run("UnreachableSeed", func(t *testing.T) {
		_, err := NewDiscovery(DiscoveryConfig{
			NodeID:    "lonely",
			BindAddr:  "127.0.0.1",
			SeedNodes: []string{"127.0.0.1:1"},
			Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		})
		if err == nil {
			t.Error("expected join error")
		}
	})
}

type memberRecorder struct {
	mu     sync.Mutex
	joined []Member
	left   []Member
}

func (r *memberRecorder) join(m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joined = append(r.joined, m)
}

func (r *memberRecorder) leave(m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.left = append(r.left, m)
}

func (r *memberRecorder) find(name string, left bool) (Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.joined
	if left {
		list = r.left
	}
	for _, m := range list {
		if m.Name == name {
			return m, true
		}
	}
	return Member{}, false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestDiscovery_Callbacks(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping gossip test in short mode")
	}
	seed := newTestDiscovery(t, "cseg-1", 1, RoleCSEG)

	rec := &memberRecorder{}
	seed.OnJoin(rec.join)
	seed.OnLeave(rec.leave)

	// Registration replays the members already present.
	if _, ok := rec.find("cseg-1", false); !ok {
		t.Fatal("local member not replayed")
	}

	space := newTestDiscovery(t, "space-7", 7, RoleSpace, seed.GossipAddr())

	waitFor(t, "join event", func() bool {
		_, ok := rec.find("space-7", false)
		return ok
	})
	m, _ := rec.find("space-7", false)
	if m.ServerID != 7 || m.Role != RoleSpace {
		t.Errorf("joined member = %+v", m)
	}

	if got := len(seed.Members()); got != 2 {
		t.Errorf("Members = %d, want 2", got)
	}

	if err := space.Leave(); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	space.Shutdown()

	waitFor(t, "leave event", func() bool {
		_, ok := rec.find("space-7", true)
		return ok
	})
}

func TestDiscovery_Shutdown(t *testing.T) {
	d := newTestDiscovery(t, "n", 1, RoleCSEG)
	if err := d.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	// A second shutdown is a no-op.
	if err := d.Shutdown(); err != nil {
		t.Errorf("second Shutdown failed: %v", err)
	}
}

func TestToMember(t *testing.T) {
	meta, _ := json.Marshal(nodeMetadata{RaftAddr: "10.0.0.1:7000", ServerID: 3, Role: RoleSpace})

	tests := []struct {
		name string
		node *memberlist.Node
		want Member
	}{
		{
			name: "WithMetadata",
			node: &memberlist.Node{Name: "a", Addr: []byte{10, 0, 0, 1}, Port: 7946, Meta: meta},
			want: Member{Name: "a", GossipAddr: "10.0.0.1:7946", RaftAddr: "10.0.0.1:7000", ServerID: 3, Role: RoleSpace},
		},
		{
			name: "NoMetadata",
			node: &memberlist.Node{Name: "b", Addr: []byte{10, 0, 0, 2}, Port: 7946},
			want: Member{Name: "b", GossipAddr: "10.0.0.2:7946"},
		},
		{
			name: "CorruptMetadata",
			node: &memberlist.Node{Name: "c", Addr: []byte{10, 0, 0, 3}, Port: 1, Meta: []byte("{")},
			want: Member{Name: "c", GossipAddr: "10.0.0.3:1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toMember(tt.node); got != tt.want {
				t.Errorf("toMember = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestMetadataDelegate(t *testing.T) {
	d := &metadataDelegate{meta: []byte(`{"server_id":1}`)}

	if got := d.NodeMeta(512); string(got) != `{"server_id":1}` {
		t.Errorf("NodeMeta = %q", got)
	}
	if got := d.NodeMeta(4); got != nil {
		t.Errorf("NodeMeta over limit = %q, want nil", got)
	}
	if d.GetBroadcasts(0, 100) != nil || d.LocalState(true) != nil {
		t.Error("delegate should carry no state")
	}
}

func TestSlogWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &slogWriter{logger: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}

	n, err := w.Write([]byte("[DEBUG] memberlist: probe\n"))
	if err != nil || n != 26 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if !strings.Contains(buf.String(), "memberlist: probe") {
		t.Errorf("output %q", buf.String())
	}
	if strings.Contains(buf.String(), `probe\n`) {
		t.Error("trailing newline kept")
	}
}
