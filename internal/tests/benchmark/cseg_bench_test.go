package benchmark

import (
	"testing"

	"github.com/yndnr/segmesh-go/internal/cseg"
)

func BenchmarkCSeg_Lookup(b *testing.B) {
	pts := randomPoints(4096)
	for _, n := range LeafCounts {
		snap := buildTree(b, n)
		b.Run(leavesName(n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := snap.Lookup(pts[i&4095]); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkCSeg_ReplicaLookupParallel(b *testing.B) {
	pts := randomPoints(4096)
	replica := cseg.NewReplica(cseg.NewTree(buildTree(b, 1024)), quietLogger())

	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if _, err := replica.Tree().Snapshot().Lookup(pts[i&4095]); err != nil {
				b.Error(err)
				return
			}
			i++
		}
	})
}

func BenchmarkCSeg_RecordSample(b *testing.B) {
	snap := buildTree(b, 64)
	replica := cseg.NewReplica(cseg.NewTree(snap), quietLogger())
	cfg := cseg.DefaultConfig()
	cfg.Logger = quietLogger()
	r := cseg.NewRebalancer(cfg, replica, cseg.NewLocalPublisher(replica), cseg.NoopHandoff{})
	defer r.Close()

	pts := randomPoints(4096)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := r.RecordSample(pts[i&4095], 1); err != nil {
			b.Fatal(err)
		}
	}
}
