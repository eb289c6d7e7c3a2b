// Command ringcheck asks every listed node for its membership view over the
// admin gRPC Inspector and reports whether the views agree.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ryandielhenn/ringd/pkg/admin"
	"github.com/ryandielhenn/ringd/pkg/gossip"
	"github.com/ryandielhenn/ringd/pkg/ring"
)

type result struct {
	addr string
	snap gossip.Snapshot
	err  error
}

func main() {
	addrs := flag.String("addrs", "localhost:9090", "comma-separated Inspector addresses")
	conc := flag.Int("c", 8, "concurrency")
	timeout := flag.Duration("timeout", 3*time.Second, "per-node timeout")
	flag.Parse()

	targets := splitAddrs(*addrs)
	results := make([]result, len(targets))
	wg := sync.WaitGroup{}
	start := time.Now()
	ch := make(chan int, max(*conc, 1))

	for i, addr := range targets {
		wg.Add(1)
		ch <- 1
		go func(i int, addr string) {
			defer wg.Done()
			snap, err := fetch(addr, *timeout)
			results[i] = result{addr: addr, snap: snap, err: err}
			<-ch
		}(i, addr)
	}
	wg.Wait()

	failed := 0
	var views [][]ring.NodeID
	for _, r := range results {
		if r.err != nil {
			failed++
			fmt.Printf("%-24s error: %v\n", r.addr, r.err)
			continue
		}
		online := r.snap.Online()
		views = append(views, online)
		fmt.Printf("%-24s id=%d phase=%s clock=%d online=%v pending=%d\n",
			r.addr, r.snap.PersistentID, r.snap.Phase, r.snap.Clock, online, r.snap.Pending.Len())
	}

	agree := converged(views)
	fmt.Printf("Polled %d nodes in %s (%d unreachable), converged=%t\n",
		len(targets), time.Since(start).Round(time.Millisecond), failed, agree)
	if failed > 0 || !agree {
		os.Exit(1)
	}
}

func splitAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func fetch(addr string, timeout time.Duration) (gossip.Snapshot, error) {
	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return gossip.Snapshot{}, err
	}
	defer cc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	st, err := admin.NewClient(cc).Snapshot(ctx)
	if err != nil {
		return gossip.Snapshot{}, err
	}
	return admin.FromStruct(st)
}

// converged reports whether every view lists the same ONLINE members in the
// same cyclic order.
func converged(views [][]ring.NodeID) bool {
	if len(views) == 0 {
		return false
	}
	want := canonical(views[0])
	for _, v := range views[1:] {
		if canonical(v) != want {
			return false
		}
	}
	return true
}

// canonical rotates a ring so that its smallest id comes first.
func canonical(ids []ring.NodeID) string {
	if len(ids) == 0 {
		return ""
	}
	sorted := append([]ring.NodeID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	start := 0
	for i, id := range ids {
		if id == sorted[0] {
			start = i
			break
		}
	}
	var b strings.Builder
	for k := range ids {
		fmt.Fprintf(&b, "%d,", ids[(start+k)%len(ids)])
	}
	return b.String()
}
