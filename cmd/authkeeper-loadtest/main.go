package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Rare-Specie/authkeeper"
	"github.com/Rare-Specie/authkeeper/apiclient"
	"github.com/Rare-Specie/authkeeper/gatekeeper"
	"github.com/Rare-Specie/authkeeper/storage"
	"github.com/Rare-Specie/authkeeper/transport"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

var errNotAuthenticated = errors.New("session not authenticated")

func main() {
	var (
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 50000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "authkeeper-load", "storage key prefix")
	)
	flag.Parse()

	if *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "concurrency and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	backend := httptest.NewServer(fakeSchoolAPI())
	defer backend.Close()

	api, err := apiclient.New(backend.URL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "api client: %v\n", err)
		os.Exit(1)
	}
	ctrl, err := authkeeper.New().
		WithBackend(api).
		WithDurableStorage(storage.NewRedis(client, *prefix, 0)).
		WithSessionStorage(storage.NewRedis(client, *prefix+":session", time.Hour)).
		Build(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build controller: %v\n", err)
		os.Exit(1)
	}
	defer ctrl.Close()
	api.SetHTTPClient(transport.NewClient(ctrl, nil))

	if _, err := ctrl.Login(ctx, authkeeper.LoginRequest{Username: "load", Password: "pw", Role: authkeeper.RoleTeacher}); err != nil {
		fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
		os.Exit(1)
	}

	routes := gatekeeper.DefaultRoutes()
	targets := routes.Routes()
	gk := gatekeeper.ForController(ctrl)
	var failedOpen atomic.Int64

	validateStats := runPhase(*ops, *concurrency, func(_ *rand.Rand) error {
		if !ctrl.IsAuthenticated(ctx) {
			return errNotAuthenticated
		}
		return nil
	})
	navigateStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		d := gk.Decide(ctx, gatekeeper.Navigation{To: targets[r.Intn(len(targets))]})
		if d.FailedOpen {
			failedOpen.Add(1)
		}
		return nil
	})
	gk.Wait()
	persistStats := runPhase(*ops, *concurrency, func(_ *rand.Rand) error {
		if !ctrl.Store().Extend(ctx) {
			return errNotAuthenticated
		}
		return nil
	})

	fmt.Println("---- results ----")
	printStats("validate", validateStats)
	printStats("navigate", navigateStats)
	fmt.Printf("navigate: failed-open=%d\n", failedOpen.Load())
	printStats("persist", persistStats)
}

// fakeSchoolAPI accepts any login and serves a fixed profile.
func fakeSchoolAPI() http.Handler {
	profile := authkeeper.UserProfile{ID: "u-load", Username: "load", Role: authkeeper.RoleTeacher, Name: "Load Test"}
	r := chi.NewRouter()
	r.Post("/auth/login", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(authkeeper.LoginResponse{Token: "load-token", User: profile})
	})
	r.Post("/auth/logout", func(http.ResponseWriter, *http.Request) {})
	r.Get("/auth/verify", func(http.ResponseWriter, *http.Request) {})
	r.Get("/user/profile", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(profile)
	})
	return r
}

// runPhase runs op ops times across concurrency workers and collects
// per-call latencies.
func runPhase(ops, concurrency int, op func(r *rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    atomic.Int64
		failures  atomic.Int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			local := make([]time.Duration, 0, ops/concurrency+1)
			for cursor.Add(1) <= int64(ops) {
				t0 := time.Now()
				if err := op(r); err != nil {
					failures.Add(1)
				}
				local = append(local, time.Since(t0))
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures.Load())
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	switch {
	case len(samples) == 0:
		return 0
	case p <= 0:
		return samples[0]
	case p >= 100:
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
