package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/walkin-queue/internal/config"
	"github.com/clinicdesk/walkin-queue/internal/db"
	"github.com/clinicdesk/walkin-queue/internal/queue"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	CheckInRatio float64
	AdvanceRatio float64
	ReadRatio    float64
	PostgresDSN  string
}

// DataPool holds the IDs the workers draw from. Scheduled appointments
// are handed out without removal so that two workers sometimes race to
// check in the same patient; the API must reject the loser with 409.
type DataPool struct {
	Doctors   []uuid.UUID
	Scheduled []uuid.UUID
	mu        sync.RWMutex
	waiting   []uuid.UUID
}

func (dp *DataPool) AddWaiting(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.waiting = append(dp.waiting, id)
}

func (dp *DataPool) RandomWaiting(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.waiting) == 0 {
		return uuid.Nil, false
	}
	return dp.waiting[rng.Intn(len(dp.waiting))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]

	p50Idx := len(latencies) * 50 / 100
	if p50Idx >= len(latencies) {
		p50Idx = len(latencies) - 1
	}
	p50 = latencies[p50Idx]

	p95Idx := len(latencies) * 95 / 100
	if p95Idx >= len(latencies) {
		p95Idx = len(latencies) - 1
	}
	p95 = latencies[p95Idx]

	return avg, min, max, p50, p95
}

type Metrics struct {
	CheckIn   OperationMetrics
	Advance   OperationMetrics
	ReadQueue OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	date    string
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d checkin=%.2f advance=%.2f read=%.2f",
		cfg.Duration, cfg.Workers, cfg.CheckInRatio, cfg.AdvanceRatio, cfg.ReadRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	today := time.Now().Format(queue.DateLayout)
	dataPool, err := loadDataPool(ctx, pgPool, today)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}

	log.Printf("loaded: %d doctors, %d scheduled appointments for %s",
		len(dataPool.Doctors), len(dataPool.Scheduled), today)

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		date: today,
	}

	sim.Run()
	sim.PrintReport()

	if err := sim.VerifyQueues(context.Background()); err != nil {
		log.Fatalf("queue verification failed: %v", err)
	}
	log.Println("all queues verified: positions dense, waits monotone")
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		CheckInRatio: getFloat("SIM_CHECKIN_RATIO", 0.5),
		AdvanceRatio: getFloat("SIM_ADVANCE_RATIO", 0.2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		PostgresDSN:  baseCfg.PostgresDSN,
	}

	total := cfg.CheckInRatio + cfg.AdvanceRatio + cfg.ReadRatio
	if total > 0 {
		cfg.CheckInRatio /= total
		cfg.AdvanceRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, date string) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `
		SELECT id FROM doctors
	`)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Doctors = append(dataPool.Doctors, id)
	}

	rows, err = pool.Query(ctx, `
		SELECT id FROM appointments
		WHERE date = $1 AND status = $2
	`, date, queue.StatusScheduled)
	if err != nil {
		return nil, fmt.Errorf("load scheduled appointments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Scheduled = append(dataPool.Scheduled, id)
	}

	if len(dataPool.Doctors) == 0 {
		return nil, fmt.Errorf("no doctors loaded, run the seeder first")
	}
	if len(dataPool.Scheduled) == 0 {
		return nil, fmt.Errorf("no scheduled appointments for %s, run the seeder first", date)
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.CheckInRatio:
				s.doCheckIn(ctx, rng)
			case r < s.config.CheckInRatio+s.config.AdvanceRatio:
				s.doAdvance(ctx, rng)
			default:
				s.doReadQueue(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doCheckIn(ctx context.Context, rng *rand.Rand) {
	apptID := s.pool.Scheduled[rng.Intn(len(s.pool.Scheduled))]

	start := time.Now()

	req, _ := http.NewRequestWithContext(ctx, "POST",
		fmt.Sprintf("%s/appointments/%s/check-in", s.config.APIBaseURL, apptID.String()), nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	conflict := false

	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			success = true
			s.pool.AddWaiting(apptID)
		} else if resp.StatusCode == http.StatusConflict {
			conflict = true
		}
	}

	s.metrics.CheckIn.Record(latency, success, conflict)
}

func (s *Simulator) doAdvance(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.RandomWaiting(rng)
	if !ok {
		return
	}

	start := time.Now()

	body := strings.NewReader(`{"status":"In Consultation"}`)
	req, _ := http.NewRequestWithContext(ctx, "POST",
		fmt.Sprintf("%s/appointments/%s/status", s.config.APIBaseURL, apptID.String()), body)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	conflict := false

	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			success = true
		} else if resp.StatusCode == http.StatusConflict {
			conflict = true
		}
	}

	s.metrics.Advance.Record(latency, success, conflict)
}

func (s *Simulator) doReadQueue(ctx context.Context, rng *rand.Rand) {
	doctorID := s.pool.Doctors[rng.Intn(len(s.pool.Doctors))]

	start := time.Now()

	req, _ := http.NewRequestWithContext(ctx, "GET",
		fmt.Sprintf("%s/queue?doctor_id=%s&date=%s", s.config.APIBaseURL, doctorID.String(), s.date), nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.ReadQueue.Record(latency, success, false)
}

// VerifyQueues fetches every doctor's queue after the run and checks the
// invariants the load cannot be allowed to break: positions dense 1..N
// and waiting times non-decreasing along the queue.
func (s *Simulator) VerifyQueues(ctx context.Context) error {
	type slot struct {
		Position    int `json:"queue_position"`
		WaitingTime int `json:"waiting_time"`
	}

	for _, doctorID := range s.pool.Doctors {
		req, _ := http.NewRequestWithContext(ctx, "GET",
			fmt.Sprintf("%s/queue?doctor_id=%s&date=%s", s.config.APIBaseURL, doctorID.String(), s.date), nil)

		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("fetch queue for %s: %w", doctorID, err)
		}

		bodyBytes, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("read queue for %s: %w", doctorID, err)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("fetch queue for %s: status %d", doctorID, resp.StatusCode)
		}

		var slots []slot
		if err := json.Unmarshal(bodyBytes, &slots); err != nil {
			return fmt.Errorf("decode queue for %s: %w", doctorID, err)
		}

		for i, sl := range slots {
			if sl.Position != i+1 {
				return fmt.Errorf("doctor %s: position %d at index %d, want %d",
					doctorID, sl.Position, i, i+1)
			}
			if i > 0 && sl.WaitingTime < slots[i-1].WaitingTime {
				return fmt.Errorf("doctor %s: waiting time decreases at position %d",
					doctorID, sl.Position)
			}
		}
	}

	return nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Check-in", &s.metrics.CheckIn)
	printOperationReport("Advance", &s.metrics.Advance)
	printOperationReport("Read Queue", &s.metrics.ReadQueue)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	errCount := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if errCount > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", errCount, float64(errCount)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
