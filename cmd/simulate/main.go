package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
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

	"github.com/aflahtk001/hospital-booking-system/internal/api"
	"github.com/aflahtk001/hospital-booking-system/internal/config"
	"github.com/aflahtk001/hospital-booking-system/internal/db"
)

type SimConfig struct {
	APIBaseURL     string
	Duration       time.Duration
	Workers        int
	ApproveRatio   float64
	CallNextRatio  float64
	SkipRatio      float64
	EmergencyRatio float64
	DoctorLimit    int
	PostgresDSN    string
	JWTSecret      string
}

type pendingAppointment struct {
	ID       uuid.UUID
	DoctorID uuid.UUID
}

// DataPool holds the doctors under load and the pending appointments still
// awaiting a decision. Approvals pop from the pending list so each
// appointment is only decided once.
type DataPool struct {
	Doctors []uuid.UUID

	mu      sync.Mutex
	pending []pendingAppointment
	tokens  map[uuid.UUID]string
}

func (dp *DataPool) PopPending(rng *rand.Rand) (pendingAppointment, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.pending) == 0 {
		return pendingAppointment{}, false
	}
	idx := rng.Intn(len(dp.pending))
	appt := dp.pending[idx]
	dp.pending[idx] = dp.pending[len(dp.pending)-1]
	dp.pending = dp.pending[:len(dp.pending)-1]
	return appt, true
}

func (dp *DataPool) RandomDoctor(rng *rand.Rand) uuid.UUID {
	return dp.Doctors[rng.Intn(len(dp.Doctors))]
}

func (dp *DataPool) Token(doctorID uuid.UUID) string {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	return dp.tokens[doctorID]
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
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
	Approve   OperationMetrics
	CallNext  OperationMetrics
	Skip      OperationMetrics
	Emergency OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d approve=%.2f callnext=%.2f skip=%.2f emergency=%.2f",
		cfg.Duration, cfg.Workers, cfg.ApproveRatio, cfg.CallNextRatio, cfg.SkipRatio, cfg.EmergencyRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}

	log.Printf("loaded: %d doctors, %d pending appointments", len(dataPool.Doctors), len(dataPool.pending))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	sim.Run()
	sim.PrintReport()

	verifyCtx, cancelVerify := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelVerify()
	if err := verifyInvariants(verifyCtx, pgPool); err != nil {
		log.Fatalf("invariant check failed: %v", err)
	}
	log.Println("invariant checks passed")
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:     getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:       getDurationEnv("SIM_DURATION", 30*time.Second),
		Workers:        getIntEnv("SIM_WORKERS", 10),
		ApproveRatio:   getFloatEnv("SIM_APPROVE_RATIO", 0.5),
		CallNextRatio:  getFloatEnv("SIM_CALLNEXT_RATIO", 0.3),
		SkipRatio:      getFloatEnv("SIM_SKIP_RATIO", 0.1),
		EmergencyRatio: getFloatEnv("SIM_EMERGENCY_RATIO", 0.1),
		DoctorLimit:    getIntEnv("SIM_DOCTOR_LIMIT", 25),
		PostgresDSN:    baseCfg.PostgresDSN,
		JWTSecret:      baseCfg.JWTSecret,
	}

	// Normalize ratios
	total := cfg.ApproveRatio + cfg.CallNextRatio + cfg.SkipRatio + cfg.EmergencyRatio
	if total > 0 {
		cfg.ApproveRatio /= total
		cfg.CallNextRatio /= total
		cfg.SkipRatio /= total
		cfg.EmergencyRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{tokens: make(map[uuid.UUID]string)}

	rows, err := pool.Query(ctx, `
		SELECT id FROM doctors LIMIT $1
	`, cfg.DoctorLimit)
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
	if len(dataPool.Doctors) == 0 {
		return nil, fmt.Errorf("no doctors loaded, run the seed binary first")
	}

	// One signed token per doctor under load, minted up front.
	for _, id := range dataPool.Doctors {
		token, err := api.SignToken(cfg.JWTSecret, id, api.RoleDoctor, cfg.Duration+time.Hour)
		if err != nil {
			return nil, fmt.Errorf("sign token: %w", err)
		}
		dataPool.tokens[id] = token
	}

	rows, err = pool.Query(ctx, `
		SELECT id, doctor_id FROM appointments
		WHERE queue_status = 'Pending' AND service_date = CURRENT_DATE
	`)
	if err != nil {
		return nil, fmt.Errorf("load pending appointments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var appt pendingAppointment
		if err := rows.Scan(&appt.ID, &appt.DoctorID); err != nil {
			return nil, err
		}
		dataPool.pending = append(dataPool.pending, appt)
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
			case r < s.config.ApproveRatio:
				s.doApprove(ctx, rng)
			case r < s.config.ApproveRatio+s.config.CallNextRatio:
				s.doCallNext(ctx, rng)
			case r < s.config.ApproveRatio+s.config.CallNextRatio+s.config.SkipRatio:
				s.doSkip(ctx, rng)
			default:
				s.doEmergency(ctx, rng)
			}
		}
	}
}

func (s *Simulator) do(ctx context.Context, method, url string, doctorID uuid.UUID, body any) (int, time.Duration) {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, time.Since(start)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.pool.Token(doctorID))

	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency
	}
	defer resp.Body.Close()

	return resp.StatusCode, latency
}

func (s *Simulator) doApprove(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.PopPending(rng)
	if !ok {
		// Pending supply exhausted, keep the queue moving instead.
		s.doCallNext(ctx, rng)
		return
	}

	url := fmt.Sprintf("%s/api/doctor/appointments/%s/decision", s.config.APIBaseURL, appt.ID)
	status, latency := s.do(ctx, http.MethodPut, url, appt.DoctorID, map[string]string{"decision": "Confirmed"})

	s.metrics.Approve.Record(latency, status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doCallNext(ctx context.Context, rng *rand.Rand) {
	doctorID := s.pool.RandomDoctor(rng)

	url := s.config.APIBaseURL + "/api/doctor/queue/next"
	status, latency := s.do(ctx, http.MethodPut, url, doctorID, nil)

	s.metrics.CallNext.Record(latency, status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doSkip(ctx context.Context, rng *rand.Rand) {
	doctorID := s.pool.RandomDoctor(rng)

	url := s.config.APIBaseURL + "/api/doctor/queue/skip"
	status, latency := s.do(ctx, http.MethodPut, url, doctorID, map[string]string{"reason": "patient not present"})

	// 400 means the doctor had no active patient, which is routine here.
	s.metrics.Skip.Record(latency, status == http.StatusOK || status == http.StatusBadRequest, status == http.StatusConflict)
}

func (s *Simulator) doEmergency(ctx context.Context, rng *rand.Rand) {
	doctorID := s.pool.RandomDoctor(rng)

	url := s.config.APIBaseURL + "/api/doctor/queue/emergency"
	status, latency := s.do(ctx, http.MethodPost, url, doctorID, nil)

	s.metrics.Emergency.Record(latency, status == http.StatusCreated || status == http.StatusOK, status == http.StatusConflict)
}

// verifyInvariants checks the two queue guarantees straight from the store:
// no doctor holds duplicate tokens for a day, and no doctor has more than one
// active patient.
func verifyInvariants(ctx context.Context, pool *pgxpool.Pool) error {
	var dupTokens int
	err := pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM (
			SELECT doctor_id, service_date, token_number
			FROM appointments
			WHERE token_number IS NOT NULL
			GROUP BY doctor_id, service_date, token_number
			HAVING COUNT(*) > 1
		) dup
	`).Scan(&dupTokens)
	if err != nil {
		return fmt.Errorf("duplicate token query: %w", err)
	}
	if dupTokens > 0 {
		return fmt.Errorf("%d (doctor, day, token) groups hold duplicate tokens", dupTokens)
	}

	var sparseDays int
	err = pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM (
			SELECT doctor_id, service_date
			FROM appointments
			WHERE token_number IS NOT NULL
			GROUP BY doctor_id, service_date
			HAVING MAX(token_number) <> COUNT(token_number)
		) gaps
	`).Scan(&sparseDays)
	if err != nil {
		return fmt.Errorf("token density query: %w", err)
	}
	if sparseDays > 0 {
		return fmt.Errorf("%d (doctor, day) groups have gaps in their token sequence", sparseDays)
	}

	var multiActive int
	err = pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM (
			SELECT doctor_id, service_date
			FROM appointments
			WHERE queue_status = 'Active'
			GROUP BY doctor_id, service_date
			HAVING COUNT(*) > 1
		) multi
	`).Scan(&multiActive)
	if err != nil {
		return fmt.Errorf("active count query: %w", err)
	}
	if multiActive > 0 {
		return fmt.Errorf("%d doctors hold more than one active patient", multiActive)
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

	printOperationReport("Approve", &s.metrics.Approve)
	printOperationReport("Call Next", &s.metrics.CallNext)
	printOperationReport("Skip", &s.metrics.Skip)
	printOperationReport("Emergency", &s.metrics.Emergency)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failures := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failures > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failures, float64(failures)/float64(total)*100)
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

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
