package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/therapy-scheduling/internal/config"
	"github.com/hackgods/therapy-scheduling/internal/db"
	"github.com/hackgods/therapy-scheduling/internal/logging"
)

type SimConfig struct {
	APIBaseURL     string
	Duration       time.Duration
	Workers        int
	BookingRatio   float64
	MutateRatio    float64
	ReadRatio      float64
	TherapistLimit int // a small pool forces workers to race for the same hours
	ClientLimit    int
	PostgresDSN    string
}

type DataPool struct {
	Therapists   []uuid.UUID
	Clients      []uuid.UUID
	mu           sync.RWMutex
	appointments []uuid.UUID // Thread-safe list of created appointment IDs
}

func (dp *DataPool) AddAppointments(ids ...uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, ids...)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
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

func (om *OperationMetrics) Stats() (avg, lo, hi, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	lo = latencies[0]
	hi = latencies[len(latencies)-1]
	p50 = latencies[min(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	return avg, lo, hi, p50, p95
}

type Metrics struct {
	Suggest   OperationMetrics
	Booking   OperationMetrics
	Update    OperationMetrics
	Frequency OperationMetrics
	Delete    OperationMetrics
	ReadByID  OperationMetrics
	List      OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		boot := logging.New(logging.Options{})
		boot.Fatal().Err(err).Msg("failed to load base config")
	}
	logger := logging.New(logging.Options{Env: baseCfg.Env, Level: baseCfg.LogLevel})

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("mutate", cfg.MutateRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	logger.Info().Int("therapists", len(dataPool.Therapists)).Int("clients", len(dataPool.Clients)).Msg("loaded data pool")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger,
	}

	sim.Run()
	sim.PrintReport()

	overlaps, err := countDoubleBookings(context.Background(), pgPool, dataPool.Therapists)
	if err != nil {
		logger.Fatal().Err(err).Msg("double-booking check")
	}
	fmt.Printf("Overlapping active appointments for simulated therapists: %d\n", overlaps)
	if overlaps > 0 {
		pgPool.Close()
		os.Exit(1)
	}
}

func loadConfig(base config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:     getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:       getDuration("SIM_DURATION", 30*time.Second),
		Workers:        getInt("SIM_WORKERS", 10),
		BookingRatio:   getFloat("SIM_BOOKING_RATIO", 0.5),
		MutateRatio:    getFloat("SIM_MUTATE_RATIO", 0.2),
		ReadRatio:      getFloat("SIM_READ_RATIO", 0.3),
		TherapistLimit: getInt("SIM_THERAPIST_LIMIT", 5),
		ClientLimit:    getInt("SIM_CLIENT_LIMIT", 400),
		PostgresDSN:    base.PostgresDSN,
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.MutateRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.MutateRatio /= total
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

func loadIDs(ctx context.Context, pool *pgxpool.Pool, query string, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	therapists, err := loadIDs(ctx, pool, `
		SELECT DISTINCT therapist_id FROM working_hours LIMIT $1
	`, cfg.TherapistLimit)
	if err != nil {
		return nil, fmt.Errorf("load therapists: %w", err)
	}
	clients, err := loadIDs(ctx, pool, `
		SELECT DISTINCT client_id FROM client_availability LIMIT $1
	`, cfg.ClientLimit)
	if err != nil {
		return nil, fmt.Errorf("load clients: %w", err)
	}

	if len(therapists) == 0 {
		return nil, fmt.Errorf("no therapists with working hours, run seed first")
	}
	if len(clients) == 0 {
		return nil, fmt.Errorf("no clients with availability, run seed first")
	}
	return &DataPool{Therapists: therapists, Clients: clients}, nil
}

// countDoubleBookings counts pairs of active appointments for the same
// therapist that overlap on the same date.
func countDoubleBookings(ctx context.Context, pool *pgxpool.Pool, therapists []uuid.UUID) (int, error) {
	ids := make([]string, 0, len(therapists))
	for _, id := range therapists {
		ids = append(ids, id.String())
	}

	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments a
		JOIN appointments b
		  ON a.therapist_id = b.therapist_id
		 AND a.date = b.date
		 AND a.id < b.id
		 AND a.start_time < b.end_time
		 AND b.start_time < a.end_time
		WHERE a.therapist_id = ANY($1::uuid[])
		  AND a.status <> 'cancelled'
		  AND b.status <> 'cancelled'
	`, ids).Scan(&n)
	return n, err
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
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
			case r < s.config.BookingRatio:
				s.doSuggestAndBook(ctx, rng)
			case r < s.config.BookingRatio+s.config.MutateRatio:
				switch rng.Intn(3) {
				case 0:
					s.doUpdate(ctx, rng)
				case 1:
					s.doChangeFrequency(ctx, rng)
				case 2:
					s.doDelete(ctx, rng)
				}
			default:
				if rng.Intn(2) == 0 {
					s.doReadByID(ctx, rng)
				} else {
					s.doList(ctx, rng)
				}
			}
		}
	}
}

type slot struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	Score     int    `json:"score"`
}

// call issues one request and reports the status code, or 0 on transport error.
func (s *Simulator) call(ctx context.Context, method, path string, body any, out any) (int, time.Duration) {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, 0
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode, latency
}

func (s *Simulator) doSuggestAndBook(ctx context.Context, rng *rand.Rand) {
	therapist := s.pool.Therapists[rng.Intn(len(s.pool.Therapists))]
	client := s.pool.Clients[rng.Intn(len(s.pool.Clients))]

	var slots []slot
	status, latency := s.call(ctx, http.MethodGet,
		fmt.Sprintf("/therapists/%s/suggestions?client_id=%s", therapist, client), nil, &slots)
	s.metrics.Suggest.Record(latency, status == http.StatusOK, status == http.StatusTooManyRequests)
	if status != http.StatusOK || len(slots) == 0 {
		return
	}

	// Mostly take the best slot so workers collide on popular hours.
	pick := slots[0]
	if rng.Intn(4) == 0 {
		pick = slots[rng.Intn(len(slots))]
	}

	frequency, horizon := "puntual", ""
	if rng.Intn(3) > 0 {
		frequency, horizon = "semanal", "1 mes"
		if rng.Intn(2) == 0 {
			frequency = "quincenal"
		}
	}

	var created []struct {
		ID uuid.UUID `json:"id"`
	}
	status, latency = s.call(ctx, http.MethodPost, "/appointments/recurring", map[string]any{
		"client_id":          client,
		"therapist_id":       therapist,
		"date":               pick.Date,
		"start_time":         pick.StartTime,
		"duration_minutes":   gofakeit.RandomInt([]int{45, 50, 60}),
		"frequency":          frequency,
		"horizon":            horizon,
		"optimization_score": pick.Score,
	}, &created)

	s.metrics.Booking.Record(latency, status == http.StatusCreated, status == http.StatusConflict)
	for _, c := range created {
		s.pool.AddAppointments(c.ID)
	}
}

func (s *Simulator) doUpdate(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	scope := "this_only"
	if rng.Intn(2) == 0 {
		scope = "this_and_future"
	}
	status, latency := s.call(ctx, http.MethodPatch,
		fmt.Sprintf("/appointments/%s?scope=%s", id, scope),
		map[string]any{"notes": "sim: " + gofakeit.Word()}, nil)
	s.metrics.Update.Record(latency, status == http.StatusOK, status == http.StatusNotFound)
}

func (s *Simulator) doChangeFrequency(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	freq := "semanal"
	if rng.Intn(2) == 0 {
		freq = "quincenal"
	}
	status, latency := s.call(ctx, http.MethodPost,
		fmt.Sprintf("/appointments/%s/frequency", id), map[string]string{"frequency": freq}, nil)
	// 422 is expected for one-off bookings.
	s.metrics.Frequency.Record(latency, status == http.StatusOK,
		status == http.StatusUnprocessableEntity || status == http.StatusNotFound)
}

func (s *Simulator) doDelete(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	status, latency := s.call(ctx, http.MethodDelete,
		fmt.Sprintf("/appointments/%s?scope=this_only", id), nil, nil)
	s.metrics.Delete.Record(latency, status == http.StatusOK, status == http.StatusNotFound)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	status, latency := s.call(ctx, http.MethodGet, fmt.Sprintf("/appointments/%s", id), nil, nil)
	s.metrics.ReadByID.Record(latency, status == http.StatusOK, status == http.StatusNotFound)
}

func (s *Simulator) doList(ctx context.Context, rng *rand.Rand) {
	therapist := s.pool.Therapists[rng.Intn(len(s.pool.Therapists))]
	from := time.Now().Format("2006-01-02")
	status, latency := s.call(ctx, http.MethodGet,
		fmt.Sprintf("/appointments?therapist_id=%s&from=%s", therapist, from), nil, nil)
	s.metrics.List.Record(latency, status == http.StatusOK, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Suggest", &s.metrics.Suggest)
	printOperationReport("Book", &s.metrics.Booking)
	printOperationReport("Update", &s.metrics.Update)
	printOperationReport("Change frequency", &s.metrics.Frequency)
	printOperationReport("Delete", &s.metrics.Delete)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by therapist", &s.metrics.List)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, lo, hi, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Expected rejections: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), lo.Round(time.Millisecond), hi.Round(time.Millisecond),
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
