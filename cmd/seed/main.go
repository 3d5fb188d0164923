package main

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"

	"github.com/hackgods/therapy-scheduling/internal/appointment"
	"github.com/hackgods/therapy-scheduling/internal/config"
	"github.com/hackgods/therapy-scheduling/internal/db"
	"github.com/hackgods/therapy-scheduling/internal/logging"
)

const (
	therapistCount = 40
	clientCount    = 1200
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New(logging.Options{})
		boot.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(logging.Options{Env: cfg.Env, Level: cfg.LogLevel})
	logger.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	gofakeit.Seed(time.Now().UnixNano())
	repo := appointment.NewPgRepository(pool)

	if err := seedTherapists(context.Background(), repo, logger, therapistCount); err != nil {
		logger.Fatal().Err(err).Msg("seed therapists")
	}
	if err := seedClients(context.Background(), repo, logger, clientCount); err != nil {
		logger.Fatal().Err(err).Msg("seed clients")
	}

	logger.Info().Msg("seed complete")
}

var specialties = []string{
	"Speech therapy",
	"Occupational therapy",
	"Physiotherapy",
	"Psychology",
	"Psychomotricity",
	"Neuropsychology",
	"Early intervention",
}

// palette holds the calendar colors handed out to therapists.
var palette = []string{"#2563eb", "#16a34a", "#d97706", "#dc2626", "#7c3aed", "#0891b2", "#db2777"}

// shifts are the weekday working patterns a therapist can be given.
var shifts = [][2]string{
	{"08:00", "14:00"},
	{"09:00", "17:00"},
	{"13:00", "20:00"},
	{"15:00", "21:00"},
}

func newTherapist(i int) appointment.Therapist {
	return appointment.Therapist{
		Name:      gofakeit.Name(),
		Specialty: specialties[gofakeit.Number(0, len(specialties)-1)],
		Color:     palette[i%len(palette)],
	}
}

func seedTherapists(ctx context.Context, repo *appointment.PgRepository, logger zerolog.Logger, count int) error {
	logger.Info().Int("count", count).Msg("seeding therapists")

	for i := 0; i < count; i++ {
		t, err := repo.InsertTherapist(ctx, newTherapist(i))
		if err != nil {
			return err
		}

		shift := shifts[gofakeit.Number(0, len(shifts)-1)]
		var blocks []appointment.TimeBlock
		// Monday to Friday, with a random day off for part-timers.
		dayOff := gofakeit.Number(-1, 4)
		for day := 0; day < 5; day++ {
			if day == dayOff {
				continue
			}
			blocks = append(blocks, appointment.TimeBlock{DayOfWeek: day, StartTime: shift[0], EndTime: shift[1]})
		}
		if _, err := repo.ReplaceWorkingHours(ctx, t.ID, blocks); err != nil {
			return err
		}
	}

	logger.Info().Msg("therapists seeded")
	return nil
}

func seedClients(ctx context.Context, repo *appointment.PgRepository, logger zerolog.Logger, count int) error {
	logger.Info().Int("count", count).Msg("seeding clients")

	for i := 0; i < count; i++ {
		c, err := repo.InsertClient(ctx, appointment.Client{
			Name:  gofakeit.Name(),
			Email: gofakeit.Email(),
			Phone: gofakeit.Phone(),
		})
		if err != nil {
			return err
		}

		if _, err := repo.ReplaceAvailability(ctx, c.ID, randomAvailability()); err != nil {
			return err
		}

		if (i+1)%200 == 0 {
			logger.Info().Int("seeded", i+1).Int("total", count).Msg("clients progress")
		}
	}

	logger.Info().Msg("clients seeded")
	return nil
}

// randomAvailability gives a client one to three weekly windows, Monday to
// Saturday, each one to three hours long.
func randomAvailability() []appointment.TimeBlock {
	n := gofakeit.Number(1, 3)
	used := make(map[int]bool, n)
	blocks := make([]appointment.TimeBlock, 0, n)
	for len(blocks) < n {
		day := gofakeit.Number(0, 5)
		if used[day] {
			continue
		}
		used[day] = true

		start := gofakeit.Number(9, 18)
		length := gofakeit.Number(1, 3)
		blocks = append(blocks, appointment.TimeBlock{
			DayOfWeek: day,
			StartTime: fmt.Sprintf("%02d:00", start),
			EndTime:   fmt.Sprintf("%02d:00", start+length),
		})
	}
	return blocks
}
