package appointment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/hackgods/therapy-scheduling/internal/redis"
	"github.com/hackgods/therapy-scheduling/internal/schedule"
)

var errBoom = errors.New("boom")

// fakeRepository is an in-memory Repository. By default WithTx gives no
// atomicity, which exposes the partial-success boundary; set transactional
// to snapshot and restore state around each unit of work.
type fakeRepository struct {
	mu     sync.Mutex
	appts  map[uuid.UUID]Appointment
	avail  map[uuid.UUID][]ClientAvailability
	hours  map[uuid.UUID][]WorkingHoursBlock
	events []EventLog

	transactional bool
	inTx          bool

	calls  map[string]int
	failAt map[string]int // op -> 1-based call number that fails
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		appts:  make(map[uuid.UUID]Appointment),
		avail:  make(map[uuid.UUID][]ClientAvailability),
		hours:  make(map[uuid.UUID][]WorkingHoursBlock),
		calls:  make(map[string]int),
		failAt: make(map[string]int),
	}
}

// hit counts a call to op and reports whether it should fail. Callers hold mu.
func (f *fakeRepository) hit(op string) error {
	f.calls[op]++
	if n, ok := f.failAt[op]; ok && f.calls[op] == n {
		return fmt.Errorf("%s call %d: %w", op, n, errBoom)
	}
	return nil
}

func (f *fakeRepository) put(a Appointment) Appointment {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = StatusConfirmed
	}
	a.Date = schedule.DateOf(a.Date)
	f.appts[a.ID] = a
	return a
}

func (f *fakeRepository) get(id uuid.UUID) (Appointment, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appts[id]
	return a, ok
}

func (f *fakeRepository) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.appts)
}

func sortAppointments(out []Appointment) []Appointment {
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out
}

func inRange(rng *DateRange, d time.Time) bool {
	if rng == nil {
		return true
	}
	if !rng.From.IsZero() && d.Before(schedule.DateOf(rng.From)) {
		return false
	}
	if !rng.To.IsZero() && d.After(schedule.DateOf(rng.To)) {
		return false
	}
	return true
}

func (f *fakeRepository) filter(keep func(Appointment) bool) []Appointment {
	var out []Appointment
	for _, a := range f.appts {
		if keep(a) {
			out = append(out, a)
		}
	}
	return sortAppointments(out)
}

func (f *fakeRepository) FindAppointmentsByTherapist(_ context.Context, therapistID uuid.UUID, rng *DateRange) ([]Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("find_therapist"); err != nil {
		return nil, err
	}
	return f.filter(func(a Appointment) bool { return a.TherapistID == therapistID && inRange(rng, a.Date) }), nil
}

func (f *fakeRepository) FindAppointmentsByClient(_ context.Context, clientID uuid.UUID, rng *DateRange) ([]Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("find_client"); err != nil {
		return nil, err
	}
	return f.filter(func(a Appointment) bool { return a.ClientID == clientID && inRange(rng, a.Date) }), nil
}

func (f *fakeRepository) FindAppointmentsBySeries(_ context.Context, seriesID uuid.UUID, dateFrom time.Time) ([]Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("find_series"); err != nil {
		return nil, err
	}
	from := schedule.DateOf(dateFrom)
	return f.filter(func(a Appointment) bool {
		return a.SeriesID != nil && *a.SeriesID == seriesID && !a.Date.Before(from)
	}), nil
}

func (f *fakeRepository) FindAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (f *fakeRepository) InsertAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("insert"); err != nil {
		return nil, err
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.Date = schedule.DateOf(a.Date)
	f.appts[a.ID] = a
	return &a, nil
}

func (f *fakeRepository) UpdateAppointment(_ context.Context, id uuid.UUID, patch AppointmentPatch) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("update"); err != nil {
		return nil, err
	}
	a, ok := f.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	patch.forRecord(a).apply(&a)
	f.appts[id] = a
	return &a, nil
}

func (f *fakeRepository) UpdateManyBySeries(_ context.Context, seriesID uuid.UUID, dateFrom time.Time, patch AppointmentPatch) ([]Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("update_many"); err != nil {
		return nil, err
	}
	from := schedule.DateOf(dateFrom)
	members := f.filter(func(a Appointment) bool {
		return a.SeriesID != nil && *a.SeriesID == seriesID && !a.Date.Before(from)
	})
	for i := range members {
		patch.forRecord(members[i]).apply(&members[i])
		f.appts[members[i].ID] = members[i]
	}
	return members, nil
}

func (f *fakeRepository) DeleteAppointment(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("delete"); err != nil {
		return err
	}
	if _, ok := f.appts[id]; !ok {
		return ErrAppointmentNotFound
	}
	delete(f.appts, id)
	return nil
}

func (f *fakeRepository) DeleteManyBySeries(_ context.Context, seriesID uuid.UUID, dateFrom time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("delete_many"); err != nil {
		return 0, err
	}
	from := schedule.DateOf(dateFrom)
	var n int64
	for id, a := range f.appts {
		if a.SeriesID != nil && *a.SeriesID == seriesID && !a.Date.Before(from) {
			delete(f.appts, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeRepository) LinkUnlinkedSeries(_ context.Context, m SeriesMatch, seriesID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("link"); err != nil {
		return 0, err
	}
	from := schedule.DateOf(m.DateFrom)
	var n int64
	for id, a := range f.appts {
		if a.ID == m.ExcludeID || a.SeriesID != nil || a.Date.Before(from) {
			continue
		}
		if a.ClientID != m.ClientID || a.TherapistID != m.TherapistID || a.Frequency != m.Frequency ||
			a.StartTime != m.StartTime || a.EndTime != m.EndTime {
			continue
		}
		sid := seriesID
		a.SeriesID = &sid
		f.appts[id] = a
		n++
	}
	return n, nil
}

func (f *fakeRepository) FindAvailability(_ context.Context, clientID uuid.UUID) ([]ClientAvailability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("find_availability"); err != nil {
		return nil, err
	}
	return append([]ClientAvailability(nil), f.avail[clientID]...), nil
}

func (f *fakeRepository) FindWorkingHours(_ context.Context, therapistID uuid.UUID) ([]WorkingHoursBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("find_hours"); err != nil {
		return nil, err
	}
	return append([]WorkingHoursBlock(nil), f.hours[therapistID]...), nil
}

func (f *fakeRepository) ReplaceAvailability(_ context.Context, clientID uuid.UUID, blocks []TimeBlock) ([]ClientAvailability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("replace_availability"); err != nil {
		return nil, err
	}
	out := make([]ClientAvailability, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, ClientAvailability{ID: uuid.New(), ClientID: clientID, TimeBlock: b})
	}
	f.avail[clientID] = out
	return out, nil
}

func (f *fakeRepository) ReplaceWorkingHours(_ context.Context, therapistID uuid.UUID, blocks []TimeBlock) ([]WorkingHoursBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit("replace_hours"); err != nil {
		return nil, err
	}
	out := make([]WorkingHoursBlock, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, WorkingHoursBlock{ID: uuid.New(), TherapistID: therapistID, TimeBlock: b})
	}
	f.hours[therapistID] = out
	return out, nil
}

func (f *fakeRepository) InsertEvent(_ context.Context, ev EventLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeRepository) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.EventType)
	}
	return out
}

func (f *fakeRepository) WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	f.mu.Lock()
	if !f.transactional || f.inTx {
		f.mu.Unlock()
		return fn(ctx, f)
	}
	snapshot := make(map[uuid.UUID]Appointment, len(f.appts))
	for k, v := range f.appts {
		snapshot[k] = v
	}
	f.inTx = true
	f.mu.Unlock()

	err := fn(ctx, f)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inTx = false
	if err != nil {
		f.appts = snapshot
		return fmt.Errorf("%w: %w", ErrTxRolledBack, err)
	}
	return nil
}

// fakeLocker records requested keys and runs fn unless err is set or the key
// is busy.
type fakeLocker struct {
	mu   sync.Mutex
	keys []string
	err  error
	busy map[string]bool
}

func (l *fakeLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	l.keys = append(l.keys, key)
	err := l.err
	if l.busy[key] {
		err = redisclient.ErrLockNotAcquired
	}
	l.mu.Unlock()
	if err != nil {
		return err
	}
	return fn(ctx)
}

var _ Repository = (*fakeRepository)(nil)
