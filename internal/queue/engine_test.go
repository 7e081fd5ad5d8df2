package queue

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitingAppt(arrivedAt time.Time) Appointment {
	t := arrivedAt
	return Appointment{
		ID:        uuid.New(),
		DoctorID:  uuid.New(),
		Date:      "2025-11-03",
		Status:    StatusWaiting,
		ArrivedAt: &t,
	}
}

func TestRecalculateThreeArrivals(t *testing.T) {
	// Delay 10, consultation 15, three patients in arrival order.
	base := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)
	p1 := waitingAppt(base)
	p2 := waitingAppt(base.Add(5 * time.Minute))
	p3 := waitingAppt(base.Add(12 * time.Minute))

	got, err := Recalculate([]Appointment{p3, p1, p2}, 10, 15)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, p1.ID, got[0].AppointmentID)
	assert.Equal(t, 1, got[0].Position)
	assert.Equal(t, 0, got[0].PatientsBefore)
	assert.Equal(t, 10, got[0].WaitingTime)

	assert.Equal(t, p2.ID, got[1].AppointmentID)
	assert.Equal(t, 2, got[1].Position)
	assert.Equal(t, 1, got[1].PatientsBefore)
	assert.Equal(t, 25, got[1].WaitingTime)

	assert.Equal(t, p3.ID, got[2].AppointmentID)
	assert.Equal(t, 3, got[2].Position)
	assert.Equal(t, 2, got[2].PatientsBefore)
	assert.Equal(t, 40, got[2].WaitingTime)
}

func TestRecalculateAfterFirstPatientLeaves(t *testing.T) {
	base := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)
	p2 := waitingAppt(base.Add(5 * time.Minute))
	p3 := waitingAppt(base.Add(12 * time.Minute))

	got, err := Recalculate([]Appointment{p2, p3}, 10, 15)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, p2.ID, got[0].AppointmentID)
	assert.Equal(t, 1, got[0].Position)
	assert.Equal(t, 10, got[0].WaitingTime)

	assert.Equal(t, p3.ID, got[1].AppointmentID)
	assert.Equal(t, 2, got[1].Position)
	assert.Equal(t, 25, got[1].WaitingTime)
}

func TestRecalculateDelayChangeShiftsEveryone(t *testing.T) {
	base := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)
	set := []Appointment{
		waitingAppt(base),
		waitingAppt(base.Add(time.Minute)),
		waitingAppt(base.Add(2 * time.Minute)),
	}

	before, err := Recalculate(set, 10, 15)
	require.NoError(t, err)

	after, err := Recalculate(set, 30, 15)
	require.NoError(t, err)

	for i := range after {
		assert.Equal(t, before[i].Position, after[i].Position, "positions must not change with delay")
	}
	assert.Equal(t, 30, after[0].WaitingTime)
	assert.Equal(t, 45, after[1].WaitingTime)
	assert.Equal(t, 60, after[2].WaitingTime)
}

func TestRecalculateDoctorArrivedResetsDelay(t *testing.T) {
	base := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)
	set := []Appointment{
		waitingAppt(base),
		waitingAppt(base.Add(time.Minute)),
	}

	delayed, err := Recalculate(set, 45, 20)
	require.NoError(t, err)

	arrived, err := Recalculate(set, 0, 20)
	require.NoError(t, err)

	for i := range arrived {
		assert.Equal(t, delayed[i].AppointmentID, arrived[i].AppointmentID, "order must not change")
		assert.Equal(t, delayed[i].Position, arrived[i].Position)
	}
	assert.Equal(t, 0, arrived[0].WaitingTime)
	assert.Equal(t, 20, arrived[1].WaitingTime)
}

func TestRecalculatePositionsAreDensePermutation(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	base := time.Date(2025, 11, 3, 8, 0, 0, 0, time.UTC)

	for _, n := range []int{1, 2, 7, 40} {
		set := make([]Appointment, 0, n)
		for i := 0; i < n; i++ {
			set = append(set, waitingAppt(base.Add(time.Duration(rng.Intn(600))*time.Second)))
		}

		got, err := Recalculate(set, 5, 10)
		require.NoError(t, err)
		require.Len(t, got, n, "every waiting patient gets exactly one assignment")

		seen := make(map[int]bool, n)
		for _, a := range got {
			assert.False(t, seen[a.Position], "duplicate position %d", a.Position)
			seen[a.Position] = true
			assert.GreaterOrEqual(t, a.Position, 1)
			assert.LessOrEqual(t, a.Position, n)
			assert.Equal(t, n, a.PatientsBefore+a.PatientsAfter+1)
		}
	}
}

func TestRecalculateWaitMonotoneInPosition(t *testing.T) {
	base := time.Date(2025, 11, 3, 8, 0, 0, 0, time.UTC)
	set := make([]Appointment, 0, 10)
	for i := 0; i < 10; i++ {
		set = append(set, waitingAppt(base.Add(time.Duration(i)*time.Minute)))
	}

	got, err := Recalculate(set, 12, 15)
	require.NoError(t, err)

	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i].WaitingTime, got[i-1].WaitingTime)
	}
}

func TestRecalculateIdempotent(t *testing.T) {
	base := time.Date(2025, 11, 3, 8, 0, 0, 0, time.UTC)
	set := []Appointment{
		waitingAppt(base.Add(3 * time.Minute)),
		waitingAppt(base),
		waitingAppt(base.Add(9 * time.Minute)),
	}

	first, err := Recalculate(set, 10, 20)
	require.NoError(t, err)
	second, err := Recalculate(set, 10, 20)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRecalculateMissingArrivalSortsFirst(t *testing.T) {
	base := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)
	arrived := waitingAppt(base)
	noTimestamp := Appointment{ID: uuid.New(), Status: StatusWaiting}

	got, err := Recalculate([]Appointment{arrived, noTimestamp}, 0, 15)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, noTimestamp.ID, got[0].AppointmentID)
	assert.Equal(t, arrived.ID, got[1].AppointmentID)
}

func TestRecalculateSimultaneousArrivalsTieBreakByID(t *testing.T) {
	at := time.Date(2025, 11, 3, 9, 30, 0, 0, time.UTC)
	a := waitingAppt(at)
	b := waitingAppt(at)

	lo, hi := a, b
	if b.ID.String() < a.ID.String() {
		lo, hi = b, a
	}

	// Same result regardless of input order.
	got1, err := Recalculate([]Appointment{a, b}, 0, 10)
	require.NoError(t, err)
	got2, err := Recalculate([]Appointment{b, a}, 0, 10)
	require.NoError(t, err)

	assert.Equal(t, lo.ID, got1[0].AppointmentID)
	assert.Equal(t, hi.ID, got1[1].AppointmentID)
	assert.Equal(t, got1, got2)
}

func TestRecalculateEmptySet(t *testing.T) {
	got, err := Recalculate(nil, 10, 20)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRecalculateRejectsNegativeInputs(t *testing.T) {
	_, err := Recalculate(nil, -1, 20)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = Recalculate(nil, 0, -5)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRecalculateDoesNotMutateInput(t *testing.T) {
	base := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)
	late := waitingAppt(base.Add(time.Hour))
	early := waitingAppt(base)
	set := []Appointment{late, early}

	_, err := Recalculate(set, 0, 10)
	require.NoError(t, err)

	assert.Equal(t, late.ID, set[0].ID, "input order must be preserved")
	assert.Equal(t, early.ID, set[1].ID)
}
