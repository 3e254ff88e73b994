package plan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dropDatabas3/mcpgate/internal/store/core"
)

type fakeStore struct {
	plan    *core.UserPlan
	planErr error
	count   int
	cntErr  error
}

func (f *fakeStore) GetUserPlan(ctx context.Context, userID string) (*core.UserPlan, error) {
	return f.plan, f.planErr
}

func (f *fakeStore) CountActiveInstances(ctx context.Context, userID string) (int, error) {
	return f.count, f.cntErr
}

func activePlan(max int) *core.UserPlan {
	return &core.UserPlan{PlanID: "p1", PlanName: "pro", MaxInstances: max, Status: "active"}
}

func TestCheckInstanceLimit(t *testing.T) {
	t.Parallel()
	past := time.Now().Add(-time.Hour)

	cases := []struct {
		name       string
		store      *fakeStore
		wantOK     bool
		wantReason string
	}{
		{
			name:       "sin plan",
			store:      &fakeStore{planErr: core.ErrNotFound},
			wantReason: ReasonNoPlan,
		},
		{
			name:       "plan con status expired",
			store:      &fakeStore{plan: &core.UserPlan{PlanName: "free", MaxInstances: 1, Status: "expired"}},
			wantReason: ReasonPlanExpired,
		},
		{
			name:       "plan vencido por fecha",
			store:      &fakeStore{plan: &core.UserPlan{PlanName: "pro", MaxInstances: 5, Status: "active", ExpiresAt: &past}},
			wantReason: ReasonPlanExpired,
		},
		{
			name:       "en el límite",
			store:      &fakeStore{plan: activePlan(3), count: 3},
			wantReason: ReasonActiveLimitReached,
		},
		{
			name:       "por encima del límite",
			store:      &fakeStore{plan: activePlan(3), count: 5},
			wantReason: ReasonActiveLimitReached,
		},
		{
			name:   "bajo el límite",
			store:  &fakeStore{plan: activePlan(3), count: 2},
			wantOK: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewChecker(tc.store)
			d, err := c.CheckInstanceLimit(context.Background(), "user-1")
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if d.CanCreate != tc.wantOK {
				t.Fatalf("CanCreate: got %v want %v", d.CanCreate, tc.wantOK)
			}
			if !tc.wantOK && d.Reason != tc.wantReason {
				t.Fatalf("Reason: got %q want %q", d.Reason, tc.wantReason)
			}
		})
	}
}

func TestCheckInstanceLimit_LimitDetail(t *testing.T) {
	t.Parallel()
	c := NewChecker(&fakeStore{plan: activePlan(3), count: 3})

	d, err := c.CheckInstanceLimit(context.Background(), "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if d.Current != 3 || d.Max != 3 || d.PlanName != "pro" {
		t.Fatalf("detail: got %+v", d)
	}
}

func TestCheckInstanceLimit_StoreErrorPropagates(t *testing.T) {
	t.Parallel()
	boom := errors.New("db caída")

	if _, err := NewChecker(&fakeStore{planErr: boom}).CheckInstanceLimit(context.Background(), "u"); !errors.Is(err, boom) {
		t.Fatalf("plan err: got %v", err)
	}
	if _, err := NewChecker(&fakeStore{plan: activePlan(1), cntErr: boom}).CheckInstanceLimit(context.Background(), "u"); !errors.Is(err, boom) {
		t.Fatalf("count err: got %v", err)
	}
}
