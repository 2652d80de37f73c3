package couple

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func newTestService() (*Service, *fakeRepository) {
	repo := newFakeRepository()
	svc := NewService(&fakePool{}, repo).
		WithIDGenerator(func() string { return "couple-1" }).
		WithCodeGenerator(func() string { return "ABCD1234" })
	return svc, repo
}

func TestCreate_SeatsCallerInSeatA(t *testing.T) {
	svc, repo := newTestService()
	repo.memberCouples["m1"] = ""

	p, err := svc.Create(context.Background(), "m1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.MemberAID == nil || *p.MemberAID != "m1" {
		t.Errorf("caller should occupy seat A")
	}
	if p.MemberBID != nil {
		t.Errorf("seat B should start empty")
	}
	if p.JoinCode != "ABCD1234" {
		t.Errorf("unexpected join code %q", p.JoinCode)
	}
	if repo.memberCouples["m1"] != p.ID {
		t.Errorf("member should be linked to the new couple")
	}
}

func TestCreate_AlreadyPaired(t *testing.T) {
	svc, repo := newTestService()
	repo.memberCouples["m1"] = "existing"

	if _, err := svc.Create(context.Background(), "m1"); !errors.Is(err, ErrAlreadyPaired) {
		t.Fatalf("expected ErrAlreadyPaired, got %v", err)
	}
}

func TestCreate_RetriesOnCodeCollision(t *testing.T) {
	repo := newFakeRepository()
	repo.memberCouples["m1"] = ""
	repo.failInserts = 1

	codes := []string{"TAKEN000", "FRESH000"}
	n := 0
	svc := NewService(&fakePool{}, repo).
		WithIDGenerator(func() string { return "couple-1" }).
		WithCodeGenerator(func() string {
			code := codes[n]
			n++
			return code
		})

	p, err := svc.Create(context.Background(), "m1")
	if err != nil {
		t.Fatalf("create after collision: %v", err)
	}
	if p.JoinCode != "FRESH000" {
		t.Errorf("expected the retried code, got %q", p.JoinCode)
	}
}

func TestJoin_FillsSeatB(t *testing.T) {
	svc, repo := newTestService()
	a := "m1"
	repo.memberCouples[a] = "couple-1"
	repo.memberCouples["m2"] = ""
	repo.couples["couple-1"] = &Profile{ID: "couple-1", JoinCode: "ABCD1234", MemberAID: &a}

	p, err := svc.Join(context.Background(), "m2", "  abcd1234 ")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if p.MemberBID == nil || *p.MemberBID != "m2" {
		t.Errorf("joiner should occupy seat B")
	}
	if !p.Complete() {
		t.Errorf("couple should be complete after join")
	}
	if repo.memberCouples["m2"] != "couple-1" {
		t.Errorf("joiner should be linked to the couple")
	}
}

func TestJoin_UnknownCode(t *testing.T) {
	svc, repo := newTestService()
	repo.memberCouples["m2"] = ""

	if _, err := svc.Join(context.Background(), "m2", "NOPE0000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestJoin_BlankCode(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.Join(context.Background(), "m2", "   "); !errors.Is(err, ErrCodeRequired) {
		t.Fatalf("expected ErrCodeRequired, got %v", err)
	}
}

func TestJoin_FullCouple(t *testing.T) {
	svc, repo := newTestService()
	a, b := "m1", "m2"
	repo.memberCouples[a] = "couple-1"
	repo.memberCouples[b] = "couple-1"
	repo.memberCouples["m3"] = ""
	repo.couples["couple-1"] = &Profile{ID: "couple-1", JoinCode: "ABCD1234", MemberAID: &a, MemberBID: &b}

	if _, err := svc.Join(context.Background(), "m3", "ABCD1234"); !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
}

func TestJoin_OwnCouple(t *testing.T) {
	svc, repo := newTestService()
	a := "m1"
	// Seat A occupant with the couple link not yet recorded, trying to take
	// seat B of their own couple.
	repo.memberCouples[a] = ""
	repo.couples["couple-1"] = &Profile{ID: "couple-1", JoinCode: "ABCD1234", MemberAID: &a}

	if _, err := svc.Join(context.Background(), a, "ABCD1234"); !errors.Is(err, ErrAlreadyPaired) {
		t.Fatalf("expected ErrAlreadyPaired, got %v", err)
	}
}

func TestJoin_AlreadyPairedElsewhere(t *testing.T) {
	svc, repo := newTestService()
	a := "m1"
	repo.memberCouples[a] = "couple-1"
	repo.memberCouples["m2"] = "other-couple"
	repo.couples["couple-1"] = &Profile{ID: "couple-1", JoinCode: "ABCD1234", MemberAID: &a}

	if _, err := svc.Join(context.Background(), "m2", "ABCD1234"); !errors.Is(err, ErrAlreadyPaired) {
		t.Fatalf("expected ErrAlreadyPaired, got %v", err)
	}
}

// --- fakes ---

type fakeRepository struct {
	couples       map[string]*Profile
	memberCouples map[string]string // member id -> couple id, "" means unpaired
	failInserts   int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		couples:       map[string]*Profile{},
		memberCouples: map[string]string{},
	}
}

func (f *fakeRepository) Insert(_ context.Context, _ pgx.Tx, p Profile) (Profile, error) {
	if f.failInserts > 0 {
		f.failInserts--
		return Profile{}, ErrDuplicateCode
	}
	p.CreatedAt = time.Now()
	stored := p
	f.couples[p.ID] = &stored
	return p, nil
}

func (f *fakeRepository) GetByCodeForUpdate(_ context.Context, _ pgx.Tx, joinCode string) (Profile, error) {
	for _, p := range f.couples {
		if p.JoinCode == joinCode {
			return *p, nil
		}
	}
	return Profile{}, ErrNotFound
}

func (f *fakeRepository) GetByMember(_ context.Context, memberID string) (Profile, error) {
	id, ok := f.memberCouples[memberID]
	if !ok || id == "" {
		return Profile{}, ErrNotFound
	}
	p, ok := f.couples[id]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return *p, nil
}

func (f *fakeRepository) SetMemberB(_ context.Context, _ pgx.Tx, coupleID, memberID string) error {
	p, ok := f.couples[coupleID]
	if !ok {
		return ErrNotFound
	}
	if p.MemberBID != nil {
		return ErrFull
	}
	p.MemberBID = &memberID
	return nil
}

func (f *fakeRepository) SetMemberCouple(_ context.Context, _ pgx.Tx, memberID, coupleID string) error {
	if _, ok := f.memberCouples[memberID]; !ok {
		return ErrNotFound
	}
	f.memberCouples[memberID] = coupleID
	return nil
}

func (f *fakeRepository) MemberHasCouple(_ context.Context, _ pgx.Tx, memberID string) (bool, error) {
	id, ok := f.memberCouples[memberID]
	if !ok {
		return false, ErrNotFound
	}
	return id != "", nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
