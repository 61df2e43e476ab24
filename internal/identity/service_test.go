package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/orderportal/internal/model"
	"github.com/hitoshi/orderportal/internal/repository"
)

// --- モック ---

type recorderStub struct {
	mu      sync.Mutex
	created int
	merged  int
	linked  int
}

func (r *recorderStub) RecordReconcile(created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if created {
		r.created++
	} else {
		r.merged++
	}
}

func (r *recorderStub) RecordProviderLinked(count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.linked += count
}

type mockAccountRepo struct {
	findByIDFn           func(ctx context.Context, id string) (*model.Account, error)
	findBySubjectFn      func(ctx context.Context, subjectID string) (*model.Account, error)
	createWithIdentityFn func(ctx context.Context, a *model.Account, i *model.Identity) error
	mergeFn              func(ctx context.Context, id string, p model.ProfilePatch, providers []string, at time.Time) (*model.Account, error)
}

func (m *mockAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	return m.findByIDFn(ctx, id)
}
func (m *mockAccountRepo) FindBySubject(ctx context.Context, subjectID string) (*model.Account, error) {
	return m.findBySubjectFn(ctx, subjectID)
}
func (m *mockAccountRepo) CreateWithIdentity(ctx context.Context, a *model.Account, i *model.Identity) error {
	return m.createWithIdentityFn(ctx, a, i)
}
func (m *mockAccountRepo) Merge(ctx context.Context, id string, p model.ProfilePatch, providers []string, at time.Time) (*model.Account, error) {
	return m.mergeFn(ctx, id, p, providers, at)
}

type failingActivityRepo struct{}

func (failingActivityRepo) Append(context.Context, *model.ActivityLog) error {
	return errors.New("activity store down")
}

// --- ヘルパー ---

func strPtr(s string) *string { return &s }

func newTestService(t *testing.T) (*Service, *repository.MemoryStore, *recorderStub) {
	t.Helper()
	store := repository.NewMemoryStore()
	rec := &recorderStub{}
	svc := NewService(store.Accounts(), store.Activity(), rec)
	return svc, store, rec
}

func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError with code %s, got %v", code, err)
	}
	if apiErr.Code != code {
		t.Errorf("error code = %s, want %s", apiErr.Code, code)
	}
}

func actions(store *repository.MemoryStore) []model.ActivityAction {
	var out []model.ActivityAction
	for _, e := range store.ActivityLog() {
		out = append(out, e.Action)
	}
	return out
}

// --- Reconcile ---

func TestService_Reconcile_NewSubjectCreatesAccount(t *testing.T) {
	svc, store, rec := newTestService(t)

	a, err := svc.Reconcile(context.Background(), "firebase-uid-1",
		model.ProfilePatch{Email: strPtr("taro@example.com")},
		[]string{"google.com"},
	)
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}

	id, err := uuid.Parse(a.ID)
	if err != nil {
		t.Fatalf("account ID is not a UUID: %q", a.ID)
	}
	if id.Version() != 7 {
		t.Errorf("account ID version = %d, want 7", id.Version())
	}
	if a.Email == nil || *a.Email != "taro@example.com" {
		t.Errorf("Email = %v, want taro@example.com", a.Email)
	}
	if fmt.Sprint(a.LinkedProviders) != "[google.com]" {
		t.Errorf("LinkedProviders = %v, want [google.com]", a.LinkedProviders)
	}
	if rec.created != 1 {
		t.Errorf("created count = %d, want 1", rec.created)
	}

	logs := store.ActivityLog()
	if len(logs) != 1 || logs[0].Action != model.ActivityAccountCreated {
		t.Fatalf("activity = %v, want [account_created]", actions(store))
	}
	if logs[0].Provider == nil || *logs[0].Provider != "google.com" {
		t.Errorf("activity provider = %v, want google.com", logs[0].Provider)
	}
}

func TestService_Reconcile_IsIdempotent(t *testing.T) {
	svc, store, rec := newTestService(t)
	ctx := context.Background()
	attrs := model.ProfilePatch{Email: strPtr("taro@example.com"), DisplayName: strPtr("Taro")}

	first, err := svc.Reconcile(ctx, "uid-1", attrs, []string{"google.com"})
	if err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}
	second, err := svc.Reconcile(ctx, "uid-1", attrs, []string{"google.com"})
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("account ID changed: %s -> %s", first.ID, second.ID)
	}
	if *second.Email != *first.Email || *second.DisplayName != *first.DisplayName {
		t.Errorf("attributes changed: %+v -> %+v", first, second)
	}
	if fmt.Sprint(second.LinkedProviders) != fmt.Sprint(first.LinkedProviders) {
		t.Errorf("providers changed: %v -> %v", first.LinkedProviders, second.LinkedProviders)
	}
	if rec.created != 1 || rec.merged != 1 {
		t.Errorf("created/merged = %d/%d, want 1/1", rec.created, rec.merged)
	}
	if got := fmt.Sprint(actions(store)); got != "[account_created login]" {
		t.Errorf("activity = %s, want [account_created login]", got)
	}
}

func TestService_Reconcile_MergeNeverRegresses(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Reconcile(ctx, "uid-1",
		model.ProfilePatch{Email: strPtr("taro@example.com"), PhoneNumber: strPtr("+81-90-1111-2222")},
		[]string{"google.com"},
	); err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}

	// 2回目はemailを持たないアサーション（例: 電話番号ログイン）
	a, err := svc.Reconcile(ctx, "uid-1",
		model.ProfilePatch{DisplayName: strPtr("Taro")},
		[]string{"phone"},
	)
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}

	if a.Email == nil || *a.Email != "taro@example.com" {
		t.Errorf("Email regressed to %v", a.Email)
	}
	if a.PhoneNumber == nil || *a.PhoneNumber != "+81-90-1111-2222" {
		t.Errorf("PhoneNumber regressed to %v", a.PhoneNumber)
	}
	if a.DisplayName == nil || *a.DisplayName != "Taro" {
		t.Errorf("DisplayName = %v, want Taro", a.DisplayName)
	}
	if fmt.Sprint(a.LinkedProviders) != "[google.com phone]" {
		t.Errorf("LinkedProviders = %v, want [google.com phone]", a.LinkedProviders)
	}
}

func TestService_Reconcile_EmptyStringOverwrites(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	svc.Reconcile(ctx, "uid-1", model.ProfilePatch{DisplayName: strPtr("Taro")}, nil)
	a, err := svc.Reconcile(ctx, "uid-1", model.ProfilePatch{DisplayName: strPtr("")}, nil)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if a.DisplayName == nil || *a.DisplayName != "" {
		t.Errorf("DisplayName = %v, want empty string", a.DisplayName)
	}
}

func TestService_Reconcile_DistinctSubjectsGetDistinctAccounts(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	a, _ := svc.Reconcile(ctx, "uid-1", model.ProfilePatch{Email: strPtr("same@example.com")}, []string{"google.com"})
	b, _ := svc.Reconcile(ctx, "uid-2", model.ProfilePatch{Email: strPtr("same@example.com")}, []string{"facebook.com"})

	if a.ID == b.ID {
		t.Errorf("distinct subjects share account %s", a.ID)
	}
}

func TestService_Reconcile_InvalidAssertion(t *testing.T) {
	svc, store, _ := newTestService(t)

	tests := []struct {
		name      string
		subject   string
		providers []string
	}{
		{"empty subject", "", nil},
		{"whitespace subject", "   ", nil},
		{"embedded space", "uid 1", nil},
		{"control character", "uid\x00", nil},
		{"newline", "uid\n1", nil},
		{"too long", strings.Repeat("a", 129), nil},
		{"invalid provider", "uid-1", []string{"google com"}},
		{"empty provider", "uid-1", []string{""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Reconcile(context.Background(), tt.subject, model.ProfilePatch{}, tt.providers)
			assertAPIErrorCode(t, err, model.ErrCodeInvalidAssertion)
		})
	}

	if n := len(store.ActivityLog()); n != 0 {
		t.Errorf("no activity expected for rejected assertions, got %d", n)
	}
}

func TestService_Reconcile_MaxLengthSubjectAccepted(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, err := svc.Reconcile(context.Background(), strings.Repeat("a", 128), model.ProfilePatch{}, nil); err != nil {
		t.Errorf("128-character subject should be accepted, got %v", err)
	}
}

func TestService_Reconcile_ProfileTooLong(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Reconcile(context.Background(), "uid-1",
		model.ProfilePatch{PhoneNumber: strPtr(strings.Repeat("9", 33))}, nil)
	assertAPIErrorCode(t, err, model.ErrCodeInvalidRequest)
}

func TestService_Reconcile_ConflictFallsBackToMerge(t *testing.T) {
	existing := &model.Account{ID: "acc-winner", LinkedProviders: []string{"google.com"}}
	lookups := 0
	var mergedID string

	repo := &mockAccountRepo{
		findBySubjectFn: func(ctx context.Context, subjectID string) (*model.Account, error) {
			lookups++
			if lookups == 1 {
				return nil, nil
			}
			return existing, nil
		},
		createWithIdentityFn: func(ctx context.Context, a *model.Account, i *model.Identity) error {
			return repository.ErrConflict
		},
		mergeFn: func(ctx context.Context, id string, p model.ProfilePatch, providers []string, at time.Time) (*model.Account, error) {
			mergedID = id
			return existing, nil
		},
	}
	rec := &recorderStub{}
	svc := NewService(repo, repository.NewMemoryStore().Activity(), rec)

	a, err := svc.Reconcile(context.Background(), "uid-1", model.ProfilePatch{}, []string{"google.com"})
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if a.ID != "acc-winner" || mergedID != "acc-winner" {
		t.Errorf("expected merge into acc-winner, got account %s merged %s", a.ID, mergedID)
	}
	if rec.created != 0 || rec.merged != 1 {
		t.Errorf("created/merged = %d/%d, want 0/1", rec.created, rec.merged)
	}
}

func TestService_Reconcile_ConcurrentSameSubject(t *testing.T) {
	svc, _, rec := newTestService(t)

	const n = 20
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := svc.Reconcile(context.Background(), "uid-race", model.ProfilePatch{}, []string{"google.com"})
			if err != nil {
				t.Errorf("Reconcile: %v", err)
				return
			}
			ids[i] = a.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("concurrent reconcile produced multiple accounts: %v", ids)
		}
	}
	if rec.created != 1 {
		t.Errorf("created = %d, want 1", rec.created)
	}
}

func TestService_Reconcile_StorageErrorPropagates(t *testing.T) {
	storeErr := errors.New("connection refused")
	repo := &mockAccountRepo{
		findBySubjectFn: func(ctx context.Context, subjectID string) (*model.Account, error) {
			return nil, storeErr
		},
	}
	svc := NewService(repo, repository.NewMemoryStore().Activity(), &recorderStub{})

	_, err := svc.Reconcile(context.Background(), "uid-1", model.ProfilePatch{}, nil)
	if !errors.Is(err, storeErr) {
		t.Errorf("expected wrapped storage error, got %v", err)
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		t.Errorf("storage failure must not be an APIError, got %v", apiErr)
	}
}

func TestService_Reconcile_ActivityFailureIsNotFatal(t *testing.T) {
	store := repository.NewMemoryStore()
	svc := NewService(store.Accounts(), failingActivityRepo{}, &recorderStub{})

	if _, err := svc.Reconcile(context.Background(), "uid-1", model.ProfilePatch{}, nil); err != nil {
		t.Errorf("activity failure should not fail reconcile, got %v", err)
	}
}

// --- LinkProvider ---

func TestService_LinkProvider_AddsProvider(t *testing.T) {
	svc, store, rec := newTestService(t)
	ctx := context.Background()

	a, _ := svc.Reconcile(ctx, "uid-1", model.ProfilePatch{}, []string{"google.com"})

	linked, err := svc.LinkProvider(ctx, a.ID, "facebook.com")
	if err != nil {
		t.Fatalf("LinkProvider: %v", err)
	}
	if fmt.Sprint(linked.LinkedProviders) != "[facebook.com google.com]" {
		t.Errorf("LinkedProviders = %v, want [facebook.com google.com]", linked.LinkedProviders)
	}
	if linked.ID != a.ID {
		t.Errorf("account ID changed: %s -> %s", a.ID, linked.ID)
	}
	if rec.linked != 1 {
		t.Errorf("linked count = %d, want 1", rec.linked)
	}

	logs := store.ActivityLog()
	last := logs[len(logs)-1]
	if last.Action != model.ActivityProviderLinked || last.Provider == nil || *last.Provider != "facebook.com" {
		t.Errorf("last activity = %+v, want provider_linked facebook.com", last)
	}
}

func TestService_LinkProvider_AlreadyLinkedIsNoOp(t *testing.T) {
	svc, store, rec := newTestService(t)
	ctx := context.Background()

	a, _ := svc.Reconcile(ctx, "uid-1", model.ProfilePatch{}, []string{"google.com"})
	before := len(store.ActivityLog())

	got, err := svc.LinkProvider(ctx, a.ID, "google.com")
	if err != nil {
		t.Fatalf("LinkProvider: %v", err)
	}
	if fmt.Sprint(got.LinkedProviders) != "[google.com]" {
		t.Errorf("LinkedProviders = %v, want [google.com]", got.LinkedProviders)
	}
	if after := len(store.ActivityLog()); after != before {
		t.Errorf("no-op link wrote %d activity entries", after-before)
	}
	if rec.linked != 0 {
		t.Errorf("linked count = %d, want 0", rec.linked)
	}
}

func TestService_LinkProviders_Multiple(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	a, _ := svc.Reconcile(ctx, "uid-1", model.ProfilePatch{}, []string{"google.com"})

	got, err := svc.LinkProviders(ctx, a.ID, []string{"apple.com", "google.com", "facebook.com", "apple.com"})
	if err != nil {
		t.Fatalf("LinkProviders: %v", err)
	}
	if fmt.Sprint(got.LinkedProviders) != "[apple.com facebook.com google.com]" {
		t.Errorf("LinkedProviders = %v", got.LinkedProviders)
	}

	linkedEntries := 0
	for _, e := range store.ActivityLog() {
		if e.Action == model.ActivityProviderLinked {
			linkedEntries++
		}
	}
	if linkedEntries != 2 {
		t.Errorf("provider_linked entries = %d, want 2", linkedEntries)
	}
}

func TestService_LinkProvider_Errors(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	a, _ := svc.Reconcile(ctx, "uid-1", model.ProfilePatch{}, nil)

	_, err := svc.LinkProvider(ctx, "missing-account", "facebook.com")
	assertAPIErrorCode(t, err, model.ErrCodeAccountNotFound)

	_, err = svc.LinkProvider(ctx, a.ID, "face book")
	assertAPIErrorCode(t, err, model.ErrCodeInvalidProvider)

	_, err = svc.LinkProvider(ctx, a.ID, strings.Repeat("p", 65))
	assertAPIErrorCode(t, err, model.ErrCodeInvalidProvider)
}

// --- UpdateProfile ---

func TestService_UpdateProfile_PartialMerge(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	a, _ := svc.Reconcile(ctx, "uid-1",
		model.ProfilePatch{Email: strPtr("taro@example.com"), DisplayName: strPtr("Taro")}, nil)

	got, err := svc.UpdateProfile(ctx, a.ID, model.ProfilePatch{PhoneNumber: strPtr("+81-3-0000-0000")})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if *got.Email != "taro@example.com" || *got.DisplayName != "Taro" {
		t.Errorf("untouched fields changed: %+v", got)
	}
	if got.PhoneNumber == nil || *got.PhoneNumber != "+81-3-0000-0000" {
		t.Errorf("PhoneNumber = %v", got.PhoneNumber)
	}

	logs := store.ActivityLog()
	last := logs[len(logs)-1]
	if last.Action != model.ActivityProfileUpdated {
		t.Errorf("last activity = %s, want profile_updated", last.Action)
	}
	if fmt.Sprint(last.Details["fields"]) != "[phoneNumber]" {
		t.Errorf("details fields = %v, want [phoneNumber]", last.Details["fields"])
	}
}

func TestService_UpdateProfile_EmptyPatchDoesNotWrite(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return frozen }
	a, _ := svc.Reconcile(ctx, "uid-1", model.ProfilePatch{}, nil)

	svc.now = func() time.Time { return frozen.Add(time.Hour) }
	got, err := svc.UpdateProfile(ctx, a.ID, model.ProfilePatch{})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if !got.UpdatedAt.Equal(frozen) {
		t.Errorf("UpdatedAt = %v, want unchanged %v", got.UpdatedAt, frozen)
	}
	if n := len(store.ActivityLog()); n != 1 {
		t.Errorf("activity entries = %d, want 1", n)
	}
}

func TestService_UpdateProfile_UnknownAccount(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.UpdateProfile(context.Background(), "missing", model.ProfilePatch{DisplayName: strPtr("x")})
	assertAPIErrorCode(t, err, model.ErrCodeAccountNotFound)

	_, err = svc.UpdateProfile(context.Background(), "missing", model.ProfilePatch{})
	assertAPIErrorCode(t, err, model.ErrCodeAccountNotFound)
}

func TestService_UpdateProfile_BumpsUpdatedAt(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return created }
	a, _ := svc.Reconcile(ctx, "uid-1", model.ProfilePatch{}, nil)

	later := created.Add(24 * time.Hour)
	svc.now = func() time.Time { return later }
	got, err := svc.UpdateProfile(ctx, a.ID, model.ProfilePatch{DisplayName: strPtr("Hanako")})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if !got.UpdatedAt.Equal(later) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, later)
	}
}

// --- AccountBySubject ---

func TestService_AccountBySubject(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	a, _ := svc.Reconcile(ctx, "uid-1", model.ProfilePatch{}, nil)

	got, err := svc.AccountBySubject(ctx, "uid-1")
	if err != nil {
		t.Fatalf("AccountBySubject: %v", err)
	}
	if got.ID != a.ID {
		t.Errorf("ID = %s, want %s", got.ID, a.ID)
	}

	_, err = svc.AccountBySubject(ctx, "uid-unknown")
	assertAPIErrorCode(t, err, model.ErrCodeAccountNotFound)

	_, err = svc.AccountBySubject(ctx, "")
	assertAPIErrorCode(t, err, model.ErrCodeInvalidAssertion)
}
