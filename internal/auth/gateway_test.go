package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"arewa.org/internal/access"
	"arewa.org/internal/apperr"
	"arewa.org/internal/cache"
	"arewa.org/internal/clock"
	"arewa.org/internal/ratelimit"
	"arewa.org/internal/token"
)

const testPassword = "correct horse battery staple"

type fixture struct {
	gw    *Gateway
	ids   *MemoryIdentities
	gate  *ratelimit.Gate
	clock *clock.Manual
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	clk := clock.NewManual(time.Date(2024, 4, 2, 8, 30, 0, 0, time.UTC))
	gate := ratelimit.New(cache.NewMemory(clk), ratelimit.WithClock(clk))
	tokens, err := token.NewStore(token.NewMemoryRepository(), gate, token.WithClock(clk))
	if err != nil {
		t.Fatalf("token.NewStore: %v", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	ids := NewMemoryIdentities()
	ids.Put(access.User{ID: "u-1", Email: "Amina@Example.org", Type: access.UserResearcher, Active: true}, string(hash))
	ids.Put(access.User{ID: "u-2", Email: "idle@example.org", Type: access.UserDonor, Active: false}, string(hash))

	gw, err := NewGateway(ids, tokens, gate)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	return fixture{gw: gw, ids: ids, gate: gate, clock: clk}
}

func login(email, password string) LoginRequest {
	return LoginRequest{Email: email, Password: password, ClientIP: "10.0.0.7", DeviceID: "reader-app"}
}

func TestAuthenticateIssuesToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.gw.Authenticate(ctx, login("  amina@example.org ", testPassword))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if sess.Token == "" || sess.User.ID != "u-1" {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if sess.ExpiresIn != 24*time.Hour || !sess.ExpiresAt.Equal(f.clock.Now().Add(24*time.Hour)) {
		t.Fatalf("unexpected expiry: %v %v", sess.ExpiresIn, sess.ExpiresAt)
	}

	p, err := f.gw.ValidateBearerToken(ctx, sess.Token)
	if err != nil {
		t.Fatalf("ValidateBearerToken: %v", err)
	}
	if p.User.ID != "u-1" || p.TokenID != sess.TokenID {
		t.Fatalf("unexpected principal: %+v", p)
	}
	if p.CanReview() {
		t.Fatalf("researcher must not review requests")
	}
}

func TestUnknownEmailAndWrongPasswordLookAlike(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, errUnknown := f.gw.Authenticate(ctx, login("nobody@example.org", testPassword))
	_, errWrong := f.gw.Authenticate(ctx, login("amina@example.org", "wrong"))
	if !errors.Is(errUnknown, apperr.ErrInvalidCredentials) || !errors.Is(errWrong, apperr.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v / %v", errUnknown, errWrong)
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Fatalf("errors must not reveal which check failed: %q vs %q", errUnknown, errWrong)
	}
	n, err := f.gate.Attempts(ctx, LoginKey("10.0.0.7"))
	if err != nil || n != 2 {
		t.Fatalf("expected 2 recorded failures, got %d (%v)", n, err)
	}
}

func TestLockoutAfterFiveFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := f.gw.Authenticate(ctx, login("amina@example.org", "nope")); !errors.Is(err, apperr.ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	_, err := f.gw.Authenticate(ctx, login("amina@example.org", testPassword))
	if !errors.Is(err, apperr.ErrRateLimited) {
		t.Fatalf("expected lockout, got %v", err)
	}
	if got := apperr.RetryAfterOf(err); got != 300*time.Second {
		t.Fatalf("unexpected retry hint %s", got)
	}

	// Other clients are unaffected.
	other := login("amina@example.org", testPassword)
	other.ClientIP = "10.0.0.8"
	if _, err := f.gw.Authenticate(ctx, other); err != nil {
		t.Fatalf("other client: %v", err)
	}

	f.clock.Advance(300 * time.Second)
	if _, err := f.gw.Authenticate(ctx, login("amina@example.org", testPassword)); err != nil {
		t.Fatalf("expected login after lockout window, got %v", err)
	}
}

// slowVerifier widens the gap between the lockout check and the password
// comparison and counts how many comparisons actually ran.
type slowVerifier struct {
	delay time.Duration
	calls atomic.Int64
}

func (v *slowVerifier) Verify(string, string) error {
	v.calls.Add(1)
	time.Sleep(v.delay)
	return errPasswordMismatch
}

func TestParallelGuessesCannotOutrunLockout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	verifier := &slowVerifier{delay: 20 * time.Millisecond}
	f.gw.verifier = verifier

	var (
		wg      sync.WaitGroup
		limited atomic.Int64
		wrong   atomic.Int64
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.gw.Authenticate(ctx, login("amina@example.org", "guess"))
			switch {
			case errors.Is(err, apperr.ErrRateLimited):
				limited.Add(1)
			case errors.Is(err, apperr.ErrInvalidCredentials):
				wrong.Add(1)
			default:
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()

	if got := verifier.calls.Load(); got != DefaultLoginLimit {
		t.Fatalf("expected %d password checks, got %d", DefaultLoginLimit, got)
	}
	if wrong.Load() != DefaultLoginLimit || limited.Load() != 50-DefaultLoginLimit {
		t.Fatalf("expected %d wrong and %d limited, got %d and %d",
			DefaultLoginLimit, 50-DefaultLoginLimit, wrong.Load(), limited.Load())
	}
}

func TestSuccessClearsFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = f.gw.Authenticate(ctx, login("amina@example.org", "nope"))
	}
	if _, err := f.gw.Authenticate(ctx, login("amina@example.org", testPassword)); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if n, _ := f.gate.Attempts(ctx, LoginKey("10.0.0.7")); n != 0 {
		t.Fatalf("expected cleared counter, got %d", n)
	}
}

func TestMalformedInputCountsAsFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.gw.Authenticate(ctx, login("not-an-email", testPassword))
	if apperr.FieldOf(err) != "email" {
		t.Fatalf("expected email validation error, got %v", err)
	}
	_, err = f.gw.Authenticate(ctx, login("amina@example.org", ""))
	if apperr.FieldOf(err) != "password" {
		t.Fatalf("expected password validation error, got %v", err)
	}
	if n, _ := f.gate.Attempts(ctx, LoginKey("10.0.0.7")); n != 2 {
		t.Fatalf("expected 2 recorded failures, got %d", n)
	}
}

func TestDisabledAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.gw.Authenticate(ctx, login("idle@example.org", "wrong")); !errors.Is(err, apperr.ErrInvalidCredentials) {
		t.Fatalf("wrong password on disabled account: %v", err)
	}
	if _, err := f.gw.Authenticate(ctx, login("idle@example.org", testPassword)); !errors.Is(err, apperr.ErrAccountDisabled) {
		t.Fatalf("expected account disabled, got %v", err)
	}
}

func TestValidateBearerTokenOwnerChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.gw.Authenticate(ctx, login("amina@example.org", testPassword))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	f.ids.SetActive("u-1", false)
	if _, err := f.gw.ValidateBearerToken(ctx, sess.Token); !errors.Is(err, apperr.ErrAccountDisabled) {
		t.Fatalf("expected account disabled, got %v", err)
	}

	f.ids.Remove("u-1")
	if _, err := f.gw.ValidateBearerToken(ctx, sess.Token); !errors.Is(err, apperr.ErrTokenInvalidOrExpired) {
		t.Fatalf("expected invalid token for removed owner, got %v", err)
	}

	if _, err := f.gw.ValidateBearerToken(ctx, "garbage"); !errors.Is(err, apperr.ErrTokenInvalidOrExpired) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestAuthenticateSurfacesStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.gw.identities = brokenIdentities{}
	_, err := f.gw.Authenticate(context.Background(), login("amina@example.org", testPassword))
	if !errors.Is(err, apperr.ErrInfrastructure) {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
}

type brokenIdentities struct{}

func (brokenIdentities) FindByEmail(context.Context, string) (*Credentials, error) {
	return nil, errors.New("connection refused")
}

func (brokenIdentities) FindByID(context.Context, string) (*access.User, error) {
	return nil, errors.New("connection refused")
}
