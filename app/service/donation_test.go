package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-donations/app/entity"
	"github.com/vibast-solutions/ms-go-donations/app/provider"
	"github.com/vibast-solutions/ms-go-donations/config"
)

func TestCreateCheckoutPersistsPendingDonation(t *testing.T) {
	env := newTestEnv(t, defaultDonationsConfig())

	result, err := env.service.CreateCheckout(context.Background(), checkoutRequest{
		amount:         1000,
		source:         "flyer_a",
		provider:       entity.ProviderPayPay,
		idempotencyKey: "idem-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := result.Donation
	if result.Replayed {
		t.Fatal("expected a fresh checkout")
	}
	if !strings.HasPrefix(d.ID, "don_") || len(d.ID) != len("don_")+16 {
		t.Fatalf("unexpected donation id %q", d.ID)
	}
	if d.Status != entity.StatusPending || d.Currency != "JPY" || d.Amount != 1000 {
		t.Fatalf("unexpected donation: %+v", d)
	}
	if !strings.HasPrefix(d.ProviderOrderID, "paypay_") || d.RedirectURL == "" || d.CompletedAt != nil {
		t.Fatalf("unexpected provider fields: %+v", d)
	}

	stored, err := env.service.GetDonation(context.Background(), d.ID)
	if err != nil || stored.ProviderOrderID != d.ProviderOrderID {
		t.Fatalf("expected stored donation, got %+v, %v", stored, err)
	}
}

func TestCreateCheckoutProviderNotConfigured(t *testing.T) {
	env := newTestEnv(t, defaultDonationsConfig(), &fakeProvider{code: entity.ProviderPayPay})

	_, err := env.service.CreateCheckout(context.Background(), checkoutRequest{
		amount:   1000,
		source:   "flyer_a",
		provider: entity.ProviderRakuten,
	})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestCreateCheckoutProviderFailureLeavesNoDonation(t *testing.T) {
	failing := &fakeProvider{
		code: entity.ProviderPayPay,
		createFn: func(context.Context, *provider.CheckoutSessionInput) (*provider.CheckoutSessionResult, error) {
			return nil, errors.New("upstream timeout")
		},
	}
	env := newTestEnv(t, defaultDonationsConfig(), failing)

	_, err := env.service.CreateCheckout(context.Background(), checkoutRequest{
		amount:         1000,
		source:         "flyer_a",
		provider:       entity.ProviderPayPay,
		idempotencyKey: "idem-fail",
	})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}

	orphan, err := env.donations.FindByIdempotencyKey(context.Background(), entity.ProviderPayPay, "idem-fail")
	if err != nil || orphan != nil {
		t.Fatalf("expected no donation after provider failure, got %+v, %v", orphan, err)
	}
}

func TestCreateCheckoutRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t, defaultDonationsConfig())

	_, err := env.service.CreateCheckout(context.Background(), checkoutRequest{provider: entity.ProviderPayPay, source: "x"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestCreateCheckoutIdempotentReplay(t *testing.T) {
	fake := &fakeProvider{code: entity.ProviderPayPay}
	env := newTestEnv(t, defaultDonationsConfig(), fake)
	req := checkoutRequest{amount: 3000, source: "poster", provider: entity.ProviderPayPay, idempotencyKey: "idem-replay"}

	first, err := env.service.CreateCheckout(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := env.service.CreateCheckout(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !second.Replayed || second.Donation.ID != first.Donation.ID || second.Donation.RedirectURL != first.Donation.RedirectURL {
		t.Fatalf("expected replay of %s, got %+v", first.Donation.ID, second)
	}
	if fake.calls.Load() != 1 {
		t.Fatalf("expected one provider session, got %d", fake.calls.Load())
	}
}

func TestCreateCheckoutIdempotencyConflict(t *testing.T) {
	env := newTestEnv(t, defaultDonationsConfig(), &fakeProvider{code: entity.ProviderPayPay})
	req := checkoutRequest{amount: 3000, source: "poster", provider: entity.ProviderPayPay, idempotencyKey: "idem-conflict"}

	if _, err := env.service.CreateCheckout(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req.amount = 5000
	if _, err := env.service.CreateCheckout(context.Background(), req); !errors.Is(err, ErrIdempotencyConflict) {
		t.Fatalf("expected ErrIdempotencyConflict, got %v", err)
	}
}

func TestCreateCheckoutIdempotencyWindowElapsed(t *testing.T) {
	fake := &fakeProvider{code: entity.ProviderPayPay}
	env := newTestEnv(t, defaultDonationsConfig(), fake)
	req := checkoutRequest{amount: 3000, source: "poster", provider: entity.ProviderPayPay, idempotencyKey: "idem-window"}

	first, err := env.service.CreateCheckout(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	env.service.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	second, err := env.service.CreateCheckout(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if second.Replayed || second.Donation.ID == first.Donation.ID {
		t.Fatal("expected a new donation once the idempotency window elapsed")
	}
}

func TestCreateCheckoutIdempotencyDisabled(t *testing.T) {
	fake := &fakeProvider{code: entity.ProviderPayPay}
	cfg := defaultDonationsConfig()
	cfg.IdempotencyWindow = 0
	env := newTestEnv(t, cfg, fake)
	req := checkoutRequest{amount: 3000, source: "poster", provider: entity.ProviderPayPay, idempotencyKey: "idem-off"}

	first, _ := env.service.CreateCheckout(context.Background(), req)
	second, _ := env.service.CreateCheckout(context.Background(), req)
	if first.Donation.ID == second.Donation.ID || fake.calls.Load() != 2 {
		t.Fatal("expected distinct donations when idempotency is disabled")
	}
}

func TestCreateCheckoutConcurrentDuplicatesCollapse(t *testing.T) {
	release := make(chan struct{})
	fake := &fakeProvider{code: entity.ProviderPayPay}
	fake.createFn = func(_ context.Context, input *provider.CheckoutSessionInput) (*provider.CheckoutSessionResult, error) {
		<-release
		return &provider.CheckoutSessionResult{
			RedirectURL:     "https://checkout.example/" + input.OrderID,
			ProviderOrderID: "paypay_concurrent",
			ExpiresAt:       time.Now().UTC().Add(time.Hour),
		}, nil
	}
	env := newTestEnv(t, defaultDonationsConfig(), fake)
	req := checkoutRequest{amount: 1000, source: "flyer_a", provider: entity.ProviderPayPay, idempotencyKey: "idem-concurrent"}

	const callers = 10
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[string]struct{}{}
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := env.service.CreateCheckout(context.Background(), req)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			mu.Lock()
			ids[result.Donation.ID] = struct{}{}
			mu.Unlock()
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if len(ids) != 1 {
		t.Fatalf("expected one donation for concurrent duplicates, got %d", len(ids))
	}
	if fake.calls.Load() != 1 {
		t.Fatalf("expected one provider session, got %d", fake.calls.Load())
	}
}

func TestGetDonationNotFound(t *testing.T) {
	env := newTestEnv(t, defaultDonationsConfig())

	if _, err := env.service.GetDonation(context.Background(), "don_missing"); !errors.Is(err, ErrDonationNotFound) {
		t.Fatalf("expected ErrDonationNotFound, got %v", err)
	}
	if _, _, err := env.service.ListDonationEvents(context.Background(), "don_missing"); !errors.Is(err, ErrDonationNotFound) {
		t.Fatalf("expected ErrDonationNotFound, got %v", err)
	}
}

func TestNewDonationServiceAppliesDefaults(t *testing.T) {
	env := newTestEnv(t, config.DonationsConfig{IdempotencyWindow: time.Hour}, &fakeProvider{code: entity.ProviderPayPay})

	result, err := env.service.CreateCheckout(context.Background(), checkoutRequest{amount: 500, source: "x", provider: entity.ProviderPayPay})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Donation.Currency != "JPY" {
		t.Fatalf("expected default currency, got %q", result.Donation.Currency)
	}
	if codes := env.service.Providers(); len(codes) != 1 || codes[0] != entity.ProviderPayPay {
		t.Fatalf("unexpected providers %v", codes)
	}
}
