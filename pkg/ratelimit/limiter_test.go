package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAllowBurst(t *testing.T) {
	limiter := NewRateLimiter(1, 5) // медленный refill, burst 5

	// Полное ведро на старте: первые burst запросов проходят
	for i := 0; i < 5; i++ {
		if !limiter.Allow() {
			t.Fatalf("запрос %d отклонён, burst должен пропустить 5", i)
		}
	}

	if limiter.Allow() {
		t.Error("шестой запрос должен быть отклонён, ведро пустое")
	}
}

func TestAllowRefill(t *testing.T) {
	limiter := NewRateLimiter(100, 1) // быстрый refill для теста

	if !limiter.Allow() {
		t.Fatal("первый запрос должен пройти")
	}
	if limiter.Allow() {
		t.Fatal("ведро пустое")
	}

	// 100 токенов/сек: через 50ms точно есть токен
	time.Sleep(50 * time.Millisecond)
	if !limiter.Allow() {
		t.Error("токен должен был пополниться")
	}
}

func TestWaitBlocksUntilToken(t *testing.T) {
	limiter := NewRateLimiter(50, 1)
	ctx := context.Background()

	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	// Второй Wait должен подождать ~20ms до следующего токена
	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("Wait вернулся через %v, ожидалось блокирующее ожидание", elapsed)
	}
}

func TestWaitContextCancel(t *testing.T) {
	limiter := NewRateLimiter(0.001, 1) // практически без refill
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("первый Wait: %v", err)
	}

	err := limiter.Wait(ctx)
	if err != context.DeadlineExceeded {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestTokensCap(t *testing.T) {
	limiter := NewRateLimiter(1000, 3)

	time.Sleep(20 * time.Millisecond)

	// Токены не накапливаются выше burst
	if tokens := limiter.Tokens(); tokens > 3 {
		t.Errorf("tokens = %v, выше ёмкости 3", tokens)
	}
}

func TestDefaults(t *testing.T) {
	limiter := NewRateLimiter(0, 0)
	if limiter.rate != 10 {
		t.Errorf("rate = %v, want дефолт 10", limiter.rate)
	}
	if limiter.burst != 20 {
		t.Errorf("burst = %v, want 2x rate", limiter.burst)
	}
}

func TestSmallBucketKeepsCapacity(t *testing.T) {
	// Быстрый refill с маленьким ведром - валидная комбинация:
	// ёмкость не подгоняется под rate
	limiter := NewRateLimiter(100, 1)
	if limiter.burst != 1 {
		t.Fatalf("burst = %v, want 1", limiter.burst)
	}

	if !limiter.Allow() {
		t.Fatal("первый запрос должен пройти")
	}
	if limiter.Allow() {
		t.Error("второй запрос должен быть отклонён, ёмкость 1")
	}
}
