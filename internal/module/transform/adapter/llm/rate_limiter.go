package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jinford/survey-twin/internal/module/transform/domain"
)

// RateLimiter はエンジン呼び出しのレート制限を管理する
// interval毎にmaxRequestsまでトークンを補充するトークンバケット
type RateLimiter struct {
	mu sync.Mutex

	maxRequests int
	interval    time.Duration
	tokens      int
	lastRefill  time.Time
	waitQueue   int

	// semaphore は同時実行数を制御する
	semaphore chan struct{}
}

// NewRateLimiter は1分あたりmaxRequestsPerMinuteのRateLimiterを作成する
func NewRateLimiter(maxRequestsPerMinute int) *RateLimiter {
	return newRateLimiter(maxRequestsPerMinute, time.Minute)
}

func newRateLimiter(maxRequests int, interval time.Duration) *RateLimiter {
	if maxRequests < 1 {
		maxRequests = 1
	}
	return &RateLimiter{
		maxRequests: maxRequests,
		interval:    interval,
		tokens:      maxRequests,
		lastRefill:  time.Now(),
		semaphore:   make(chan struct{}, maxRequests),
	}
}

// Wait はレート制限に従って待機し、実行権限を取得する
// 取得できた場合は必ずReleaseを呼ぶこと
func (rl *RateLimiter) Wait(ctx context.Context) error {
	select {
	case rl.semaphore <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for {
		rl.refillLocked()
		if rl.tokens > 0 {
			rl.tokens--
			return nil
		}

		rl.waitQueue++
		wait := rl.interval - time.Since(rl.lastRefill)
		rl.mu.Unlock()

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			rl.mu.Lock()
			rl.waitQueue--
			<-rl.semaphore
			return ctx.Err()
		}

		rl.mu.Lock()
		rl.waitQueue--
	}
}

// Release は実行権限を解放する
func (rl *RateLimiter) Release() {
	<-rl.semaphore
}

// refillLocked は経過したinterval分のトークンを補充する
func (rl *RateLimiter) refillLocked() {
	elapsed := time.Since(rl.lastRefill)
	if elapsed < rl.interval {
		return
	}
	periods := int(elapsed / rl.interval)
	rl.tokens = min(rl.tokens+periods*rl.maxRequests, rl.maxRequests)
	rl.lastRefill = rl.lastRefill.Add(time.Duration(periods) * rl.interval)
}

// Status は現在の状態を返す
func (rl *RateLimiter) Status() RateLimiterStatus {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked()
	return RateLimiterStatus{
		MaxRequests:     rl.maxRequests,
		AvailableTokens: rl.tokens,
		WaitingRequests: rl.waitQueue,
		ActiveRequests:  len(rl.semaphore),
	}
}

// RateLimiterStatus はレート制限の状態
type RateLimiterStatus struct {
	MaxRequests     int
	AvailableTokens int
	WaitingRequests int
	ActiveRequests  int
}

// String はステータスを文字列表現で返す
func (s RateLimiterStatus) String() string {
	return fmt.Sprintf("RateLimiter: max=%d, available=%d, waiting=%d, active=%d",
		s.MaxRequests, s.AvailableTokens, s.WaitingRequests, s.ActiveRequests)
}

// ThrottledEngine はレート制限付きの変換エンジン
type ThrottledEngine struct {
	engine  domain.Engine
	limiter *RateLimiter
}

var _ domain.Engine = (*ThrottledEngine)(nil)

// NewThrottledEngine はレート制限付きのエンジンを作成する
func NewThrottledEngine(engine domain.Engine, maxRequestsPerMinute int) *ThrottledEngine {
	return &ThrottledEngine{
		engine:  engine,
		limiter: NewRateLimiter(maxRequestsPerMinute),
	}
}

// Transform はレート制限に従ってエンジンを呼び出す
// 待機中のタイムアウトはリトライ対象として返す
func (t *ThrottledEngine) Transform(ctx context.Context, req domain.EngineRequest) ([]domain.Sentence, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, domain.NewTransientError(fmt.Errorf("rate limiter wait failed: %w", err))
	}
	defer t.limiter.Release()

	return t.engine.Transform(ctx, req)
}

// LimiterStatus はレート制限の状態を返す
func (t *ThrottledEngine) LimiterStatus() RateLimiterStatus {
	return t.limiter.Status()
}
