package application

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jinford/survey-twin/internal/module/transform/domain"
)

// RowOutcome は1行の処理結果です
type RowOutcome struct {
	Status     domain.RowStatus
	RetryCount int
	Message    string
	// Fatal はジョブ全体を停止させるインフラ障害。設定時は行を確定扱いにしない
	Fatal error
	// Claimed は処理中レコードを書き込み済みかどうか。以前の結果は上書きされている
	Claimed bool
}

// RowFunc は1行を処理する関数です
type RowFunc func(ctx context.Context, rowIndex int) RowOutcome

// SchedulerHooks はスケジューラからの通知先です
// いずれも呼び出し元のゴルーチンでは実行されず、スケジューラのロック外で呼ばれる
type SchedulerHooks struct {
	OnDispatch func(rowIndex int)
	OnSettled  func(rowIndex int, outcome RowOutcome)
	// OnIdle はディスパッチ中に処理対象・処理中の行がなくなったときに1回呼ばれる
	OnIdle func()
}

// RowScheduler は行インデックス昇順・ギャップ埋めで行をディスパッチする有界プールです
type RowScheduler struct {
	mu sync.Mutex

	run    RowFunc
	hooks  SchedulerHooks
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	concurrency    int
	effectiveTotal int
	dispatching    bool
	next           int

	settled  map[int]domain.RowStatus
	inFlight map[int]struct{}
	// pinned はretryRowで要求され、まだ起動していない行
	pinned []int
	// prior は再処理中の行の以前の確定状態。再処理が確定しなかった場合に戻す
	prior map[int]domain.RowStatus

	processed int
	failed    int
}

// NewRowScheduler は新しいRowSchedulerを作成します
func NewRowScheduler(parent context.Context, run RowFunc, hooks SchedulerHooks, concurrency, effectiveTotal int, logger *slog.Logger) *RowScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	ctx, cancel := context.WithCancel(parent)
	return &RowScheduler{
		run:            run,
		hooks:          hooks,
		logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
		concurrency:    concurrency,
		effectiveTotal: effectiveTotal,
		settled:        make(map[int]domain.RowStatus),
		inFlight:       make(map[int]struct{}),
		prior:          make(map[int]domain.RowStatus),
	}
}

// Seed は永続化された確定行で内部状態を置き換えます
// 処理中または起動待ちの行は確定扱いにしない
func (s *RowScheduler) Seed(terminal map[int]domain.RowStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settled = make(map[int]domain.RowStatus, len(terminal))
	for idx, status := range terminal {
		if !status.IsTerminal() || s.isClaimedLocked(idx) {
			continue
		}
		s.settled[idx] = status
	}
	s.recountLocked()
}

// Start は行0からのギャップスキャンでディスパッチを開始します
func (s *RowScheduler) Start() {
	s.mu.Lock()
	s.dispatching = true
	s.next = 0
	s.mu.Unlock()

	s.fill()
}

// Halt は新規ディスパッチを停止します。処理中の行は中断しない
func (s *RowScheduler) Halt() {
	s.mu.Lock()
	s.dispatching = false
	s.mu.Unlock()
}

// Drop はディスパッチを停止し、待機中の行を破棄してその件数を返します
// 起動前の再処理要求は取り消し、以前の確定状態に戻す
func (s *RowScheduler) Drop() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dispatching = false
	for _, idx := range s.pinned {
		if prev, ok := s.prior[idx]; ok {
			s.settled[idx] = prev
			delete(s.prior, idx)
		}
	}
	s.pinned = nil
	s.recountLocked()
	waiting := s.effectiveTotal - s.processed
	for idx := range s.inFlight {
		if idx < s.effectiveTotal {
			waiting--
		}
	}
	if waiting < 0 {
		waiting = 0
	}
	return waiting
}

// Abort は実行コンテキストをキャンセルし、処理中の行が終わるまで待ちます
// 中断された行の結果は通知されない
func (s *RowScheduler) Abort() {
	s.mu.Lock()
	s.dispatching = false
	s.pinned = nil
	clear(s.prior)
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// Wait は処理中の行がすべて終わるまで待ちます
func (s *RowScheduler) Wait() {
	s.wg.Wait()
}

// DispatchRow は1行を再処理のためにキューの先頭へ積みます
// 同時実行数の上限は守られ、空きスロットができ次第ほかの行より先に起動する
// 以前の確定結果は集計から外され、その状態を返します
func (s *RowScheduler) DispatchRow(rowIndex int) (domain.RowStatus, error) {
	s.mu.Lock()
	if rowIndex < 0 || rowIndex >= s.effectiveTotal {
		s.mu.Unlock()
		return "", domain.ErrRowOutOfRange
	}
	if s.isClaimedLocked(rowIndex) {
		s.mu.Unlock()
		return "", domain.ErrRowInFlight
	}
	prev, wasSettled := s.settled[rowIndex]
	if wasSettled {
		delete(s.settled, rowIndex)
		s.prior[rowIndex] = prev
		s.recountLocked()
	}
	s.pinned = append(s.pinned, rowIndex)
	s.mu.Unlock()

	s.fill()
	return prev, nil
}

// SetConcurrency は以降のディスパッチに適用する同時実行数を設定します
func (s *RowScheduler) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	s.concurrency = n
	s.mu.Unlock()

	s.fill()
}

// SetEffectiveTotal は処理対象の行数を設定し、集計をやり直します
func (s *RowScheduler) SetEffectiveTotal(n int) {
	s.mu.Lock()
	s.effectiveTotal = n
	s.recountLocked()
	s.mu.Unlock()

	s.fill()
}

// Tally は処理対象範囲内の確定行数と失敗行数を返します
func (s *RowScheduler) Tally() (processed, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed, s.failed
}

// InFlight は処理中の行数を返します
func (s *RowScheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// IsInFlight は行が処理中または起動待ちかどうかを返します
func (s *RowScheduler) IsInFlight(rowIndex int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isClaimedLocked(rowIndex)
}

func (s *RowScheduler) isClaimedLocked(rowIndex int) bool {
	if _, ok := s.inFlight[rowIndex]; ok {
		return true
	}
	for _, idx := range s.pinned {
		if idx == rowIndex {
			return true
		}
	}
	return false
}

func (s *RowScheduler) recountLocked() {
	s.processed, s.failed = 0, 0
	for idx, status := range s.settled {
		if idx >= s.effectiveTotal {
			continue
		}
		s.processed++
		if status == domain.RowStatusFailed {
			s.failed++
		}
	}
}

// nextEligibleLocked は未確定かつ処理中でない最小の行インデックスを返します
func (s *RowScheduler) nextEligibleLocked() (int, bool) {
	for s.next < s.effectiveTotal {
		idx := s.next
		s.next++
		if _, done := s.settled[idx]; done {
			continue
		}
		if s.isClaimedLocked(idx) {
			continue
		}
		return idx, true
	}
	return 0, false
}

// fill は空きスロットを埋めます
func (s *RowScheduler) fill() {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}

	var launch []int
	for len(s.pinned) > 0 && len(s.inFlight) < s.concurrency {
		idx := s.pinned[0]
		s.pinned = s.pinned[1:]
		s.inFlight[idx] = struct{}{}
		launch = append(launch, idx)
	}
	for s.dispatching && len(s.inFlight) < s.concurrency {
		idx, ok := s.nextEligibleLocked()
		if !ok {
			break
		}
		s.inFlight[idx] = struct{}{}
		launch = append(launch, idx)
	}

	idle := s.dispatching && len(s.inFlight) == 0 && len(s.pinned) == 0
	if idle {
		s.dispatching = false
	}
	if n := len(launch); n > 0 {
		s.wg.Add(n)
	}
	if idle {
		s.wg.Add(1)
	}
	s.mu.Unlock()

	for _, idx := range launch {
		go s.work(idx)
	}
	if idle {
		go func() {
			defer s.wg.Done()
			if s.hooks.OnIdle != nil {
				s.hooks.OnIdle()
			}
		}()
	}
}

func (s *RowScheduler) work(rowIndex int) {
	defer s.wg.Done()

	if s.hooks.OnDispatch != nil {
		s.hooks.OnDispatch(rowIndex)
	}

	outcome := s.run(s.ctx, rowIndex)

	s.mu.Lock()
	delete(s.inFlight, rowIndex)
	aborted := s.ctx.Err() != nil
	prev, retried := s.prior[rowIndex]
	delete(s.prior, rowIndex)
	switch {
	case aborted:
	case outcome.Fatal != nil:
		s.dispatching = false
		// 結果ストアに手を付ける前に止まった再処理は以前の確定状態のまま
		if retried && !outcome.Claimed {
			s.settled[rowIndex] = prev
		}
	case outcome.Status.IsTerminal():
		s.settled[rowIndex] = outcome.Status
	default:
		s.logger.Warn("row finished without terminal status", "rowIndex", rowIndex, "status", outcome.Status)
	}
	s.recountLocked()
	s.mu.Unlock()

	if aborted {
		s.logger.Debug("discarding aborted row outcome", "rowIndex", rowIndex)
		return
	}
	if s.hooks.OnSettled != nil {
		s.hooks.OnSettled(rowIndex, outcome)
	}
	s.fill()
}
