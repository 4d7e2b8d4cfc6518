package testing

import (
	"context"
	"fmt"
	"sync"

	"github.com/jinford/survey-twin/internal/module/transform/domain"
)

// MockEngine はテスト用のモックEngineです
// TransformFuncが未設定の場合は列ごとに1文を返す
type MockEngine struct {
	TransformFunc func(ctx context.Context, req domain.EngineRequest) ([]domain.Sentence, error)

	mu    sync.Mutex
	calls []domain.EngineRequest
}

// Transform はTransformのモック実装です
func (m *MockEngine) Transform(ctx context.Context, req domain.EngineRequest) ([]domain.Sentence, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if m.TransformFunc != nil {
		return m.TransformFunc(ctx, req)
	}
	return EchoSentences(req), nil
}

// Calls は記録された呼び出しのコピーを返します
func (m *MockEngine) Calls() []domain.EngineRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.EngineRequest(nil), m.calls...)
}

// CallsForRow は指定行の呼び出し回数を返します
func (m *MockEngine) CallsForRow(rowIndex int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.RowIndex == rowIndex {
			n++
		}
	}
	return n
}

// EchoSentences は列ごとに「<label>は<value>です」という文を生成します
func EchoSentences(req domain.EngineRequest) []domain.Sentence {
	sentences := make([]domain.Sentence, 0, len(req.Columns))
	for _, c := range req.Columns {
		value := c.Value
		if c.ValueLabel != "" {
			value = c.ValueLabel
		}
		sentences = append(sentences, domain.Sentence{
			Sentence:        fmt.Sprintf("%sは%sです", c.Label, value),
			SourceVariables: []string{c.Code},
		})
	}
	return sentences
}

// RowGate は行ごとにエンジン呼び出しを止めておくためのゲートです
type RowGate struct {
	mu      sync.Mutex
	gates   map[int]chan struct{}
	started map[int]bool
	open    bool
}

// NewRowGate は全行を閉じた状態のゲートを作成します
func NewRowGate() *RowGate {
	return &RowGate{gates: make(map[int]chan struct{}), started: make(map[int]bool)}
}

func (g *RowGate) chanLocked(rowIndex int) chan struct{} {
	ch, ok := g.gates[rowIndex]
	if !ok {
		ch = make(chan struct{})
		if g.open {
			close(ch)
		}
		g.gates[rowIndex] = ch
	}
	return ch
}

// Wait は行のゲートが開くかctxが終わるまで待ちます
func (g *RowGate) Wait(ctx context.Context, rowIndex int) error {
	g.mu.Lock()
	g.started[rowIndex] = true
	ch := g.chanLocked(rowIndex)
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release は指定行のゲートを開けます
func (g *RowGate) Release(rowIndexes ...int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, idx := range rowIndexes {
		ch := g.chanLocked(idx)
		select {
		case <-ch:
		default:
			close(ch)
		}
	}
}

// ReleaseAll は現在と今後の全行のゲートを開けます
func (g *RowGate) ReleaseAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.open = true
	for _, ch := range g.gates {
		select {
		case <-ch:
		default:
			close(ch)
		}
	}
}

// Started はゲートに到達した行のインデックスを返します
func (g *RowGate) Started() map[int]bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	started := make(map[int]bool, len(g.started))
	for k, v := range g.started {
		started[k] = v
	}
	return started
}

// GatedEngine はゲートが開くまで待ってから文を返すMockEngineを作成します
func GatedEngine(gate *RowGate) *MockEngine {
	return &MockEngine{
		TransformFunc: func(ctx context.Context, req domain.EngineRequest) ([]domain.Sentence, error) {
			if err := gate.Wait(ctx, req.RowIndex); err != nil {
				return nil, domain.NewTransientError(err)
			}
			return EchoSentences(req), nil
		},
	}
}
