package agent

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/DarbotLM/Detris/internal/challenge"
	"github.com/DarbotLM/Detris/internal/engine"
	"github.com/DarbotLM/Detris/internal/grid"
	"github.com/DarbotLM/Detris/internal/prng"
	"github.com/DarbotLM/Detris/pkg/logger"
)

const (
	noiseDomain        = "detris/agent"
	defaultExploration = 1.0
	defaultDecay       = 0.5
	defaultNoiseScale  = 4.0
	// maxDropsPerTurn bounds how far a piece is lowered to make room for a
	// rotation that collides at its current height.
	maxDropsPerTurn = 3
)

// GreedyAgent 在每个落子点上枚举所有旋转与列，执行一步贪心评估。
// 每次尝试的探索噪声由挑战种子与尝试序号确定，Observe 之后逐步衰减。
type GreedyAgent struct {
	id         string
	weights    Weights
	decay      float64
	noiseScale float64

	mu          sync.Mutex
	exploration float64
	observed    []float64
	log         *slog.Logger
}

// Option 定义 GreedyAgent 的可选配置。
type Option func(*GreedyAgent)

// WithWeights 替换默认的棋盘评估权重。
func WithWeights(w Weights) Option {
	return func(a *GreedyAgent) {
		a.weights = w
	}
}

// WithExploration 设置初始探索强度，0 表示纯贪心。
func WithExploration(level float64) Option {
	return func(a *GreedyAgent) {
		if level >= 0 {
			a.exploration = level
		}
	}
}

// WithDecay 设置每观察到一次得分后探索强度的衰减系数。
func WithDecay(decay float64) Option {
	return func(a *GreedyAgent) {
		if decay >= 0 && decay <= 1 {
			a.decay = decay
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(a *GreedyAgent) {
		if l != nil {
			a.log = l
		}
	}
}

// NewGreedyAgent 创建一个 GreedyAgent。
func NewGreedyAgent(id string, opts ...Option) *GreedyAgent {
	a := &GreedyAgent{
		id:          id,
		weights:     DefaultWeights(),
		decay:       defaultDecay,
		noiseScale:  defaultNoiseScale,
		exploration: defaultExploration,
		log:         logger.Named("agent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// ID 返回智能体标识。
func (a *GreedyAgent) ID() string { return a.id }

// Exploration 返回当前探索强度。
func (a *GreedyAgent) Exploration() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.exploration
}

// Observe 记录一次尝试的得分并衰减探索强度。
func (a *GreedyAgent) Observe(attempt int, score float64) {
	a.mu.Lock()
	a.observed = append(a.observed, score)
	a.exploration *= a.decay
	level := a.exploration
	a.mu.Unlock()

	a.log.Debug("观察到尝试得分",
		slog.String("agent_id", a.id),
		slog.Int("attempt", attempt),
		slog.Float64("score", score),
		slog.Float64("exploration", level))
}

// Play 在挑战的动作预算内持续放置方块，直到游戏结束或再无完整落子计划可用。
func (a *GreedyAgent) Play(ctx context.Context, ch challenge.Challenge, attempt int) ([]engine.Action, error) {
	level := a.Exploration()
	noise := prng.New(ch.Seed, noiseDomain, uint64(attempt))

	state := ch.Initial
	var actions []engine.Action
	for !state.Over {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		remaining := ch.MaxMoves - len(actions)
		best, ok := a.choose(state, remaining, level, noise)
		if !ok {
			break
		}
		actions = append(actions, best.actions...)
		state = best.state
	}
	return actions, nil
}

type candidate struct {
	actions []engine.Action
	state   engine.State
	value   float64
}

// choose evaluates every (rotation, column) target reachable within budget.
func (a *GreedyAgent) choose(s engine.State, budget int, level float64, noise *prng.Stream) (candidate, bool) {
	var (
		best  candidate
		found bool
	)
	for rot := 0; rot < 4; rot++ {
		for col := 0; col < grid.Cols; col++ {
			// Draw unconditionally so the noise sequence does not depend on
			// which targets are reachable.
			jitter := (noise.Float64()*2 - 1) * level * a.noiseScale

			plan, ok := route(s, rot, col)
			if !ok || len(plan) > budget {
				continue
			}
			next, outcomes, err := engine.Run(s, plan)
			if err != nil {
				continue
			}
			last := outcomes[len(outcomes)-1]
			value := a.weights.evaluate(next.Board, len(last.Cleared), len(plan), next.Over) + jitter
			if !found || value > best.value {
				best = candidate{actions: plan, state: next, value: value}
				found = true
			}
		}
	}
	return best, found
}

// route builds the action sequence that turns the active piece rot times
// clockwise, slides it to col and hard drops it. A blocked rotation is retried
// after soft dropping.
func route(s engine.State, rot, col int) ([]engine.Action, bool) {
	var plan []engine.Action
	cur := s
	for i := 0; i < rot; i++ {
		next, _, err := engine.Apply(cur, engine.RotateCW)
		for drops := 0; err != nil && drops < maxDropsPerTurn; drops++ {
			lowered, _, derr := engine.Apply(cur, engine.SoftDrop)
			if derr != nil {
				return nil, false
			}
			plan = append(plan, engine.SoftDrop)
			cur = lowered
			next, _, err = engine.Apply(cur, engine.RotateCW)
		}
		if err != nil {
			return nil, false
		}
		plan = append(plan, engine.RotateCW)
		cur = next
	}

	step := engine.ShiftRight
	if col < cur.Active.Col {
		step = engine.ShiftLeft
	}
	for cur.Active.Col != col {
		next, _, err := engine.Apply(cur, step)
		if err != nil {
			return nil, false
		}
		plan = append(plan, step)
		cur = next
	}
	return append(plan, engine.HardDrop), true
}

// Observed 返回已观察到的各次尝试得分。
func (a *GreedyAgent) Observed() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.observed)
}
