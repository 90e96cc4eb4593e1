package agent

import (
	"context"
	"slices"

	"github.com/DarbotLM/Detris/internal/challenge"
	"github.com/DarbotLM/Detris/internal/engine"
)

// ScriptedAgent 按顺序回放预先给定的动作序列，超出脚本数量的尝试复用最后一条。
type ScriptedAgent struct {
	id      string
	scripts [][]engine.Action
}

// NewScriptedAgent 创建一个 ScriptedAgent。
func NewScriptedAgent(id string, scripts ...[]engine.Action) *ScriptedAgent {
	copied := make([][]engine.Action, len(scripts))
	for i, s := range scripts {
		copied[i] = slices.Clone(s)
	}
	return &ScriptedAgent{id: id, scripts: copied}
}

// ID 返回智能体标识。
func (a *ScriptedAgent) ID() string { return a.id }

// Play 返回第 attempt 条脚本。
func (a *ScriptedAgent) Play(ctx context.Context, _ challenge.Challenge, attempt int) ([]engine.Action, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(a.scripts) == 0 {
		return nil, nil
	}
	idx := min(attempt, len(a.scripts)-1)
	return slices.Clone(a.scripts[idx]), nil
}
