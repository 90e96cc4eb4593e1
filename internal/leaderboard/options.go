package leaderboard

const (
	defaultLimit = 50
	maxLimit     = 500
)

// QueryOptions 控制排名查询。
type QueryOptions struct {
	Seed    *int64
	AgentID string
	Limit   int
}

func (opts *QueryOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = defaultLimit
	}
	if opts.Limit > maxLimit {
		opts.Limit = maxLimit
	}
}

// QueryOption 修改 QueryOptions。
type QueryOption func(*QueryOptions)

// WithSeed 只返回指定挑战种子的记录。
func WithSeed(seed int64) QueryOption {
	return func(opts *QueryOptions) {
		opts.Seed = &seed
	}
}

// WithAgent 只返回指定智能体的记录。
func WithAgent(agentID string) QueryOption {
	return func(opts *QueryOptions) {
		opts.AgentID = agentID
	}
}

// WithLimit 限制返回条数。
func WithLimit(limit int) QueryOption {
	return func(opts *QueryOptions) {
		opts.Limit = limit
	}
}

func buildQueryOptions(opts []QueryOption) QueryOptions {
	options := QueryOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func (opts QueryOptions) matches(e Entry) bool {
	if opts.Seed != nil && e.Seed != *opts.Seed {
		return false
	}
	if opts.AgentID != "" && e.AgentID != opts.AgentID {
		return false
	}
	return true
}

// less 定义排名顺序：斜率降序，其次最好成绩降序，再按提交时间和 ID 升序。
func less(a, b Entry) bool {
	if a.Improvement.Slope != b.Improvement.Slope {
		return a.Improvement.Slope > b.Improvement.Slope
	}
	if a.Improvement.Best != b.Improvement.Best {
		return a.Improvement.Best > b.Improvement.Best
	}
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.Before(b.SubmittedAt)
	}
	return a.ID < b.ID
}
