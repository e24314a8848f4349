package service

import (
	"errors"
	"fmt"

	"github.com/guillermoBallester/tenantline/internal/core/domain"
)

var ErrAlreadyRewritten = errors.New("statement already went through the pipeline")

// Interceptor is a stage that runs after the tenancy rewrite. Stages may
// mutate the statement or reject it.
type Interceptor interface {
	Name() string
	Intercept(st *domain.Statement) error
}

// PaginationInterceptor caps SELECT row counts.
type PaginationInterceptor struct {
	MaxLimit int64
}

func (PaginationInterceptor) Name() string { return "pagination" }

func (p PaginationInterceptor) Intercept(st *domain.Statement) error {
	st.LimitRows(p.MaxLimit)
	return nil
}

// BlockAttackInterceptor rejects UPDATE and DELETE that would touch every row.
type BlockAttackInterceptor struct{}

func (BlockAttackInterceptor) Name() string { return "block_attack" }

func (BlockAttackInterceptor) Intercept(st *domain.Statement) error {
	return st.CheckFullTableWrite()
}

// WriteGuardInterceptor rejects every data-modifying statement. Used for
// demo and read-only deployments.
type WriteGuardInterceptor struct{}

func (WriteGuardInterceptor) Name() string { return "write_guard" }

func (WriteGuardInterceptor) Intercept(st *domain.Statement) error {
	return st.CheckWritable()
}

// PipelineOptions selects the stages that follow the tenancy rewrite.
type PipelineOptions struct {
	MaxLimit    int64
	BlockAttack bool
	ReadOnly    bool
}

// Stages returns the post-tenancy stages in execution order: pagination,
// then the safety guards.
func (o PipelineOptions) Stages() []Interceptor {
	stages := []Interceptor{PaginationInterceptor{MaxLimit: o.MaxLimit}}
	if o.BlockAttack {
		stages = append(stages, BlockAttackInterceptor{})
	}
	if o.ReadOnly {
		stages = append(stages, WriteGuardInterceptor{})
	}
	return stages
}

// RewriteResult describes what the pipeline did to a statement.
type RewriteResult struct {
	Original    string                    `json:"original"`
	SQL         string                    `json:"sql"`
	Kind        domain.StatementKind      `json:"kind"`
	Tables      []domain.TableRef         `json:"tables"`
	Instruction domain.RewriteInstruction `json:"instruction"`
}

// Pipeline applies the tenancy rewrite and then every stage, exactly once
// per statement. It holds no mutable state and is safe for concurrent use.
type Pipeline struct {
	policy *domain.Policy
	stages []Interceptor
}

func NewPipeline(policy *domain.Policy, stages ...Interceptor) *Pipeline {
	return &Pipeline{policy: policy, stages: stages}
}

func (p *Pipeline) Policy() *domain.Policy { return p.policy }

// Process parses sql and runs it through the pipeline.
func (p *Pipeline) Process(sql, tenant string) (*RewriteResult, error) {
	st, err := domain.Parse(sql)
	if err != nil {
		return nil, err
	}
	return p.Run(st, tenant)
}

// Run rewrites a parsed statement. A statement is accepted once; a second
// call fails with ErrAlreadyRewritten instead of stacking predicates.
func (p *Pipeline) Run(st *domain.Statement, tenant string) (*RewriteResult, error) {
	if st.Rewritten() {
		return nil, ErrAlreadyRewritten
	}
	st.MarkRewritten()

	desc, err := st.Descriptor()
	if err != nil {
		return nil, err
	}

	in, err := p.policy.Decide(desc, tenant)
	if err != nil {
		return nil, err
	}
	if err := st.Apply(in); err != nil {
		return nil, fmt.Errorf("applying %s rewrite: %w", in.Action, err)
	}

	for _, stage := range p.stages {
		if err := stage.Intercept(st); err != nil {
			return nil, fmt.Errorf("%s: %w", stage.Name(), err)
		}
	}

	out, err := st.Deparse()
	if err != nil {
		return nil, err
	}

	tables := make([]domain.TableRef, len(desc.Tables))
	for i, t := range desc.Tables {
		tables[i] = in.QualifyTable(t)
	}

	return &RewriteResult{
		Original:    st.SQL(),
		SQL:         out,
		Kind:        st.Kind(),
		Tables:      tables,
		Instruction: in,
	}, nil
}
