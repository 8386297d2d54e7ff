package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Step 一个步骤及其补偿操作
type Step struct {
	Name       string
	Execute    func(ctx context.Context) error
	Compensate func(ctx context.Context) error
	Timeout    time.Duration
	// CompensateOnFailure 步骤自身失败时也可能留下部分结果，同样需要补偿
	CompensateOnFailure bool
}

// Config 执行参数和回调
type Config struct {
	StepTimeout         time.Duration
	CompensationTimeout time.Duration
	CompensateOnFail    bool

	OnStepStart    func(step Step)
	OnStepComplete func(step Step, duration time.Duration)
	OnStepFail     func(step Step, err error)
	OnCompensate   func(step Step, err error)
}

func DefaultConfig() Config {
	return Config{
		StepTimeout:         60 * time.Second,
		CompensationTimeout: 5 * time.Minute,
		CompensateOnFail:    true,
	}
}

// CompensationError 补偿失败的步骤
type CompensationError struct {
	StepName string
	Err      error
}

// Result 执行结果
type Result struct {
	Success            bool
	CompletedSteps     []string
	FailedStep         string
	Err                error
	Compensated        []string
	CompensationErrors []CompensationError
	Duration           time.Duration
}

// Compensating 是否执行过补偿
func (r *Result) Compensating() bool {
	return len(r.Compensated) > 0 || len(r.CompensationErrors) > 0
}

// Saga 顺序执行步骤，失败时逆序补偿
type Saga struct {
	name   string
	config Config
	steps  []Step
	tracer trace.Tracer
}

func New(name string, config Config) *Saga {
	def := DefaultConfig()
	if config.StepTimeout <= 0 {
		config.StepTimeout = def.StepTimeout
	}
	if config.CompensationTimeout <= 0 {
		config.CompensationTimeout = def.CompensationTimeout
	}
	return &Saga{
		name:   name,
		config: config,
		tracer: otel.Tracer("github.com/qiniu/quizops/internal/deploy/saga"),
	}
}

func (s *Saga) AddStep(step Step) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// Execute 按顺序执行全部步骤
func (s *Saga) Execute(ctx context.Context) *Result {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "saga "+s.name)
	defer span.End()

	res := &Result{}
	var completed []Step
	for _, step := range s.steps {
		if err := ctx.Err(); err != nil {
			res.FailedStep = step.Name
			res.Err = fmt.Errorf("saga cancelled before %q: %w", step.Name, err)
			if s.config.CompensateOnFail {
				s.compensate(ctx, completed, res)
			}
			break
		}

		timeout := step.Timeout
		if timeout <= 0 {
			timeout = s.config.StepTimeout
		}
		if err := s.executeStep(ctx, step, timeout); err != nil {
			res.FailedStep = step.Name
			res.Err = fmt.Errorf("step %q failed: %w", step.Name, err)
			if s.config.OnStepFail != nil {
				s.config.OnStepFail(step, err)
			}
			if s.config.CompensateOnFail {
				toCompensate := completed
				if step.CompensateOnFailure {
					toCompensate = append(toCompensate, step)
				}
				s.compensate(ctx, toCompensate, res)
			}
			break
		}
		completed = append(completed, step)
		res.CompletedSteps = append(res.CompletedSteps, step.Name)
	}

	res.Success = res.Err == nil
	res.Duration = time.Since(start)
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}
	return res
}

func (s *Saga) executeStep(ctx context.Context, step Step, timeout time.Duration) error {
	if s.config.OnStepStart != nil {
		s.config.OnStepStart(step)
	}
	stepCtx, span := s.tracer.Start(ctx, "step "+step.Name, trace.WithAttributes(attribute.String("saga.step", step.Name)))
	defer span.End()
	stepCtx, cancel := context.WithTimeout(stepCtx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- step.Execute(stepCtx)
	}()

	var err error
	select {
	case err = <-done:
	case <-stepCtx.Done():
		// 等待步骤自身退出，补偿不能与仍在运行的步骤并发
		log.Warn().Str("step", step.Name).Dur("timeout", timeout).Msg("step deadline reached, waiting for it to stop")
		<-done
		err = fmt.Errorf("step timed out after %v: %w", timeout, stepCtx.Err())
	}

	duration := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn().Err(err).Str("step", step.Name).Dur("duration", duration).Msg("step failed")
		return err
	}
	log.Info().Str("step", step.Name).Dur("duration", duration).Msg("step completed")
	if s.config.OnStepComplete != nil {
		s.config.OnStepComplete(step, duration)
	}
	return nil
}

// compensate 使用独立的 context，调用方取消后补偿仍会执行
func (s *Saga) compensate(ctx context.Context, steps []Step, res *Result) {
	if len(steps) == 0 {
		return
	}
	log.Warn().Int("steps", len(steps)).Msg("compensating completed steps")

	base := trace.ContextWithSpan(context.Background(), trace.SpanFromContext(ctx))
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		if step.Compensate == nil {
			continue
		}

		stepCtx, span := s.tracer.Start(base, "compensate "+step.Name)
		stepCtx, cancel := context.WithTimeout(stepCtx, s.config.CompensationTimeout)
		err := step.Compensate(stepCtx)
		cancel()

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Error().Err(err).Str("step", step.Name).Msg("compensation failed")
			res.CompensationErrors = append(res.CompensationErrors, CompensationError{StepName: step.Name, Err: err})
		} else {
			log.Info().Str("step", step.Name).Msg("step compensated")
			res.Compensated = append(res.Compensated, step.Name)
		}
		span.End()
		if s.config.OnCompensate != nil {
			s.config.OnCompensate(step, err)
		}
	}
}
